package logic

import (
	"time"

	"github.com/jdeisenh/abrplay/pkg/metrics"
	"github.com/jdeisenh/abrplay/pkg/playlist"
	"github.com/rs/zerolog"
)

// Downloads are accumulated for at least this long per observation
const rateObservationWindow = 250 * time.Millisecond

// RateBased estimates the bandwidth from the download rate of all streams
// and selects the best representation fitting into it.
type RateBased struct {
	constraints
	sharedState[struct{}]

	logger     zerolog.Logger
	average    *MovingAverage
	bpsAvg     uint64
	currentBps uint64
	dlSize     uint64
	dlLength   time.Duration
}

func NewRateBased(logger zerolog.Logger) *RateBased {
	r := &RateBased{
		logger:  logger,
		average: NewMovingAverage(defaultObservations),
	}
	r.init(func() *struct{} { return &struct{}{} }, logger)
	return r
}

func (r *RateBased) NextRepresentation(set *playlist.AdaptationSet, prev *playlist.Representation) *playlist.Representation {
	if set == nil {
		return nil
	}
	r.mu.Lock()
	avail := r.available(r.currentBps, prev)
	r.mu.Unlock()

	rep := r.selector().Select(set, avail)
	if rep == nil {
		rep = r.selector().Highest(set)
	}
	return orFirst(set, rep)
}

func (r *RateBased) UpdateDownloadRate(_ playlist.ID, size uint64, elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dlLength += elapsed
	r.dlSize += size
	if r.dlLength < rateObservationWindow {
		return
	}

	bps := float64(r.dlSize) * 8 / r.dlLength.Seconds()
	r.bpsAvg = uint64(r.average.Push(bps))
	r.currentBps = r.bpsAvg * 3 / 4
	r.dlSize = 0
	r.dlLength = 0

	r.logger.Debug().Msgf("Rate %d bps, average %d, usable %d, used %d", uint64(bps), r.bpsAvg, r.currentBps, r.usedBps)
	metrics.EstimatedBandwidth.Set(float64(r.currentBps))
}

func (r *RateBased) TrackerEvent(ev Event) {
	r.trackerEvent(ev, nil)
}

// CurrentBps is the usable bandwidth estimate
func (r *RateBased) CurrentBps() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentBps
}
