package logic

import (
	"time"

	"github.com/jdeisenh/abrplay/pkg/metrics"
	"github.com/jdeisenh/abrplay/pkg/playlist"
	"github.com/rs/zerolog"
)

// Segments downloaded before the buffer feedback is trusted
const predictiveWarmup = 3

type predictiveStats struct {
	segments         int
	bufferingLevel   time.Duration
	bufferingTarget  time.Duration
	lastDownloadRate uint64
	lastDuration     time.Duration
	average          *MovingAverage
}

func (s *predictiveStats) starting() bool {
	return s.segments < predictiveWarmup || s.lastDownloadRate == 0
}

func (s *predictiveStats) bufferRatio() float64 {
	if s.bufferingTarget <= 0 {
		return 0
	}
	return float64(s.bufferingLevel) / float64(s.bufferingTarget)
}

// Predictive steers on the buffer fill ratio of each stream: a full
// buffer allows to climb, a draining one forces to step down.
type Predictive struct {
	constraints
	sharedState[predictiveStats]

	logger zerolog.Logger
}

func NewPredictive(logger zerolog.Logger) *Predictive {
	p := &Predictive{logger: logger}
	p.init(func() *predictiveStats {
		return &predictiveStats{average: NewMovingAverage(defaultObservations)}
	}, logger)
	return p
}

func (p *Predictive) NextRepresentation(set *playlist.AdaptationSet, prev *playlist.Representation) *playlist.Representation {
	if set == nil {
		return nil
	}
	sel := p.selector()

	p.mu.Lock()
	defer p.mu.Unlock()
	stats, ok := p.streams[set.ID]
	if !ok {
		return orFirst(set, sel.Highest(set))
	}

	var maxRate uint64
	for _, s := range p.streams {
		maxRate = max(maxRate, s.lastDownloadRate)
	}
	avail := p.available(maxRate, prev)
	ratio := stats.bufferRatio()

	var rep *playlist.Representation
	switch {
	case stats.starting():
		rep = sel.Highest(set)
	case prev == nil:
		rep = sel.Select(set, avail)
	case ratio > 0.8:
		// Healthy buffer: never below the current quality
		rep = sel.Select(set, max(avail, prev.Bandwidth+1))
	case ratio > 0.5:
		rep = prev
	case ratio > 2*stats.lastDuration.Seconds():
		rep = sel.Lower(set, prev)
	default:
		rep = sel.Select(set, uint64(float64(avail)*ratio))
	}

	if rep != nil {
		p.logger.Debug().Msgf("%s: ratio %.2f avail %d -> %s", set.ID, ratio, avail, rep.ID)
	}
	return orFirst(set, rep)
}

func (p *Predictive) UpdateDownloadRate(id playlist.ID, size uint64, elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}
	bps := float64(size) * 8 / elapsed.Seconds()
	p.mu.Lock()
	defer p.mu.Unlock()
	if stats, ok := p.streams[id]; ok {
		stats.lastDownloadRate = uint64(stats.average.Push(bps))
		metrics.EstimatedBandwidth.Set(float64(stats.lastDownloadRate))
	}
}

func (p *Predictive) TrackerEvent(ev Event) {
	p.trackerEvent(ev, p)
}

func (p *Predictive) onBufferingLevelChanged(stats *predictiveStats, ev BufferingLevelEvent) {
	stats.bufferingLevel = ev.Current
	stats.bufferingTarget = ev.Target
}

func (p *Predictive) onSegmentChanged(stats *predictiveStats, ev SegmentChangeEvent) {
	stats.lastDuration = ev.Duration
	stats.segments++
}
