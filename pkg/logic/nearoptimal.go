package logic

import (
	"math"
	"time"

	"github.com/jdeisenh/abrplay/pkg/metrics"
	"github.com/jdeisenh/abrplay/pkg/playlist"
	"github.com/rs/zerolog"
)

const (
	nearOptimalDefaultMin    = 6 * time.Second
	nearOptimalDefaultTarget = 30 * time.Second
)

type nearOptimalContext struct {
	bufferingMin     time.Duration
	bufferingTarget  time.Duration
	bufferingLevel   time.Duration
	lastDownloadRate uint64
	average          *MovingAverage
}

// bolaParams are the control parameters derived from the buffer bounds
type bolaParams struct {
	gamma float64
	vd    float64
	umin  float64
}

func utility(bps uint64) float64 {
	return math.Log(float64(max(bps, 1)))
}

func newBolaParams(minBps, maxBps uint64, bufMin, bufTarget time.Duration) bolaParams {
	umin, umax := utility(minBps), utility(maxBps)
	span := bufTarget.Seconds()/bufMin.Seconds() - 1
	if span <= 0 || math.IsNaN(span) || math.IsInf(span, 0) {
		span = 1
	}
	gamma := 1 + (umax-umin)/span
	return bolaParams{
		gamma: gamma,
		vd:    (bufMin.Seconds() - 1) / (umin + gamma),
		umin:  umin,
	}
}

// score of representation with bps at buffer level q
func (b bolaParams) score(bps uint64, q time.Duration) float64 {
	return (b.vd*(utility(bps)+b.gamma-b.umin) - q.Seconds()) / float64(max(bps, 1))
}

// NearOptimal maximizes the buffer based utility of each choice (BOLA).
// Quality increases are capped by the measured bandwidth.
type NearOptimal struct {
	constraints
	sharedState[nearOptimalContext]

	logger     zerolog.Logger
	currentBps uint64
}

func NewNearOptimal(logger zerolog.Logger) *NearOptimal {
	n := &NearOptimal{logger: logger}
	n.init(func() *nearOptimalContext {
		return &nearOptimalContext{
			bufferingMin:    nearOptimalDefaultMin,
			bufferingTarget: nearOptimalDefaultTarget,
			average:         NewMovingAverage(defaultObservations),
		}
	}, logger)
	return n
}

func (n *NearOptimal) NextRepresentation(set *playlist.AdaptationSet, prev *playlist.Representation) *playlist.Representation {
	if set == nil {
		return nil
	}
	sel := n.selector()

	n.mu.Lock()
	ctx, ok := n.streams[set.ID]
	if !ok {
		n.mu.Unlock()
		return orFirst(set, sel.Highest(set))
	}
	c := *ctx
	bps := n.available(n.currentBps, prev)
	n.mu.Unlock()

	lowest, highest := sel.Lowest(set), sel.Highest(set)
	if lowest == nil || highest == nil {
		return orFirst(set, nil)
	}
	if prev == nil {
		return orFirst(set, sel.Select(set, bps))
	}

	params := newBolaParams(lowest.Bandwidth, highest.Bandwidth, c.bufferingMin, c.bufferingTarget)
	var m *playlist.Representation
	best := math.Inf(-1)
	for _, rep := range set.Representations {
		if !sel.fits(rep) {
			continue
		}
		// Later representations win ties
		if s := params.score(rep.Bandwidth, c.bufferingLevel); s >= best {
			best = s
			m = rep
		}
	}

	if m.Bandwidth > prev.Bandwidth {
		mp := sel.Select(set, bps)
		if mp != nil && mp.Bandwidth < m.Bandwidth {
			m = mp
		}
		if m.Bandwidth < prev.Bandwidth {
			m = prev
		}
	}

	n.logger.Debug().Msgf("%s: level %s bps %d -> %s", set.ID, playlist.Round(c.bufferingLevel), bps, m.ID)
	return m
}

func (n *NearOptimal) UpdateDownloadRate(id playlist.ID, size uint64, elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}
	bps := float64(size) * 8 / elapsed.Seconds()
	n.mu.Lock()
	defer n.mu.Unlock()
	ctx, ok := n.streams[id]
	if !ok {
		return
	}
	ctx.lastDownloadRate = uint64(ctx.average.Push(bps))
	n.currentBps = 0
	for _, c := range n.streams {
		n.currentBps = max(n.currentBps, c.lastDownloadRate)
	}
	metrics.EstimatedBandwidth.Set(float64(n.currentBps))
}

func (n *NearOptimal) TrackerEvent(ev Event) {
	n.trackerEvent(ev, n)
}

func (n *NearOptimal) onBufferingLevelChanged(ctx *nearOptimalContext, ev BufferingLevelEvent) {
	ctx.bufferingLevel = ev.Current
	if ev.Minimum > 0 {
		ctx.bufferingMin = ev.Minimum
	}
	if ev.Target > 0 {
		ctx.bufferingTarget = ev.Target
	}
}

func (n *NearOptimal) onSegmentChanged(*nearOptimalContext, SegmentChangeEvent) {}
