package logic

import (
	"sync"

	"github.com/jdeisenh/abrplay/pkg/metrics"
	"github.com/jdeisenh/abrplay/pkg/playlist"
	"github.com/rs/zerolog"
)

// contextHandler receives the per stream events of feedback driven logics
type contextHandler[T any] interface {
	onBufferingLevelChanged(ctx *T, ev BufferingLevelEvent)
	onSegmentChanged(ctx *T, ev SegmentChangeEvent)
}

// sharedState is the state one logic instance keeps for all its streams:
// the bandwidth committed by the selected representations and a context
// per buffering stream. mu also guards the fields of the embedding logic.
type sharedState[T any] struct {
	mu         sync.Mutex
	usedBps    uint64
	streams    map[playlist.ID]*T
	newContext func() *T
	ledgerLog  zerolog.Logger
}

func (s *sharedState[T]) init(newContext func() *T, logger zerolog.Logger) {
	s.streams = make(map[playlist.ID]*T)
	s.newContext = newContext
	s.ledgerLog = logger
}

// trackerEvent dispatches ev, unknown streams are ignored
func (s *sharedState[T]) trackerEvent(ev Event, h contextHandler[T]) {
	switch e := ev.(type) {
	case SwitchingEvent:
		s.onSwitch(e.Prev, e.Next)
	case BufferingStateEvent:
		s.onBufferingStateChanged(e.ID, e.Enabled)
	case BufferingLevelEvent:
		if h == nil {
			return
		}
		s.mu.Lock()
		if ctx, ok := s.streams[e.ID]; ok {
			h.onBufferingLevelChanged(ctx, e)
		}
		s.mu.Unlock()
	case SegmentChangeEvent:
		if h == nil {
			return
		}
		s.mu.Lock()
		if ctx, ok := s.streams[e.ID]; ok {
			h.onSegmentChanged(ctx, e)
		}
		s.mu.Unlock()
	}
}

func (s *sharedState[T]) onSwitch(prev, next *playlist.Representation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev != nil {
		if prev.Bandwidth > s.usedBps {
			s.ledgerLog.Warn().Msgf("Releasing %s (%d bps) with only %d bps committed", prev.ID, prev.Bandwidth, s.usedBps)
		}
		s.usedBps -= min(s.usedBps, prev.Bandwidth)
	}
	if next != nil {
		s.usedBps += next.Bandwidth
	}
	metrics.CommittedBandwidth.Set(float64(s.usedBps))
}

func (s *sharedState[T]) onBufferingStateChanged(id playlist.ID, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !enabled {
		delete(s.streams, id)
		return
	}
	if _, ok := s.streams[id]; !ok {
		s.streams[id] = s.newContext()
	}
}

// available is the bandwidth a stream may spend: the estimate minus what
// the other streams committed. Must be called with mu held.
func (s *sharedState[T]) available(estimate uint64, prev *playlist.Representation) uint64 {
	avail := estimate
	if prev != nil {
		avail += prev.Bandwidth
	}
	if avail > s.usedBps {
		return avail - s.usedBps
	}
	return 0
}

// UsedBps is the sum of the bandwidth of the selected representations
func (s *sharedState[T]) UsedBps() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usedBps
}
