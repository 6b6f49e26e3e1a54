package logic

import (
	"sync"
	"time"

	"github.com/jdeisenh/abrplay/pkg/playlist"
)

// FixedRate selects the best representation below a constant rate
type FixedRate struct {
	constraints
	bps uint64
}

func NewFixedRate(bps uint64) *FixedRate {
	return &FixedRate{bps: bps}
}

func (f *FixedRate) NextRepresentation(set *playlist.AdaptationSet, _ *playlist.Representation) *playlist.Representation {
	return orFirst(set, f.selector().Select(set, f.bps))
}

func (f *FixedRate) UpdateDownloadRate(playlist.ID, uint64, time.Duration) {}
func (f *FixedRate) TrackerEvent(Event)                                     {}

type AlwaysLowest struct {
	constraints
}

func NewAlwaysLowest() *AlwaysLowest {
	return &AlwaysLowest{}
}

func (a *AlwaysLowest) NextRepresentation(set *playlist.AdaptationSet, _ *playlist.Representation) *playlist.Representation {
	return orFirst(set, a.selector().Lowest(set))
}

func (a *AlwaysLowest) UpdateDownloadRate(playlist.ID, uint64, time.Duration) {}
func (a *AlwaysLowest) TrackerEvent(Event)                                     {}

type AlwaysBest struct {
	constraints
}

func NewAlwaysBest() *AlwaysBest {
	return &AlwaysBest{}
}

func (a *AlwaysBest) NextRepresentation(set *playlist.AdaptationSet, _ *playlist.Representation) *playlist.Representation {
	return orFirst(set, a.selector().Highest(set))
}

func (a *AlwaysBest) UpdateDownloadRate(playlist.ID, uint64, time.Duration) {}
func (a *AlwaysBest) TrackerEvent(Event)                                     {}

// Number of selections per representation
const roundRobinQuantum = 2

// RoundRobin cycles through all representations within the resolution
// bounds, for testing switches
type RoundRobin struct {
	constraints
	mu    sync.Mutex
	count int
}

func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

func (r *RoundRobin) NextRepresentation(set *playlist.AdaptationSet, _ *playlist.Representation) *playlist.Representation {
	if set == nil || len(set.Representations) == 0 {
		return nil
	}
	sel := r.selector()
	var reps []*playlist.Representation
	for _, rep := range set.Representations {
		if sel.fits(rep) {
			reps = append(reps, rep)
		}
	}
	if len(reps) == 0 {
		return orFirst(set, nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := (r.count / roundRobinQuantum) % len(reps)
	r.count++
	return reps[idx]
}

func (r *RoundRobin) UpdateDownloadRate(playlist.ID, uint64, time.Duration) {}
func (r *RoundRobin) TrackerEvent(Event)                                     {}
