package playlist

import (
	"sort"
	"sync"
	"time"
)

// MergeMode selects how refreshed segment lists are matched with the known ones
type MergeMode int

const (
	// Numbers are stable across refreshes (HLS media sequence)
	MergeByNumber MergeMode = iota
	// Times are stable across refreshes (DASH SegmentTimeline)
	MergeByTime
)

// Representation is one encoding of a track. The descriptive fields are
// immutable, the segment index is guarded by mu.
type Representation struct {
	ID        ID
	Bandwidth uint64
	Width     int
	Height    int
	Codecs    []string
	MimeType  string
	Format    StreamFormat

	mu       sync.RWMutex
	init     *Segment
	segments []Segment
	template *Template
	live     bool
	mode     MergeMode
}

func NewRepresentation(id ID, bandwidth uint64) *Representation {
	return &Representation{ID: id, Bandwidth: bandwidth}
}

// SetSegments installs an explicit index. Segments must be ordered by number.
func (r *Representation) SetSegments(init *Segment, segments []Segment, live bool, mode MergeMode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.init = init
	r.segments = segments
	r.template = nil
	r.live = live
	r.mode = mode
}

// SetTemplate installs a number based index
func (r *Representation) SetTemplate(init *Segment, t *Template) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.replacer = NewPathReplacer(t.Media)
	r.init = init
	r.template = t
	r.segments = nil
	r.live = t.Live
}

// Live reports whether segments may still be appended
func (r *Representation) Live() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.live
}

func (r *Representation) InitSegment() *Segment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.init == nil {
		return nil
	}
	s := *r.init
	return &s
}

// Segments returns a copy of the explicit segments
func (r *Representation) Segments() []Segment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.template != nil {
		first, last, ok := r.template.window()
		if !ok {
			return nil
		}
		out := make([]Segment, 0, last-first+1)
		for n := first; n <= last; n++ {
			out = append(out, r.template.segment(n))
		}
		return out
	}
	return append([]Segment(nil), r.segments...)
}

// Segment returns segment n. Inside a gap of the index the next
// available segment is returned, its Number tells the caller.
func (r *Representation) Segment(n uint64) (Segment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t := r.template; t != nil {
		first, last, ok := t.window()
		switch {
		case !ok && t.Live:
			return Segment{}, ErrNotYetAvailable
		case !ok:
			return Segment{}, ErrEmptySegmentList
		case n < first:
			return Segment{}, ErrExpired
		case n > last:
			if t.Live && !t.ended(n) {
				return Segment{}, ErrNotYetAvailable
			}
			return Segment{}, ErrEndOfList
		}
		return t.segment(n), nil
	}
	if len(r.segments) == 0 {
		if r.live {
			return Segment{}, ErrNotYetAvailable
		}
		return Segment{}, ErrEmptySegmentList
	}
	if n < r.segments[0].Number {
		return Segment{}, ErrExpired
	}
	i := sort.Search(len(r.segments), func(i int) bool { return r.segments[i].Number >= n })
	if i == len(r.segments) {
		if r.live {
			return Segment{}, ErrNotYetAvailable
		}
		return Segment{}, ErrEndOfList
	}
	return r.segments[i], nil
}

// SegmentAt returns the segment containing t, relative to the period start
func (r *Representation) SegmentAt(t time.Duration) (Segment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if tmpl := r.template; tmpl != nil {
		first, last, ok := tmpl.window()
		if !ok {
			if tmpl.Live {
				return Segment{}, ErrNotYetAvailable
			}
			return Segment{}, ErrEmptySegmentList
		}
		n := tmpl.numberAt(t)
		switch {
		case n < first:
			return Segment{}, ErrExpired
		case n > last:
			if tmpl.Live && !tmpl.ended(n) {
				return Segment{}, ErrNotYetAvailable
			}
			return Segment{}, ErrEndOfList
		}
		return tmpl.segment(n), nil
	}
	if len(r.segments) == 0 {
		return Segment{}, ErrEmptySegmentList
	}
	if t < r.segments[0].Start {
		if r.live {
			return Segment{}, ErrExpired
		}
		return r.segments[0], nil
	}
	i := sort.Search(len(r.segments), func(i int) bool { return r.segments[i].End() > t })
	if i == len(r.segments) {
		if r.live {
			return Segment{}, ErrNotYetAvailable
		}
		return Segment{}, ErrEndOfList
	}
	return r.segments[i], nil
}

// NumberRange returns the first and last available segment numbers
func (r *Representation) NumberRange() (first, last uint64, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.template != nil {
		return r.template.window()
	}
	if len(r.segments) == 0 {
		return 0, 0, false
	}
	return r.segments[0].Number, r.segments[len(r.segments)-1].Number, true
}

// PlaybackRange returns start and end time of the available segments
func (r *Representation) PlaybackRange() (start, end time.Duration, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t := r.template; t != nil {
		first, last, ok := t.window()
		if !ok {
			return 0, 0, false
		}
		return t.segment(first).Start, t.segment(last).End(), true
	}
	if len(r.segments) == 0 {
		return 0, 0, false
	}
	return r.segments[0].Start, r.segments[len(r.segments)-1].End(), true
}

// SegmentCount is the number of available segments
func (r *Representation) SegmentCount() int {
	first, last, ok := r.NumberRange()
	if !ok {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.template != nil {
		return int(last - first + 1)
	}
	return len(r.segments)
}

// TranslateNumber maps segment n of from to the segment of r covering the same time
func (r *Representation) TranslateNumber(n uint64, from *Representation) uint64 {
	if from == nil || from == r {
		return n
	}
	seg, err := from.Segment(n)
	if err != nil {
		return n
	}
	own, err := r.SegmentAt(seg.Start)
	if err != nil {
		return n
	}
	return own.Number
}

// MinAheadTime is the duration of the available segments following n
func (r *Representation) MinAheadTime(n uint64) time.Duration {
	_, end, ok := r.PlaybackRange()
	if !ok {
		return 0
	}
	seg, err := r.Segment(n)
	if err != nil || seg.End() >= end {
		return 0
	}
	return end - seg.End()
}
