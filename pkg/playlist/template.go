package playlist

import (
	"time"
)

// Template is a number based segment index (SegmentTemplate with @duration).
// Live templates derive their window from the wall clock.
type Template struct {
	Media                  string // $Number$ and $Time$ still to be expanded
	RepresentationID       string
	Bandwidth              uint64
	Timescale              uint64
	Duration               uint64 // segment duration in timescale units
	StartNumber            uint64
	PresentationTimeOffset uint64

	Live bool
	// Wall clock time of the period start
	Availability   time.Time
	Window         time.Duration // time shift buffer depth, 0 for unlimited
	PeriodDuration time.Duration // 0 if open ended
	Clock          func() time.Time

	replacer *PathReplacer
}

func (t *Template) segmentDuration() time.Duration {
	if t.Timescale == 0 {
		return time.Duration(t.Duration) * time.Second
	}
	return TLP2Duration(int64(t.Duration), t.Timescale)
}

func (t *Template) now() time.Time {
	if t.Clock != nil {
		return t.Clock()
	}
	return time.Now()
}

// count is the number of segments of a bounded period
func (t *Template) count() uint64 {
	d := t.segmentDuration()
	if t.PeriodDuration <= 0 || d <= 0 {
		return 0
	}
	return uint64((t.PeriodDuration + d - 1) / d)
}

// window returns the first and last available segment number
func (t *Template) window() (first, last uint64, ok bool) {
	d := t.segmentDuration()
	if d <= 0 {
		return 0, 0, false
	}
	total := t.count()
	if !t.Live {
		if total == 0 {
			return 0, 0, false
		}
		return t.StartNumber, t.StartNumber + total - 1, true
	}
	elapsed := t.now().Sub(t.Availability)
	if elapsed < d {
		return 0, 0, false
	}
	complete := uint64(elapsed / d)
	if total > 0 && complete > total {
		complete = total
	}
	last = t.StartNumber + complete - 1
	first = t.StartNumber
	if t.Window > 0 {
		if inWindow := uint64(t.Window / d); inWindow > 0 && complete > inWindow {
			first = last - inWindow + 1
		}
	}
	return first, last, true
}

// ended reports whether n lies beyond the end of a bounded period
func (t *Template) ended(n uint64) bool {
	total := t.count()
	return total > 0 && n >= t.StartNumber+total
}

func (t *Template) segment(n uint64) Segment {
	replacer := t.replacer
	if replacer == nil {
		replacer = NewPathReplacer(t.Media)
	}
	idx := n - t.StartNumber
	d := t.segmentDuration()
	return Segment{
		Number:   n,
		Start:    time.Duration(idx) * d,
		Duration: d,
		URL:      replacer.ToPath(idx*t.Duration+t.PresentationTimeOffset, n, t.RepresentationID, t.Bandwidth),
	}
}

func (t *Template) numberAt(at time.Duration) uint64 {
	d := t.segmentDuration()
	if at < 0 || d <= 0 {
		return t.StartNumber
	}
	return t.StartNumber + uint64(at/d)
}
