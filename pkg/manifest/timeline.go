package manifest

import (
	"github.com/jdeisenh/abrplay/pkg/go-mpd"
)

// timelineRange gets first and last time from SegmentTimeline, in
// timescale units
func timelineRange(stl *mpd.SegmentTimeline, end uint64) (from, to uint64) {
	first := true
	for t, d := range timelineAll(stl, end) {
		if first {
			from, first = t, false
		}
		to = t + d
	}
	return
}

// timelineAll walks a SegmentTimeline S chain, returning time and
// duration in each step. A negative repeat count lasts until the next S
// element or until end, the end of the period in timescale units (0 if
// unknown).
func timelineAll(stl *mpd.SegmentTimeline, end uint64) func(func(t, d uint64) bool) {
	return func(yield func(t, d uint64) bool) {
		var ct uint64
		for i, s := range stl.S {
			if s.T != nil {
				ct = *s.T
			}
			if s.D == 0 {
				continue
			}
			var repeat int64
			if s.R != nil {
				repeat = *s.R
			}
			if repeat < 0 {
				until := end
				if i+1 < len(stl.S) && stl.S[i+1].T != nil {
					until = *stl.S[i+1].T
				}
				repeat = 0
				if until > ct {
					repeat = int64((until-ct+s.D-1)/s.D) - 1
				}
			}
			for r := int64(0); r <= repeat; r++ {
				if !yield(ct, s.D) {
					return
				}
				ct += s.D
			}
		}
	}
}
