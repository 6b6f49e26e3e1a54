package playlist

import (
	"time"
)

// Tolerance when matching segment times across refreshes
const mergeTimeTolerance = time.Millisecond

// AdaptationSetByID finds id in the list of Adaptationsets
func AdaptationSetByID(sets []*AdaptationSet, id ID) *AdaptationSet {
	for _, s := range sets {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// PeriodByID finds id in the list of Periods
func PeriodByID(periods []*Period, id ID) *Period {
	for _, p := range periods {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// RepresentationByID finds id in the list of Representations
func RepresentationByID(reps []*Representation, id ID) *Representation {
	for _, r := range reps {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// Merge takes over a freshly parsed playlist. Known periods, sets and
// representations keep their identity and receive the new segments, new
// periods are appended. Sets and representations appearing in a known
// period are ignored since streams are bound to the period layout.
func (p *Playlist) Merge(updated *Playlist) {
	opts := updated.Options()
	newPeriods := updated.Periods()

	p.mu.Lock()
	p.setOptions(opts)
	known := append([]*Period(nil), p.periods...)
	p.mu.Unlock()

	for i, up := range newPeriods {
		cur := PeriodByID(known, up.ID)
		if cur == nil && up.ID == "" && i < len(known) {
			// No ID: Use same index
			cur = known[i]
		}
		if cur == nil {
			p.AddPeriod(up)
			continue
		}
		cur.merge(up)
	}
}

func (p *Period) merge(updated *Period) {
	if updated.Duration > 0 {
		p.Duration = updated.Duration
	}
	for i, up := range updated.AdaptationSets {
		cur := p.SetByID(up.ID)
		if cur == nil && up.ID == "" && i < len(p.AdaptationSets) {
			cur = p.AdaptationSets[i]
		}
		if cur == nil {
			continue
		}
		for _, rep := range up.Representations {
			if own := cur.RepresentationByID(rep.ID); own != nil {
				own.Merge(rep)
			}
		}
	}
}

// Merge takes over the index of a refreshed copy of this representation
func (r *Representation) Merge(updated *Representation) {
	updated.mu.RLock()
	init, tmpl, live := updated.init, updated.template, updated.live
	segments := append([]Segment(nil), updated.segments...)
	updated.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.live = live
	if init != nil {
		r.init = init
	}
	if tmpl != nil {
		copied := *tmpl
		copied.replacer = NewPathReplacer(copied.Media)
		r.template = &copied
		r.segments = nil
		return
	}
	if len(r.segments) == 0 || len(segments) == 0 {
		if len(segments) > 0 {
			r.segments = segments
		}
		return
	}
	switch r.mode {
	case MergeByTime:
		r.mergeByTime(segments)
	default:
		r.mergeByNumber(segments)
	}
}

func (r *Representation) mergeByTime(segments []Segment) {
	last := r.segments[len(r.segments)-1]
	for _, s := range segments {
		if s.Start+mergeTimeTolerance < last.End() {
			continue
		}
		s.Number = last.Number + 1
		r.segments = append(r.segments, s)
		last = s
	}
}

func (r *Representation) mergeByNumber(segments []Segment) {
	last := r.segments[len(r.segments)-1]
	// New lists restart their time base, shift onto ours
	offset := TimeInvalid
	for _, s := range segments {
		if own, ok := r.ownByNumber(s.Number); ok {
			offset = own.Start - s.Start
			break
		}
	}
	for _, s := range segments {
		if s.Number <= last.Number {
			continue
		}
		if offset == TimeInvalid {
			offset = last.End() - s.Start
		}
		s.Start += offset
		r.segments = append(r.segments, s)
		last = s
	}
}

func (r *Representation) ownByNumber(n uint64) (Segment, bool) {
	for i := len(r.segments) - 1; i >= 0; i-- {
		if r.segments[i].Number == n {
			return r.segments[i], true
		}
		if r.segments[i].Number < n {
			break
		}
	}
	return Segment{}, false
}

// PruneBefore drops segments ending before t, relative to the period start.
// The last segment is always kept. Returns the number of dropped segments.
func (r *Representation) PruneBefore(t time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.expiredLocked(t)
	if n > 0 {
		r.segments = append([]Segment(nil), r.segments[n:]...)
	}
	return n
}

// ExpiredBefore counts the segments PruneBefore(t) would drop
func (r *Representation) ExpiredBefore(t time.Duration) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.expiredLocked(t)
}

func (r *Representation) expiredLocked(t time.Duration) int {
	n := 0
	for n < len(r.segments)-1 && r.segments[n].End() <= t {
		n++
	}
	return n
}

// PruneBefore drops the segments of all periods ending before the
// presentation time t
func (p *Playlist) PruneBefore(t time.Duration) int {
	dropped := 0
	p.forEachRepresentation(func(period *Period, rep *Representation) {
		dropped += rep.PruneBefore(t - period.Start)
	})
	return dropped
}

// ExpiredBefore returns the largest count of segments ending before the
// presentation time t in any representation
func (p *Playlist) ExpiredBefore(t time.Duration) int {
	most := 0
	p.forEachRepresentation(func(period *Period, rep *Representation) {
		most = max(most, rep.ExpiredBefore(t-period.Start))
	})
	return most
}

func (p *Playlist) forEachRepresentation(action func(*Period, *Representation)) {
	for _, period := range p.Periods() {
		for _, set := range period.AdaptationSets {
			for _, rep := range set.Representations {
				action(period, rep)
			}
		}
	}
}
