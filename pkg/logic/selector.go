package logic

import (
	"math"

	"github.com/jdeisenh/abrplay/pkg/playlist"
)

// RepresentationSelector picks representations of an adaptation set whose
// representations are sorted by ascending bandwidth. A zero maximum means
// unconstrained, a zero representation dimension passes any constraint.
type RepresentationSelector struct {
	maxWidth  int
	maxHeight int
}

func NewRepresentationSelector(maxWidth, maxHeight int) RepresentationSelector {
	return RepresentationSelector{maxWidth: maxWidth, maxHeight: maxHeight}
}

func (s RepresentationSelector) fits(rep *playlist.Representation) bool {
	if s.maxWidth > 0 && rep.Width > s.maxWidth {
		return false
	}
	if s.maxHeight > 0 && rep.Height > s.maxHeight {
		return false
	}
	return true
}

// Lowest returns the lowest bandwidth representation within the bounds
func (s RepresentationSelector) Lowest(set *playlist.AdaptationSet) *playlist.Representation {
	if set == nil {
		return nil
	}
	for _, rep := range set.Representations {
		if s.fits(rep) {
			return rep
		}
	}
	return nil
}

// Highest returns the highest bandwidth representation within the bounds
func (s RepresentationSelector) Highest(set *playlist.AdaptationSet) *playlist.Representation {
	return s.Select(set, math.MaxUint64)
}

// Higher returns the next better representation, rep itself at the top
func (s RepresentationSelector) Higher(set *playlist.AdaptationSet, rep *playlist.Representation) *playlist.Representation {
	if set == nil || rep == nil {
		return rep
	}
	for _, r := range set.Representations {
		if r.Bandwidth > rep.Bandwidth && s.fits(r) {
			return r
		}
	}
	return rep
}

// Lower returns the next worse representation, rep itself at the bottom
func (s RepresentationSelector) Lower(set *playlist.AdaptationSet, rep *playlist.Representation) *playlist.Representation {
	if set == nil || rep == nil {
		return rep
	}
	for i := len(set.Representations) - 1; i >= 0; i-- {
		r := set.Representations[i]
		if r.Bandwidth < rep.Bandwidth && s.fits(r) {
			return r
		}
	}
	return rep
}

// Select returns the best representation with a bandwidth below bps,
// the lowest one if none is.
func (s RepresentationSelector) Select(set *playlist.AdaptationSet, bps uint64) *playlist.Representation {
	if set == nil {
		return nil
	}
	var best *playlist.Representation
	for _, rep := range set.Representations {
		if rep.Bandwidth >= bps || !s.fits(rep) {
			continue
		}
		if best == nil || rep.Bandwidth >= best.Bandwidth {
			best = rep
		}
	}
	if best == nil {
		return s.Lowest(set)
	}
	return best
}

// orFirst keeps a non empty set playable when the bounds exclude everything
func orFirst(set *playlist.AdaptationSet, rep *playlist.Representation) *playlist.Representation {
	if rep == nil && set != nil && len(set.Representations) > 0 {
		return set.Representations[0]
	}
	return rep
}
