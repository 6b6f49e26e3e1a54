// Package logic implements the adaptation logics choosing the
// representation of each stream, and the buffering policy.
package logic

import (
	"fmt"
	"strings"
	"time"

	"github.com/jdeisenh/abrplay/pkg/playlist"
	"github.com/rs/zerolog"
)

// AdaptationLogic chooses representations for all streams of a player.
// Implementations are safe for concurrent use.
type AdaptationLogic interface {
	Listener
	// NextRepresentation never returns nil for a non empty set
	NextRepresentation(set *playlist.AdaptationSet, prev *playlist.Representation) *playlist.Representation
	// UpdateDownloadRate reports size bytes received in elapsed
	UpdateDownloadRate(id playlist.ID, size uint64, elapsed time.Duration)
	SetMaxResolution(width, height int)
}

type Type int

const (
	TypeDefault Type = iota
	TypeFixedRate
	TypeAlwaysLowest
	TypeAlwaysBest
	TypeRateBased
	TypePredictive
	TypeNearOptimal
	TypeRoundRobin
)

var typeNames = map[Type]string{
	TypeDefault:      "default",
	TypeFixedRate:    "fixedrate",
	TypeAlwaysLowest: "lowest",
	TypeAlwaysBest:   "highest",
	TypeRateBased:    "rate",
	TypePredictive:   "predictive",
	TypeNearOptimal:  "nearoptimal",
	TypeRoundRobin:   "roundrobin",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

func ParseType(s string) (Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return TypeDefault, nil
	}
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return TypeDefault, fmt.Errorf("unknown adaptation logic %q", s)
}

// DefaultFixedBps is used by the fixed rate logic when no rate is configured
const DefaultFixedBps = 8192 * 1000

type Options struct {
	// Rate of TypeFixedRate in bit/s
	FixedBps  uint64
	MaxWidth  int
	MaxHeight int
}

// New creates the logic of type t
func New(t Type, opts Options, logger zerolog.Logger) (AdaptationLogic, error) {
	logger = logger.With().Str("logic", t.String()).Logger()
	var l AdaptationLogic
	switch t {
	case TypeFixedRate:
		bps := opts.FixedBps
		if bps == 0 {
			bps = DefaultFixedBps
		}
		l = NewFixedRate(bps)
	case TypeAlwaysLowest:
		l = NewAlwaysLowest()
	case TypeAlwaysBest:
		l = NewAlwaysBest()
	case TypeRateBased:
		l = NewRateBased(logger)
	case TypePredictive:
		l = NewPredictive(logger)
	case TypeDefault, TypeNearOptimal:
		l = NewNearOptimal(logger)
	case TypeRoundRobin:
		l = NewRoundRobin()
	default:
		return nil, fmt.Errorf("unknown adaptation logic %d", int(t))
	}
	l.SetMaxResolution(opts.MaxWidth, opts.MaxHeight)
	return l, nil
}

// constraints holds the resolution bounds, set before the logic is used
type constraints struct {
	maxWidth  int
	maxHeight int
}

func (c *constraints) SetMaxResolution(width, height int) {
	c.maxWidth, c.maxHeight = width, height
}

func (c *constraints) selector() RepresentationSelector {
	return NewRepresentationSelector(c.maxWidth, c.maxHeight)
}
