// Package playlist holds the parsed presentation: a strict tree of
// periods, adaptation sets and representations with their segment indexes.
package playlist

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"
)

// TimeInvalid marks an unknown media time
const TimeInvalid = time.Duration(math.MinInt64)

var (
	ErrNoPeriod         = errors.New("playlist has no period")
	ErrNotYetAvailable  = errors.New("segment not yet available")
	ErrExpired          = errors.New("segment expired from the live window")
	ErrEndOfList        = errors.New("end of representation")
	ErrNoSegmentAtTime  = errors.New("no segment at time")
	ErrEmptySegmentList = errors.New("representation has no segments")
)

// ID identifies periods, sets and representations inside their parent
type ID string

type StreamType int

const (
	StreamUnknown StreamType = iota
	StreamVideo
	StreamAudio
	StreamText
)

func (t StreamType) String() string {
	switch t {
	case StreamVideo:
		return "video"
	case StreamAudio:
		return "audio"
	case StreamText:
		return "text"
	}
	return "unknown"
}

// Playlist is the root of the presentation. Scalar fields that change on
// live refresh are accessed through methods.
type Playlist struct {
	mu sync.RWMutex

	periods                    []*Period
	live                       bool
	duration                   time.Duration
	minUpdatePeriod            time.Duration
	timeShiftBufferDepth       time.Duration
	suggestedPresentationDelay time.Duration

	LowLatency        bool
	MinBuffering      time.Duration // hint, 0 if unset
	MaxBuffering      time.Duration // hint, 0 if unset
	AvailabilityStart time.Time
	URL               string
}

// Options are the refreshable playlist properties
type Options struct {
	Live                       bool
	Duration                   time.Duration
	MinUpdatePeriod            time.Duration
	TimeShiftBufferDepth       time.Duration
	SuggestedPresentationDelay time.Duration
}

func New(opts Options, periods ...*Period) *Playlist {
	p := &Playlist{}
	p.setOptions(opts)
	for _, period := range periods {
		p.AddPeriod(period)
	}
	return p
}

func (p *Playlist) setOptions(opts Options) {
	p.live = opts.Live
	p.duration = opts.Duration
	p.minUpdatePeriod = opts.MinUpdatePeriod
	p.timeShiftBufferDepth = opts.TimeShiftBufferDepth
	p.suggestedPresentationDelay = opts.SuggestedPresentationDelay
}

// Options returns a snapshot of the refreshable properties
func (p *Playlist) Options() Options {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Options{
		Live:                       p.live,
		Duration:                   p.duration,
		MinUpdatePeriod:            p.minUpdatePeriod,
		TimeShiftBufferDepth:       p.timeShiftBufferDepth,
		SuggestedPresentationDelay: p.suggestedPresentationDelay,
	}
}

// AddPeriod inserts a period keeping start order
func (p *Playlist) AddPeriod(period *Period) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.periods = append(p.periods, period)
	sort.SliceStable(p.periods, func(i, j int) bool { return p.periods[i].Start < p.periods[j].Start })
}

func (p *Playlist) IsLive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.live
}

// Duration of the presentation, 0 if unknown
func (p *Playlist) Duration() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.duration
}

func (p *Playlist) MinUpdatePeriod() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.minUpdatePeriod
}

func (p *Playlist) TimeShiftBufferDepth() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.timeShiftBufferDepth
}

func (p *Playlist) SuggestedPresentationDelay() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.suggestedPresentationDelay
}

// NeedsUpdates reports whether the playlist must be refreshed from its source
func (p *Playlist) NeedsUpdates() bool {
	return p.IsLive()
}

// Periods returns a copy of the period list
func (p *Playlist) Periods() []*Period {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*Period(nil), p.periods...)
}

func (p *Playlist) FirstPeriod() *Period {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.periods) == 0 {
		return nil
	}
	return p.periods[0]
}

// NextPeriod returns the period following cur, nil if cur is the last one
func (p *Playlist) NextPeriod(cur *Period) *Period {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for i, period := range p.periods {
		if period == cur && i+1 < len(p.periods) {
			return p.periods[i+1]
		}
	}
	return nil
}

func (p *Playlist) PeriodByID(id ID) *Period {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PeriodByID(p.periods, id)
}

// Period is a time range of the presentation with its own adaptation sets
type Period struct {
	ID             ID
	Start          time.Duration // relative to presentation start
	Duration       time.Duration // 0 if open ended
	AdaptationSets []*AdaptationSet
}

// SetByID finds an adaptation set of this period
func (p *Period) SetByID(id ID) *AdaptationSet {
	return AdaptationSetByID(p.AdaptationSets, id)
}

// AdaptationSet groups interchangeable representations of one track
type AdaptationSet struct {
	ID          ID
	Type        StreamType
	Lang        string
	Description string
	MimeType    string
	// Representations share segment numbering and boundaries
	SegmentAligned  bool
	Representations []*Representation
}

// Sort orders representations by ascending bandwidth
func (s *AdaptationSet) Sort() {
	sort.SliceStable(s.Representations, func(i, j int) bool {
		return s.Representations[i].Bandwidth < s.Representations[j].Bandwidth
	})
}

// Index returns the position of rep in bandwidth order, -1 if not a member
func (s *AdaptationSet) Index(rep *Representation) int {
	for i, r := range s.Representations {
		if r == rep {
			return i
		}
	}
	return -1
}

func (s *AdaptationSet) RepresentationByID(id ID) *Representation {
	return RepresentationByID(s.Representations, id)
}
