// Package tracker resolves the chunks of one adaptation set, asking the
// adaptation logic for the representation of each segment.
package tracker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jdeisenh/abrplay/pkg/logic"
	"github.com/jdeisenh/abrplay/pkg/metrics"
	"github.com/jdeisenh/abrplay/pkg/playlist"
	"github.com/rs/zerolog"
)

var (
	ErrNotYetAvailable     = playlist.ErrNotYetAvailable
	ErrEndOfRepresentation = playlist.ErrEndOfList
	ErrSegmentNotFound     = errors.New("segment not found")
	ErrNoPosition          = errors.New("tracker has no position")
)

// Position is the next segment to hand out
type Position struct {
	Number   uint64
	Rep      *playlist.Representation
	InitSent bool
}

func (p Position) Valid() bool {
	return p.Rep != nil
}

func (p Position) String() string {
	if p.Rep == nil {
		return "invalid"
	}
	return fmt.Sprintf("%s#%d", p.Rep.ID, p.Number)
}

// SegmentTracker walks the segments of an adaptation set. Listeners are
// notified synchronously, the adaptation logic first.
type SegmentTracker struct {
	mu        sync.Mutex
	set       *playlist.AdaptationSet
	pl        *playlist.Playlist
	logic     logic.AdaptationLogic
	buffering *logic.BufferingLogic
	listeners []logic.Listener
	logger    zerolog.Logger

	current Position
	// the representation of current was not announced yet
	announce bool
	// an init chunk went out without its media segment
	initPending     bool
	positionChanged bool
	format          playlist.StreamFormat
	playbackTime    time.Duration
}

func New(set *playlist.AdaptationSet, pl *playlist.Playlist, l logic.AdaptationLogic, buffering *logic.BufferingLogic, logger zerolog.Logger) *SegmentTracker {
	return &SegmentTracker{
		set:       set,
		pl:        pl,
		logic:     l,
		buffering: buffering,
		listeners: []logic.Listener{l},
		logger:    logger.With().Str("set", string(set.ID)).Logger(),
	}
}

func (t *SegmentTracker) RegisterListener(l logic.Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

func (t *SegmentTracker) ID() playlist.ID {
	return t.set.ID
}

func (t *SegmentTracker) notify(events ...logic.Event) {
	for _, ev := range events {
		for _, l := range t.listeners {
			l.TrackerEvent(ev)
		}
	}
}

// StartPosition is where playback of the set begins
func (t *SegmentTracker) StartPosition() Position {
	rep := t.logic.NextRepresentation(t.set, nil)
	if rep == nil {
		return Position{}
	}
	n, ok := t.buffering.StartSegmentNumber(rep, t.pl)
	if !ok {
		return Position{}
	}
	return Position{Number: n, Rep: rep}
}

// SetStartPosition moves to StartPosition, false if the set has no segments
func (t *SegmentTracker) SetStartPosition() bool {
	pos := t.StartPosition()
	if !pos.Valid() {
		return false
	}
	t.SetPosition(pos, true)
	return true
}

// SetPosition moves to pos. The current representation is released if it
// was announced, pos.Rep is announced with the next chunk.
func (t *SegmentTracker) SetPosition(pos Position, restarted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if restarted {
		pos.InitSent = false
	}
	t.release()
	t.current = pos
	t.announce = true
	t.initPending = false
	t.positionChanged = true
	t.logger.Debug().Msgf("Position %s", pos)
}

// release hands back the bandwidth of the current representation. A
// representation that was never announced holds none.
func (t *SegmentTracker) release() {
	if t.current.Rep != nil && !t.announce {
		t.notify(logic.SwitchingEvent{ID: t.set.ID, Prev: t.current.Rep})
	}
}

// SetPositionByTime moves to the segment containing at, relative to the
// period start. Beyond the end of a complete index the last segment is
// used. tryOnly reports whether the move is possible without changing state.
func (t *SegmentTracker) SetPositionByTime(at time.Duration, restarted, tryOnly bool) bool {
	t.mu.Lock()
	rep := t.current.Rep
	t.mu.Unlock()
	if rep == nil {
		rep = t.logic.NextRepresentation(t.set, nil)
	}
	if rep == nil {
		return false
	}

	start, _, ok := rep.PlaybackRange()
	if !ok || at < start {
		return false
	}
	seg, err := rep.SegmentAt(at)
	if errors.Is(err, playlist.ErrEndOfList) {
		_, last, ok := rep.NumberRange()
		if !ok {
			return false
		}
		seg, err = rep.Segment(last)
	}
	if err != nil {
		return false
	}
	if tryOnly {
		return true
	}
	t.SetPosition(Position{Number: seg.Number, Rep: rep}, restarted)
	return true
}

// SkipExpired moves past segments that left the live window
func (t *SegmentTracker) SkipExpired() bool {
	t.mu.Lock()
	rep := t.current.Rep
	t.mu.Unlock()
	if rep == nil {
		return false
	}
	n, ok := t.buffering.StartSegmentNumber(rep, t.pl)
	if !ok {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logger.Warn().Msgf("Segment #%d expired, resuming at #%d", t.current.Number, n)
	t.current.Number = n
	t.positionChanged = true
	return true
}

// Reset drops the position and releases the representation
func (t *SegmentTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.release()
	t.current = Position{}
	t.announce = false
	t.initPending = false
	t.positionChanged = false
	t.format = playlist.FormatUnknown
	t.playbackTime = 0
}

func (t *SegmentTracker) Position() Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *SegmentTracker) CurrentRepresentation() *playlist.Representation {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current.Rep
}

func (t *SegmentTracker) CurrentFormat() playlist.StreamFormat {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.format
}

// PlaybackTime is the start of the last media segment handed out
func (t *SegmentTracker) PlaybackTime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playbackTime
}

// MediaPlaybackRange is the available time range of the set
func (t *SegmentTracker) MediaPlaybackRange() (start, end time.Duration, ok bool) {
	rep := t.CurrentRepresentation()
	if rep == nil {
		rep = t.logic.NextRepresentation(t.set, nil)
	}
	if rep == nil {
		return 0, 0, false
	}
	return rep.PlaybackRange()
}

func (t *SegmentTracker) NotifyBufferingState(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notify(logic.BufferingStateEvent{ID: t.set.ID, Enabled: enabled})
}

func (t *SegmentTracker) NotifyBufferingLevel(minimum, current, target time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notify(logic.BufferingLevelEvent{ID: t.set.ID, Minimum: minimum, Current: current, Target: target})
}

func chunkFormat(rep *playlist.Representation, url string, mime string) playlist.StreamFormat {
	if rep.Format != playlist.FormatUnknown {
		return rep.Format
	}
	if f := playlist.FormatFromURL(url); f != playlist.FormatUnknown {
		return f
	}
	return playlist.FormatFromMime(mime)
}

// NextChunk returns the next chunk to download. The representation may
// only change when switchAllowed and never right after an init chunk.
func (t *SegmentTracker) NextChunk(switchAllowed bool) (*playlist.Chunk, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.current.Valid() {
		return nil, ErrNoPosition
	}

	var events []logic.Event
	if t.announce {
		events = append(events, logic.SwitchingEvent{ID: t.set.ID, Next: t.current.Rep})
		t.announce = false
	} else if switchAllowed && !t.initPending {
		prev := t.current.Rep
		if rep := t.logic.NextRepresentation(t.set, prev); rep != nil && rep != prev {
			n := t.current.Number
			if !t.set.SegmentAligned {
				n = rep.TranslateNumber(n, prev)
			}
			events = append(events, logic.SwitchingEvent{ID: t.set.ID, Prev: prev, Next: rep})
			t.current = Position{Number: n, Rep: rep}
			metrics.RepresentationSwitches.Inc()
			t.logger.Info().Msgf("Switch %s -> %s at #%d", prev.ID, rep.ID, n)
		}
	}
	rep := t.current.Rep

	if init := rep.InitSegment(); init != nil && !t.current.InitSent {
		chunk := &playlist.Chunk{
			Kind:           playlist.ChunkInit,
			URL:            init.URL,
			Range:          init.Range,
			Representation: rep.ID,
			Bandwidth:      rep.Bandwidth,
			Format:         chunkFormat(rep, init.URL, t.set.MimeType),
		}
		if seg, err := rep.Segment(t.current.Number); err == nil {
			chunk.Segment = seg
		}
		if chunk.Format != t.format {
			events = append(events, logic.FormatChangeEvent{ID: t.set.ID, Format: chunk.Format})
			t.format = chunk.Format
		}
		t.current.InitSent = true
		t.initPending = true
		t.notify(events...)
		return chunk, nil
	}

	seg, err := rep.Segment(t.current.Number)
	if err != nil {
		// The announced switch still stands
		t.notify(events...)
		switch {
		case errors.Is(err, playlist.ErrNotYetAvailable):
			return nil, ErrNotYetAvailable
		case errors.Is(err, playlist.ErrExpired):
			return nil, fmt.Errorf("%w: %s#%d expired", ErrSegmentNotFound, rep.ID, t.current.Number)
		case errors.Is(err, playlist.ErrEndOfList), errors.Is(err, playlist.ErrEmptySegmentList):
			return nil, ErrEndOfRepresentation
		}
		return nil, fmt.Errorf("%w: %w", ErrSegmentNotFound, err)
	}

	chunk := &playlist.Chunk{
		Kind:           playlist.ChunkMedia,
		URL:            seg.URL,
		Range:          seg.Range,
		Representation: rep.ID,
		Bandwidth:      rep.Bandwidth,
		Format:         chunkFormat(rep, seg.URL, t.set.MimeType),
		Segment:        seg,
	}
	if chunk.Format != t.format {
		events = append(events, logic.FormatChangeEvent{ID: t.set.ID, Format: chunk.Format})
		t.format = chunk.Format
	}
	if seg.Discontinuity {
		events = append(events, logic.DiscontinuityEvent{ID: t.set.ID, Number: seg.Number})
	}
	if t.positionChanged {
		events = append(events, logic.PositionChangeEvent{ID: t.set.ID, Resume: seg.Start})
		t.positionChanged = false
	}
	events = append(events, logic.SegmentChangeEvent{
		ID:       t.set.ID,
		Number:   seg.Number,
		Start:    seg.Start,
		Duration: seg.Duration,
	})

	t.current.Number = seg.Number + 1
	t.initPending = false
	t.playbackTime = seg.Start
	t.notify(events...)
	return chunk, nil
}
