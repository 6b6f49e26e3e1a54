package logic

import (
	"time"

	"github.com/jdeisenh/abrplay/pkg/playlist"
)

type EventType int

const (
	EventSwitching EventType = iota
	EventBufferingState
	EventBufferingLevel
	EventSegmentChange
	EventFormatChange
	EventDiscontinuity
	EventPositionChange
)

func (t EventType) String() string {
	switch t {
	case EventSwitching:
		return "switching"
	case EventBufferingState:
		return "buffering-state"
	case EventBufferingLevel:
		return "buffering-level"
	case EventSegmentChange:
		return "segment-change"
	case EventFormatChange:
		return "format-change"
	case EventDiscontinuity:
		return "discontinuity"
	case EventPositionChange:
		return "position-change"
	}
	return "unknown"
}

// Event is emitted by segment trackers
type Event interface {
	Type() EventType
}

// Listener receives tracker events. Listeners are called synchronously
// from the tracker and must not call back into it.
type Listener interface {
	TrackerEvent(ev Event)
}

// SwitchingEvent precedes the first chunk of a new representation.
// Prev is nil on start or after a reset, Next is nil when the tracker
// releases its representation.
type SwitchingEvent struct {
	ID   playlist.ID
	Prev *playlist.Representation
	Next *playlist.Representation
}

// BufferingStateEvent reports a stream joining or leaving the buffering set
type BufferingStateEvent struct {
	ID      playlist.ID
	Enabled bool
}

type BufferingLevelEvent struct {
	ID      playlist.ID
	Minimum time.Duration
	Current time.Duration
	Target  time.Duration
}

// SegmentChangeEvent is emitted for each media segment handed out
type SegmentChangeEvent struct {
	ID       playlist.ID
	Number   uint64
	Start    time.Duration
	Duration time.Duration
}

type FormatChangeEvent struct {
	ID     playlist.ID
	Format playlist.StreamFormat
}

type DiscontinuityEvent struct {
	ID     playlist.ID
	Number uint64
}

// PositionChangeEvent is emitted with the first chunk after a reposition
type PositionChangeEvent struct {
	ID     playlist.ID
	Resume time.Duration
}

func (SwitchingEvent) Type() EventType      { return EventSwitching }
func (BufferingStateEvent) Type() EventType { return EventBufferingState }
func (BufferingLevelEvent) Type() EventType { return EventBufferingLevel }
func (SegmentChangeEvent) Type() EventType  { return EventSegmentChange }
func (FormatChangeEvent) Type() EventType   { return EventFormatChange }
func (DiscontinuityEvent) Type() EventType  { return EventDiscontinuity }
func (PositionChangeEvent) Type() EventType { return EventPositionChange }
