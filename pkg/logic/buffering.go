package logic

import (
	"time"

	"github.com/jdeisenh/abrplay/pkg/playlist"
)

const (
	BufferingLowestLimit = 2 * time.Second
	DefaultMinBuffering  = 6 * time.Second
	DefaultMaxBuffering  = 30 * time.Second
	DefaultLiveDelay     = 15 * time.Second
)

// BufferingLogic derives buffer bounds and the live start point from the
// user settings and the playlist hints. Zero user values select defaults.
type BufferingLogic struct {
	UserMinBuffering time.Duration
	UserMaxBuffering time.Duration
	UserLiveDelay    time.Duration
	LowLatency       bool
}

func (b *BufferingLogic) lowLatency(pl *playlist.Playlist) bool {
	return b.LowLatency || pl.LowLatency
}

// MinBuffering is the buffer level required before playback starts
func (b *BufferingLogic) MinBuffering(pl *playlist.Playlist) time.Duration {
	if b.lowLatency(pl) {
		return BufferingLowestLimit
	}
	buffering := DefaultMinBuffering
	if b.UserMinBuffering > 0 {
		buffering = b.UserMinBuffering
	}
	if pl.MinBuffering > 0 {
		buffering = max(buffering, pl.MinBuffering)
	}
	return max(buffering, BufferingLowestLimit)
}

// MaxBuffering is the buffer level above which downloads pause
func (b *BufferingLogic) MaxBuffering(pl *playlist.Playlist) time.Duration {
	if b.lowLatency(pl) {
		return b.MinBuffering(pl)
	}
	buffering := DefaultMaxBuffering
	if b.UserMaxBuffering > 0 {
		buffering = b.UserMaxBuffering
	}
	if pl.IsLive() {
		buffering = min(buffering, b.LiveDelay(pl))
	}
	if pl.MaxBuffering > 0 {
		buffering = min(buffering, pl.MaxBuffering)
	}
	return max(buffering, b.MinBuffering(pl))
}

// LiveDelay is the distance to the live edge playback starts at
func (b *BufferingLogic) LiveDelay(pl *playlist.Playlist) time.Duration {
	if b.lowLatency(pl) {
		return b.MinBuffering(pl)
	}
	delay := DefaultLiveDelay
	if b.UserLiveDelay > 0 {
		delay = b.UserLiveDelay
	} else if spd := pl.SuggestedPresentationDelay(); spd > 0 {
		delay = spd
	}
	if tsbd := pl.TimeShiftBufferDepth(); tsbd > 0 {
		delay = min(delay, tsbd)
	}
	return max(delay, b.MinBuffering(pl))
}

// StartSegmentNumber returns the segment playback of rep starts with
func (b *BufferingLogic) StartSegmentNumber(rep *playlist.Representation, pl *playlist.Playlist) (uint64, bool) {
	first, _, ok := rep.NumberRange()
	if !ok {
		return 0, false
	}
	if !pl.IsLive() || !rep.Live() {
		return first, true
	}
	start, end, ok := rep.PlaybackRange()
	if !ok {
		return first, true
	}
	target := end - b.LiveDelay(pl)
	if target <= start {
		return first, true
	}
	seg, err := rep.SegmentAt(target)
	if err != nil {
		return first, true
	}
	return seg.Number, true
}
