package manager

import (
	"fmt"
	"time"

	"github.com/jdeisenh/abrplay/pkg/playlist"
	"github.com/jdeisenh/abrplay/pkg/stream"
)

// Query selects the Control operation
type Query int

const (
	QueryCanSeek Query = iota
	QueryCanPause
	QueryCanControlPace
	QuerySetPauseState
	QueryGetTime
	QueryGetLength
	QueryGetPosition
	QuerySetPosition
	QuerySetTime
	QueryGetPTSDelay
)

// controlCache holds the position values answered to the host. It is
// refreshed at most once a second.
type controlCache struct {
	live          bool
	paused        bool
	time          time.Duration
	position      float64
	playlistStart time.Duration
	playlistEnd   time.Duration
	length        time.Duration
	lastUpdate    time.Time
}

// Control answers the host's playback queries. Setters return a nil value.
func (m *PlaylistManager) Control(query Query, args ...any) (any, error) {
	switch query {
	case QueryCanSeek:
		return m.CanSeek(), nil
	case QueryCanPause:
		return m.CanPause(), nil
	case QueryCanControlPace:
		return m.CanControlPace(), nil
	case QueryGetPTSDelay:
		return m.PTSDelay(), nil
	case QueryGetTime:
		t, ok := m.Time()
		if !ok {
			return nil, fmt.Errorf("%w: no time yet", ErrUnsupported)
		}
		return t, nil
	case QueryGetLength:
		return m.Length()
	case QueryGetPosition:
		return m.Position()
	case QuerySetPauseState:
		paused, ok := argument[bool](args)
		if !ok {
			return nil, ErrBadArgument
		}
		return nil, m.SetPauseState(paused)
	case QuerySetPosition:
		pos, ok := argument[float64](args)
		if !ok {
			return nil, ErrBadArgument
		}
		return nil, m.SetPositionFraction(pos)
	case QuerySetTime:
		t, ok := argument[time.Duration](args)
		if !ok {
			return nil, ErrBadArgument
		}
		return nil, m.SetTime(t)
	}
	return nil, fmt.Errorf("%w: %d", ErrUnsupported, query)
}

func argument[T any](args []any) (T, bool) {
	var zero T
	if len(args) != 1 {
		return zero, false
	}
	v, ok := args[0].(T)
	return v, ok
}

// Time is the presentation time at the demux clock
func (m *PlaylistManager) Time() (time.Duration, bool) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	return m.cached.time, m.cached.time != playlist.TimeInvalid
}

func (m *PlaylistManager) Length() (time.Duration, error) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	if m.cached.live && m.cached.length == 0 {
		return 0, fmt.Errorf("%w: live without window", ErrUnsupported)
	}
	return m.cached.length, nil
}

// Position is the fraction of the length played, or of the live window
func (m *PlaylistManager) Position() (float64, error) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	if m.cached.live && m.cached.length == 0 {
		return 0, fmt.Errorf("%w: live without window", ErrUnsupported)
	}
	return m.cached.position, nil
}

func (m *PlaylistManager) Paused() bool {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	return m.cached.paused
}

// updateControlsPosition maps the demux clock to presentation time using
// the first active stream. Must not be called with mu held.
func (m *PlaylistManager) updateControlsPosition(force bool) {
	streams := m.Streams()
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	c := &m.cached
	now := m.now()
	if !force && now.Sub(c.lastUpdate) < time.Second {
		return
	}
	c.lastUpdate = now
	c.live = m.pl.IsLive()

	found := false
	var times stream.Times
	for _, st := range streams {
		if !st.Valid() || st.Disabled() || !st.Selected() {
			continue
		}
		if times, found = st.MediaPlaybackTimes(); found {
			break
		}
	}
	if !found {
		return
	}

	clock := m.currentClock()
	toPlaylist := func(t time.Duration) time.Duration {
		if t == playlist.TimeInvalid || times.RapDemuxStart == playlist.TimeInvalid || times.RapPlaylistStart == playlist.TimeInvalid {
			return t
		}
		return times.RapPlaylistStart + t - times.RapDemuxStart
	}

	c.playlistStart, c.playlistEnd = times.Start, times.End
	c.time = toPlaylist(clock)
	c.position = 0
	if c.live {
		c.length = times.Length
		if c.length == 0 {
			c.length = times.End - times.Start
		}
		if c.time != playlist.TimeInvalid && c.time > times.Start && c.time <= times.End && c.length > 0 {
			c.position = float64(c.time-times.Start) / float64(c.length)
		}
		return
	}
	c.length = max(times.Length, m.pl.Duration())
	if c.time != playlist.TimeInvalid && c.length > 0 {
		c.position = float64(c.time-times.Start) / float64(c.length)
	}
}

// SetPosition moves all active streams to the presentation time t, or
// none of them if one cannot go there
func (m *PlaylistManager) SetPosition(t time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setPositionLocked(t)
}

func (m *PlaylistManager) setPositionLocked(t time.Duration) error {
	valid := 0
	for _, st := range m.streams {
		if !st.Valid() || st.Disabled() {
			continue
		}
		valid++
		if !st.SetPosition(t, true) {
			return fmt.Errorf("%w: %s cannot play %s", ErrSeekRejected, st.ID(), t)
		}
	}
	if valid == 0 {
		return ErrNoStreams
	}
	for _, st := range m.streams {
		if st.Valid() && !st.Disabled() {
			st.SetPosition(t, false)
		}
	}
	return nil
}

// SetTime seeks to the presentation time t and restarts the clock
func (m *PlaylistManager) SetTime(t time.Duration) error {
	err := m.SetPosition(t)
	m.events.LogSeek(t, err)
	if err != nil {
		return err
	}
	m.resetClock()
	m.out.ResetPCR()
	m.cacheMu.Lock()
	m.cached.time = t
	m.cached.lastUpdate = time.Time{}
	m.cacheMu.Unlock()
	m.wakeBuffering()
	return nil
}

// SetPositionFraction seeks to pos of the known length
func (m *PlaylistManager) SetPositionFraction(pos float64) error {
	m.cacheMu.Lock()
	length, start := m.cached.length, m.cached.playlistStart
	m.cacheMu.Unlock()
	if length <= 0 {
		return fmt.Errorf("%w: unknown length", ErrUnsupported)
	}
	return m.SetTime(start + time.Duration(pos*float64(length)))
}

// SetPauseState records the pause. Buffering goes on while paused. A live
// stream resumed behind its window restarts at the live delay.
func (m *PlaylistManager) SetPauseState(paused bool) error {
	m.updateControlsPosition(true)
	m.cacheMu.Lock()
	wasPaused := m.cached.paused
	m.cached.paused = paused
	c := m.cached
	m.cacheMu.Unlock()

	if paused || !wasPaused || !c.live || c.time == playlist.TimeInvalid || c.time >= c.playlistStart {
		return nil
	}
	target := max(c.playlistStart, c.playlistEnd-m.buffering.LiveDelay(m.pl))
	m.logger.Info().Msgf("Resume behind the live window, seek to %s", target)
	return m.SetTime(target)
}

func (m *PlaylistManager) CanSeek() bool        { return true }
func (m *PlaylistManager) CanPause() bool       { return true }
func (m *PlaylistManager) CanControlPace() bool { return true }

// PTSDelay is the output delay the host should apply
func (m *PlaylistManager) PTSDelay() time.Duration {
	return m.opts.PTSDelay
}
