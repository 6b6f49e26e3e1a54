// Package manager drives the streams of the current period: a background
// goroutine buffers segments while the host pulls demuxed samples with
// Demux and queries the playback state with Control.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jdeisenh/abrplay/pkg/demux"
	"github.com/jdeisenh/abrplay/pkg/logic"
	"github.com/jdeisenh/abrplay/pkg/playlist"
	"github.com/jdeisenh/abrplay/pkg/stream"
	"github.com/jdeisenh/abrplay/pkg/tracker"
	"github.com/jdeisenh/abrplay/pkg/transport"
	"github.com/rs/zerolog"
)

const (
	DefaultDemuxIncrement    = 50 * time.Millisecond
	DefaultPollTimeout       = 50 * time.Millisecond
	DefaultMaxUpdateFailures = 3
	DefaultPruneThreshold    = 10
	DefaultMinUpdateInterval = time.Second
	DefaultPTSDelay          = time.Second

	// the output clock trails the demux clock
	pcrLag = 100 * time.Millisecond
)

var (
	ErrNoLogic      = errors.New("no adaptation logic")
	ErrNoStreams    = errors.New("no stream could be set up")
	ErrSeekRejected = errors.New("seek rejected")
	ErrStarted      = errors.New("already started")
	ErrUnsupported  = errors.New("unsupported control")
	ErrBadArgument  = errors.New("bad control argument")
)

// Wait of the background loop after a buffering pass
var bufferingWait = map[stream.BufferingStatus]time.Duration{
	stream.BufferingOngoing:   10 * time.Millisecond,
	stream.BufferingFull:      100 * time.Millisecond,
	stream.BufferingEnd:       time.Second,
	stream.BufferingSuspended: 250 * time.Millisecond,
}

// Source re-supplies the playlist for live refresh. selected are the
// representations the streams currently play.
type Source interface {
	Update(ctx context.Context, selected []*playlist.Representation) (*playlist.Playlist, error)
}

type Options struct {
	Logic        logic.Type
	LogicOptions logic.Options
	Buffering    logic.BufferingLogic

	PollTimeout       time.Duration
	MaxUpdateFailures int
	// segments behind all streams before the playlist is pruned
	PruneThreshold    int
	MinUpdateInterval time.Duration
	PTSDelay          time.Duration

	// Events defaults to a text logger
	Events PlaybackLogger
	Clock  func() time.Time
	// Session id, generated if empty
	Session string
}

func (o *Options) setDefaults(logger zerolog.Logger) {
	if o.PollTimeout <= 0 {
		o.PollTimeout = DefaultPollTimeout
	}
	if o.MaxUpdateFailures <= 0 {
		o.MaxUpdateFailures = DefaultMaxUpdateFailures
	}
	if o.PruneThreshold <= 0 {
		o.PruneThreshold = DefaultPruneThreshold
	}
	if o.MinUpdateInterval <= 0 {
		o.MinUpdateInterval = DefaultMinUpdateInterval
	}
	if o.PTSDelay <= 0 {
		o.PTSDelay = DefaultPTSDelay
	}
	if o.Events == nil {
		o.Events = NewTextPlaybackLogger(logger)
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// PlaylistManager owns the playlist and the streams of its current period.
type PlaylistManager struct {
	pl      *playlist.Playlist
	factory stream.Factory
	conn    transport.ConnectionManager
	source  Source
	out     demux.Sink
	opts    Options
	logger  zerolog.Logger
	events  PlaybackLogger
	session string

	logic     logic.AdaptationLogic
	buffering *logic.BufferingLogic

	// mu guards the period state and is never held across a download or
	// a manifest fetch. generation counts period changes, a buffering
	// pass working on an older snapshot of streams stops.
	mu           sync.Mutex
	period       *playlist.Period
	streams      []stream.AbstractStream
	generation   uint64
	trackers     map[playlist.ID]*tracker.SegmentTracker
	lastStatus   map[playlist.ID]stream.BufferingStatus
	userDisabled map[playlist.ID]bool
	nextUpdate   time.Time
	failures     atomic.Int32

	demuxMu   sync.Mutex
	clock     time.Duration
	firstPCR  time.Duration
	maskedDis bool

	cacheMu sync.Mutex
	cached  controlCache

	wake        chan struct{}
	demuxSignal chan struct{}
	cancel      context.CancelFunc
	done        chan struct{}
}

func New(pl *playlist.Playlist, factory stream.Factory, conn transport.ConnectionManager, source Source, out demux.Sink, opts Options, logger zerolog.Logger) *PlaylistManager {
	session := opts.Session
	if session == "" {
		session = uuid.New().String()
	}
	logger = logger.With().Str("session", session).Logger()
	opts.setDefaults(logger)
	m := &PlaylistManager{
		pl:           pl,
		factory:      factory,
		conn:         conn,
		source:       source,
		out:          out,
		opts:         opts,
		logger:       logger,
		events:       opts.Events,
		session:      session,
		trackers:     make(map[playlist.ID]*tracker.SegmentTracker),
		lastStatus:   make(map[playlist.ID]stream.BufferingStatus),
		userDisabled: make(map[playlist.ID]bool),
		clock:        playlist.TimeInvalid,
		firstPCR:     playlist.TimeInvalid,
		wake:         make(chan struct{}, 1),
		demuxSignal:  make(chan struct{}, 1),
	}
	m.buffering = &m.opts.Buffering
	m.cached.time = playlist.TimeInvalid
	return m
}

// Session is the id of this playback session
func (m *PlaylistManager) Session() string {
	return m.session
}

func (m *PlaylistManager) Logic() logic.AdaptationLogic {
	return m.logic
}

func (m *PlaylistManager) now() time.Time {
	return m.opts.Clock()
}

// prepare creates the logic and the streams of the first period
func (m *PlaylistManager) prepare() error {
	if m.logic == nil {
		l, err := logic.New(m.opts.Logic, m.opts.LogicOptions, m.logger)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrNoLogic, err)
		}
		m.logic = l
		if obs, ok := m.conn.(transport.Observable); ok {
			obs.SetRateObserver(l)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.period = m.pl.FirstPeriod()
	if m.period == nil {
		return playlist.ErrNoPeriod
	}
	if err := m.setupPeriodLocked(); err != nil {
		return err
	}
	m.nextUpdate = m.now().Add(m.updateInterval())
	return nil
}

// Start sets up the first period and starts buffering
func (m *PlaylistManager) Start(ctx context.Context) error {
	if m.done != nil {
		return ErrStarted
	}
	if err := m.prepare(); err != nil {
		m.logger.Error().Err(err).Msg("Start")
		return err
	}
	m.events.LogSessionStart(m.session, m.pl.URL, m.pl.IsLive())
	m.updateControlsPosition(true)

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.run(ctx)
	return nil
}

// Stop aborts all downloads, ends the background goroutine and closes
// the streams
func (m *PlaylistManager) Stop() {
	if m.done == nil {
		return
	}
	m.cancel()
	m.conn.CloseAll()
	<-m.done
	m.done = nil

	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsetPeriodLocked()
}

func (m *PlaylistManager) setupPeriodLocked() error {
	m.generation++
	for _, set := range m.period.AdaptationSets {
		t := tracker.New(set, m.pl, m.logic, m.buffering, m.logger)
		t.RegisterListener(switchListener{events: m.events})
		st, err := m.factory.Create(m.period, set, t, m.conn, m.out)
		if err != nil {
			m.logger.Warn().Err(err).Msgf("No stream for set %s", set.ID)
			continue
		}
		if m.userDisabled[set.ID] {
			st.SetDisabled(true)
		}
		m.streams = append(m.streams, st)
		m.trackers[set.ID] = t
	}
	if len(m.streams) == 0 {
		return fmt.Errorf("%w: period %s", ErrNoStreams, m.period.ID)
	}
	m.events.LogNewPeriod(string(m.period.ID), m.period.Start, len(m.streams))
	return nil
}

func (m *PlaylistManager) unsetPeriodLocked() {
	m.generation++
	for _, st := range m.streams {
		st.Close()
	}
	m.streams = nil
	clear(m.trackers)
	clear(m.lastStatus)
}

func (m *PlaylistManager) wakeBuffering() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *PlaylistManager) signalDemux() {
	select {
	case m.demuxSignal <- struct{}{}:
	default:
	}
}

// waitDemux blocks until the next buffering pass or the poll timeout
func (m *PlaylistManager) waitDemux() {
	timer := time.NewTimer(m.opts.PollTimeout)
	defer timer.Stop()
	select {
	case <-m.demuxSignal:
	case <-timer.C:
	}
}

func (m *PlaylistManager) run(ctx context.Context) {
	defer close(m.done)
	for ctx.Err() == nil {
		m.mu.Lock()
		due := m.NeedsUpdate() && !m.now().Before(m.nextUpdate)
		m.mu.Unlock()
		if due {
			m.UpdatePlaylist(ctx)
		}
		status := m.bufferize(ctx)
		m.signalDemux()

		if status == stream.BufferingLessThanMin {
			continue
		}
		timer := time.NewTimer(bufferingWait[status])
		select {
		case <-ctx.Done():
		case <-m.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// bufferize runs one download step on every stream, the most starving
// first. The demux clock starts once the minimum is buffered. Downloads
// run without mu, the pass ends early when the period changes.
func (m *PlaylistManager) bufferize(ctx context.Context) stream.BufferingStatus {
	minimum := m.buffering.MinBuffering(m.pl)
	maximum := m.buffering.MaxBuffering(m.pl)
	deadline := m.currentClock()

	m.mu.Lock()
	generation := m.generation
	ordered := append([]stream.AbstractStream(nil), m.streams...)
	sort.SliceStable(ordered, func(i, j int) bool {
		si, sj := m.lastStatus[ordered[i].ID()], m.lastStatus[ordered[j].ID()]
		if si != sj {
			return si > sj
		}
		return ordered[i].BufferedLevel() < ordered[j].BufferedLevel()
	})
	m.mu.Unlock()

	ret := stream.BufferingEnd
	for _, st := range ordered {
		if !m.prepareBuffering(st, generation) {
			continue
		}
		r := st.Bufferize(ctx, deadline, minimum, maximum, maximum)
		m.mu.Lock()
		stale := m.generation != generation
		if !stale {
			m.lastStatus[st.ID()] = r
		}
		m.mu.Unlock()
		if stale {
			return stream.BufferingOngoing
		}
		// an ongoing stream keeps the loop busy
		if ret != stream.BufferingOngoing && r > ret {
			ret = r
		}
		if ret == stream.BufferingLessThanMin {
			break
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != generation {
		return stream.BufferingOngoing
	}
	m.demuxMu.Lock()
	if m.clock == playlist.TimeInvalid && ret != stream.BufferingLessThanMin {
		m.clock = firstDTS(m.streams)
		if m.clock != playlist.TimeInvalid {
			m.logger.Debug().Msgf("Clock starts at %s", m.clock)
		}
	}
	m.demuxMu.Unlock()
	return ret
}

// prepareBuffering enables or disables st by the user's and the output's
// choice and reports whether it should download
func (m *PlaylistManager) prepareBuffering(st stream.AbstractStream, generation uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != generation || !st.Valid() {
		return false
	}
	if st.Disabled() {
		if m.userDisabled[st.ID()] || !st.Selected() || !st.Reactivate(m.resumeTime()) {
			return false
		}
		m.logger.Info().Msgf("Reactivated %s", st.ID())
	} else if !st.Selected() {
		st.SetDisabled(true)
		return false
	}
	return true
}

// resumeTime is the presentation time streams restart at
func (m *PlaylistManager) resumeTime() time.Duration {
	m.cacheMu.Lock()
	t := m.cached.time
	m.cacheMu.Unlock()
	if t == playlist.TimeInvalid && m.period != nil {
		return m.period.Start
	}
	return t
}

// SetStreamDisabled stops or resumes the stream of set id
func (m *PlaylistManager) SetStreamDisabled(id playlist.ID, disabled bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userDisabled[id] = disabled
	for _, st := range m.streams {
		if st.ID() != id {
			continue
		}
		if disabled {
			st.SetDisabled(true)
		} else if st.Disabled() && !st.Reactivate(m.resumeTime()) {
			return false
		}
		m.wakeBuffering()
		return true
	}
	return false
}

// Streams returns the streams of the current period
func (m *PlaylistManager) Streams() []stream.AbstractStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]stream.AbstractStream(nil), m.streams...)
}

// Period is the current period
func (m *PlaylistManager) Period() *playlist.Period {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.period
}

// switchListener forwards representation switches to the playback log
type switchListener struct {
	events PlaybackLogger
}

func (l switchListener) TrackerEvent(ev logic.Event) {
	if e, ok := ev.(logic.SwitchingEvent); ok && e.Prev != nil && e.Next != nil {
		l.events.LogSwitch(string(e.ID), string(e.Prev.ID), string(e.Next.ID), e.Next.Bandwidth)
	}
}
