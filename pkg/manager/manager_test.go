package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jdeisenh/abrplay/pkg/demux"
	"github.com/jdeisenh/abrplay/pkg/logic"
	"github.com/jdeisenh/abrplay/pkg/playlist"
	"github.com/jdeisenh/abrplay/pkg/stream"
	"github.com/jdeisenh/abrplay/pkg/tracker"
	"github.com/jdeisenh/abrplay/pkg/transport"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	id    playlist.ID
	calls *[]playlist.ID

	mu          sync.Mutex
	script      []stream.Status
	buffering   stream.BufferingStatus
	firstDTS    time.Duration
	level       time.Duration
	reject      bool
	committed   []time.Duration
	reactivated []time.Duration
	invalid     bool
	disabled    bool
	unselected  bool
	eof         bool
	closed      bool
	times       *stream.Times
	playback    time.Duration
	// Bufferize signals entered and waits for hold, like a slow download
	hold    chan struct{}
	entered chan struct{}
}

func (f *fakeStream) ID() playlist.ID { return f.id }

func (f *fakeStream) Bufferize(ctx context.Context, _, _, _, _ time.Duration) stream.BufferingStatus {
	f.mu.Lock()
	if f.calls != nil {
		*f.calls = append(*f.calls, f.id)
	}
	hold, entered, status := f.hold, f.entered, f.buffering
	f.mu.Unlock()
	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
		}
	}
	return status
}

// Dequeue plays the script, repeating its last entry
func (f *fakeStream) Dequeue(time.Duration) stream.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.script) == 0 {
		return stream.StatusBuffering
	}
	s := f.script[0]
	if len(f.script) > 1 {
		f.script = f.script[1:]
	}
	return s
}

func (f *fakeStream) FirstDTS() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.firstDTS
}

func (f *fakeStream) BufferedLevel() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.level
}

func (f *fakeStream) MinAheadTime() time.Duration { return 0 }

func (f *fakeStream) SetPosition(at time.Duration, tryOnly bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return false
	}
	if !tryOnly {
		f.committed = append(f.committed, at)
	}
	return true
}

func (f *fakeStream) PlaybackTime() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playback
}

func (f *fakeStream) MediaPlaybackTimes() (stream.Times, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.times == nil {
		return stream.Times{}, false
	}
	return *f.times, true
}

func (f *fakeStream) Reactivate(at time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactivated = append(f.reactivated, at)
	f.disabled = false
	return true
}

func (f *fakeStream) Valid() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.invalid
}

func (f *fakeStream) Disabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disabled
}

func (f *fakeStream) SetDisabled(disabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disabled = disabled
}

func (f *fakeStream) Selected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.unselected
}

func (f *fakeStream) HasOutput() bool { return false }

func (f *fakeStream) EOF() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.eof
}

func (f *fakeStream) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

// fakeFactory hands out one fakeStream per period and set
type fakeFactory struct {
	mu      sync.Mutex
	streams map[string]*fakeStream
	fail    map[playlist.ID]bool
	calls   []playlist.ID
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{streams: map[string]*fakeStream{}, fail: map[playlist.ID]bool{}}
}

func (f *fakeFactory) get(period, set playlist.ID) *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fmt.Sprintf("%s/%s", period, set)
	st, ok := f.streams[key]
	if !ok {
		st = &fakeStream{id: set, calls: &f.calls, firstDTS: playlist.TimeInvalid}
		f.streams[key] = st
	}
	return st
}

func (f *fakeFactory) Create(period *playlist.Period, set *playlist.AdaptationSet, _ *tracker.SegmentTracker, _ transport.ConnectionManager, _ demux.Sink) (stream.AbstractStream, error) {
	if f.fail[set.ID] {
		return nil, errors.New("no segments")
	}
	return f.get(period.ID, set.ID), nil
}

type recordingSink struct {
	mu      sync.Mutex
	samples []demux.Sample
	pcr     []time.Duration
	resets  int
}

func (s *recordingSink) Send(_ playlist.ID, smp demux.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, smp)
}

func (s *recordingSink) SetPCR(t time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pcr = append(s.pcr, t)
}

func (s *recordingSink) ResetPCR() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
}

type recordingEvents struct {
	mu        sync.Mutex
	periods   []string
	seeks     []error
	failures  []int
	exhausted int
	prunes    []int
	switches  int
}

func (e *recordingEvents) LogSessionStart(string, string, bool) {}
func (e *recordingEvents) LogNewPeriod(id string, _ time.Duration, _ int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.periods = append(e.periods, id)
}
func (e *recordingEvents) LogSwitch(string, string, string, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.switches++
}
func (e *recordingEvents) LogSeek(_ time.Duration, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seeks = append(e.seeks, err)
}
func (e *recordingEvents) LogUpdateFailed(_ error, failures int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = append(e.failures, failures)
}
func (e *recordingEvents) LogUpdatesExhausted(int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.exhausted++
}
func (e *recordingEvents) LogPrune(_ time.Duration, dropped int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prunes = append(e.prunes, dropped)
}
func (e *recordingEvents) LogPlaylist(*PlaylistLog) {}

type fakeSource struct {
	mu      sync.Mutex
	fail    int
	updated *playlist.Playlist
	calls   int
}

func (s *fakeSource) Update(context.Context, []*playlist.Representation) (*playlist.Playlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail > 0 {
		s.fail--
		return nil, errors.New("503")
	}
	return s.updated, nil
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func makePeriod(id playlist.ID, start time.Duration, sets ...playlist.ID) *playlist.Period {
	p := &playlist.Period{ID: id, Start: start}
	for _, set := range sets {
		rep := playlist.NewRepresentation(set+"-1", 128000)
		p.AdaptationSets = append(p.AdaptationSets, &playlist.AdaptationSet{
			ID:              set,
			Type:            playlist.StreamAudio,
			Representations: []*playlist.Representation{rep},
		})
	}
	return p
}

type harness struct {
	m       *PlaylistManager
	factory *fakeFactory
	out     *recordingSink
	events  *recordingEvents
}

func newHarness(pl *playlist.Playlist, source Source) *harness {
	h := &harness{factory: newFakeFactory(), out: &recordingSink{}, events: &recordingEvents{}}
	opts := Options{
		Logic:       logic.TypeAlwaysLowest,
		PollTimeout: 5 * time.Millisecond,
		Events:      h.events,
		Clock:       func() time.Time { return epoch },
	}
	h.m = New(pl, h.factory, nopConn{}, source, h.out, opts, zerolog.Nop())
	return h
}

func (h *harness) setClock(t time.Duration) {
	h.m.demuxMu.Lock()
	defer h.m.demuxMu.Unlock()
	h.m.clock = t
}

type nopConn struct{}

func (nopConn) Download(context.Context, playlist.ID, *playlist.Chunk) (*transport.Result, error) {
	return nil, errors.New("offline")
}
func (nopConn) CloseAll() {}

func TestStartErrors(t *testing.T) {
	h := newHarness(playlist.New(playlist.Options{}), nil)
	assert.ErrorIs(t, h.m.Start(context.Background()), playlist.ErrNoPeriod)

	pl := playlist.New(playlist.Options{}, makePeriod("p0", 0, "a"))
	h = newHarness(pl, nil)
	h.factory.fail["a"] = true
	assert.ErrorIs(t, h.m.Start(context.Background()), ErrNoStreams)

	h = newHarness(pl, nil)
	h.m.opts.Logic = logic.Type(99)
	assert.ErrorIs(t, h.m.Start(context.Background()), ErrNoLogic)
}

func TestSession(t *testing.T) {
	pl := playlist.New(playlist.Options{}, makePeriod("p0", 0, "a"))
	a := newHarness(pl, nil).m
	b := newHarness(pl, nil).m
	assert.NotEmpty(t, a.Session())
	assert.NotEqual(t, a.Session(), b.Session())

	m := New(pl, newFakeFactory(), nopConn{}, nil, &recordingSink{}, Options{Session: "fixed"}, zerolog.Nop())
	assert.Equal(t, "fixed", m.Session())
}

func TestSetupSkipsFailedSets(t *testing.T) {
	pl := playlist.New(playlist.Options{}, makePeriod("p0", 0, "a", "b"))
	h := newHarness(pl, nil)
	h.factory.fail["a"] = true
	require.NoError(t, h.m.prepare())
	streams := h.m.Streams()
	require.Len(t, streams, 1)
	assert.Equal(t, playlist.ID("b"), streams[0].ID())
	assert.Equal(t, []string{"p0"}, h.events.periods)
}

func TestDemuxAggregation(t *testing.T) {
	pl := playlist.New(playlist.Options{}, makePeriod("p0", 0, "a", "b"))
	h := newHarness(pl, nil)
	require.NoError(t, h.m.prepare())
	a, b := h.factory.get("p0", "a"), h.factory.get("p0", "b")

	h.setClock(10 * time.Second)
	a.script = []stream.Status{stream.StatusBufferingAhead}
	a.firstDTS = 12 * time.Second
	b.script = []stream.Status{stream.StatusDemuxed}
	assert.Equal(t, stream.StatusBufferingAhead, h.m.Demux(50*time.Millisecond))
	assert.Equal(t, 12*time.Second, h.m.PCR())

	a.script = []stream.Status{stream.StatusDemuxed}
	assert.Equal(t, stream.StatusDemuxed, h.m.Demux(50*time.Millisecond))
	assert.Equal(t, 12*time.Second+50*time.Millisecond, h.m.PCR())
	assert.Equal(t, []time.Duration{11*time.Second + 950*time.Millisecond}, h.out.pcr)

	a.script = []stream.Status{stream.StatusDiscontinuity}
	assert.Equal(t, stream.StatusDiscontinuity, h.m.Demux(50*time.Millisecond))
	assert.Equal(t, playlist.TimeInvalid, h.m.currentClock())
	assert.Equal(t, 1, h.out.resets)
}

func TestDemuxWithoutClock(t *testing.T) {
	pl := playlist.New(playlist.Options{}, makePeriod("p0", 0, "a", "b"))
	h := newHarness(pl, nil)
	require.NoError(t, h.m.prepare())
	a, b := h.factory.get("p0", "a"), h.factory.get("p0", "b")

	assert.Equal(t, stream.StatusBuffering, h.m.Demux(50*time.Millisecond))

	a.disabled = true
	b.disabled = true
	assert.Equal(t, stream.StatusEOF, h.m.Demux(50*time.Millisecond))

	a.disabled = false
	a.invalid = true
	b.invalid = true
	assert.Equal(t, stream.StatusEOF, h.m.Demux(50*time.Millisecond))
}

func TestMaskedDiscontinuity(t *testing.T) {
	pl := playlist.New(playlist.Options{}, makePeriod("p0", 0, "a", "b"))
	h := newHarness(pl, nil)
	require.NoError(t, h.m.prepare())
	a, b := h.factory.get("p0", "a"), h.factory.get("p0", "b")

	h.setClock(10 * time.Second)
	a.script = []stream.Status{stream.StatusDiscontinuity, stream.StatusDemuxed}
	b.script = []stream.Status{stream.StatusBuffering, stream.StatusDemuxed}

	assert.Equal(t, stream.StatusBuffering, h.m.Demux(50*time.Millisecond))
	assert.Equal(t, 10*time.Second, h.m.currentClock())
	assert.Equal(t, stream.StatusDiscontinuity, h.m.Demux(50*time.Millisecond))
	assert.Equal(t, playlist.TimeInvalid, h.m.currentClock())
	assert.Equal(t, 1, h.out.resets)

	h.setClock(20 * time.Second)
	assert.Equal(t, stream.StatusDemuxed, h.m.Demux(50*time.Millisecond))
}

func TestPeriodTransition(t *testing.T) {
	pl := playlist.New(playlist.Options{},
		makePeriod("p0", 0, "a", "b"),
		makePeriod("p1", 10*time.Second, "a", "b"))
	h := newHarness(pl, nil)
	require.NoError(t, h.m.prepare())
	old := []*fakeStream{h.factory.get("p0", "a"), h.factory.get("p0", "b")}
	for _, st := range old {
		st.script = []stream.Status{stream.StatusEOF}
	}

	h.setClock(9 * time.Second)
	assert.Equal(t, stream.StatusEndOfPeriod, h.m.Demux(50*time.Millisecond))
	assert.Equal(t, playlist.ID("p1"), h.m.Period().ID)
	assert.True(t, old[0].closed)
	assert.True(t, old[1].closed)
	assert.Equal(t, playlist.TimeInvalid, h.m.currentClock())
	assert.Equal(t, 1, h.out.resets)
	assert.Equal(t, []string{"p0", "p1"}, h.events.periods)

	streams := h.m.Streams()
	require.Len(t, streams, 2)
	assert.Same(t, h.factory.get("p1", "a"), streams[0])

	for _, st := range streams {
		st.(*fakeStream).script = []stream.Status{stream.StatusEOF}
	}
	h.setClock(20 * time.Second)
	assert.Equal(t, stream.StatusEOF, h.m.Demux(50*time.Millisecond))
	assert.Equal(t, playlist.ID("p1"), h.m.Period().ID)
}

func TestControlDuringDownload(t *testing.T) {
	pl := playlist.New(playlist.Options{},
		makePeriod("p0", 0, "a"),
		makePeriod("p1", 10*time.Second, "a"))
	h := newHarness(pl, nil)
	a := h.factory.get("p0", "a")
	hold := make(chan struct{})
	entered := make(chan struct{}, 1)
	a.hold, a.entered = hold, entered
	a.buffering = stream.BufferingFull
	require.NoError(t, h.m.Start(context.Background()))
	defer h.m.Stop()
	defer close(hold)

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("no download started")
	}

	started := time.Now()
	require.NoError(t, h.m.SetTime(2*time.Second))
	require.NoError(t, h.m.SetPauseState(true))
	require.NoError(t, h.m.SetPauseState(false))
	assert.Less(t, time.Since(started), 500*time.Millisecond)
	assert.Equal(t, []time.Duration{2 * time.Second}, a.committed)

	a.script = []stream.Status{stream.StatusEOF}
	h.setClock(2 * time.Second)
	started = time.Now()
	assert.Equal(t, stream.StatusEndOfPeriod, h.m.Demux(50*time.Millisecond))
	assert.Less(t, time.Since(started), 500*time.Millisecond)
	assert.Equal(t, playlist.ID("p1"), h.m.Period().ID)
	assert.True(t, a.closed)
}

func TestPauseDuringPeriodChanges(t *testing.T) {
	const periods = 50
	var list []*playlist.Period
	for i := 0; i < periods; i++ {
		list = append(list, makePeriod(playlist.ID(fmt.Sprintf("p%d", i)), time.Duration(i)*time.Second, "a"))
	}
	pl := playlist.New(playlist.Options{}, list...)
	h := newHarness(pl, nil)
	for _, p := range list {
		h.factory.get(p.ID, "a").script = []stream.Status{stream.StatusEOF}
	}
	require.NoError(t, h.m.prepare())

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for paused := true; ; paused = !paused {
			select {
			case <-done:
				return
			default:
			}
			assert.NoError(t, h.m.SetPauseState(paused))
		}
	}()

	for i := 0; i < periods-1; i++ {
		h.setClock(time.Second)
		require.Equal(t, stream.StatusEndOfPeriod, h.m.Demux(50*time.Millisecond))
	}
	h.setClock(time.Second)
	assert.Equal(t, stream.StatusEOF, h.m.Demux(50*time.Millisecond))
	close(done)
	wg.Wait()
	assert.Len(t, h.events.periods, periods)
}

func TestPeriodTransitionWithoutStreams(t *testing.T) {
	pl := playlist.New(playlist.Options{},
		makePeriod("p0", 0, "a"),
		makePeriod("p1", 10*time.Second, "b"))
	h := newHarness(pl, nil)
	require.NoError(t, h.m.prepare())
	h.factory.get("p0", "a").script = []stream.Status{stream.StatusEOF}
	h.factory.fail["b"] = true

	h.setClock(9 * time.Second)
	assert.Equal(t, stream.StatusEOF, h.m.Demux(50*time.Millisecond))
}

func TestSeekAtomicity(t *testing.T) {
	pl := playlist.New(playlist.Options{Duration: time.Minute}, makePeriod("p0", 0, "a", "b", "c"))
	h := newHarness(pl, nil)
	require.NoError(t, h.m.prepare())
	a, b, c := h.factory.get("p0", "a"), h.factory.get("p0", "b"), h.factory.get("p0", "c")
	h.setClock(10 * time.Second)

	b.reject = true
	err := h.m.SetTime(20 * time.Second)
	assert.ErrorIs(t, err, ErrSeekRejected)
	assert.Empty(t, a.committed)
	assert.Empty(t, b.committed)
	assert.Empty(t, c.committed)
	assert.Equal(t, 10*time.Second, h.m.currentClock())
	assert.Zero(t, h.out.resets)

	b.reject = false
	c.disabled = true
	require.NoError(t, h.m.SetTime(20*time.Second))
	assert.Equal(t, []time.Duration{20 * time.Second}, a.committed)
	assert.Equal(t, []time.Duration{20 * time.Second}, b.committed)
	assert.Empty(t, c.committed)
	assert.Equal(t, playlist.TimeInvalid, h.m.currentClock())
	assert.Equal(t, 1, h.out.resets)
	now, ok := h.m.Time()
	assert.True(t, ok)
	assert.Equal(t, 20*time.Second, now)
	require.Len(t, h.events.seeks, 2)
	assert.Error(t, h.events.seeks[0])
	assert.NoError(t, h.events.seeks[1])

	a.disabled, b.disabled = true, true
	assert.ErrorIs(t, h.m.SetPosition(0), ErrNoStreams)
}

func TestBufferizeOrderAndClock(t *testing.T) {
	pl := playlist.New(playlist.Options{}, makePeriod("p0", 0, "a", "b"))
	h := newHarness(pl, nil)
	require.NoError(t, h.m.prepare())
	a, b := h.factory.get("p0", "a"), h.factory.get("p0", "b")
	ctx := context.Background()

	a.buffering = stream.BufferingLessThanMin
	b.buffering = stream.BufferingFull
	b.level = time.Second
	assert.Equal(t, stream.BufferingLessThanMin, h.m.bufferize(ctx))
	assert.Equal(t, []playlist.ID{"a"}, h.factory.calls)
	assert.Equal(t, playlist.TimeInvalid, h.m.currentClock())

	// the starving stream goes first
	h.factory.calls = nil
	a.level = 5 * time.Second
	a.buffering = stream.BufferingFull
	a.firstDTS = 10 * time.Second
	b.firstDTS = 9 * time.Second
	assert.Equal(t, stream.BufferingFull, h.m.bufferize(ctx))
	assert.Equal(t, []playlist.ID{"a", "b"}, h.factory.calls)
	assert.Equal(t, 9*time.Second, h.m.currentClock())
	assert.Equal(t, 9*time.Second, h.m.FirstDTS())
}

func TestBufferizeSelection(t *testing.T) {
	pl := playlist.New(playlist.Options{}, makePeriod("p0", 0, "a", "b"))
	h := newHarness(pl, nil)
	require.NoError(t, h.m.prepare())
	a, b := h.factory.get("p0", "a"), h.factory.get("p0", "b")
	a.buffering, b.buffering = stream.BufferingFull, stream.BufferingFull
	ctx := context.Background()

	b.unselected = true
	h.m.bufferize(ctx)
	assert.True(t, b.disabled)
	assert.Equal(t, []playlist.ID{"a"}, h.factory.calls)

	b.unselected = false
	h.m.bufferize(ctx)
	assert.False(t, b.disabled)
	assert.Len(t, b.reactivated, 1)

	assert.True(t, h.m.SetStreamDisabled("b", true))
	assert.True(t, b.disabled)
	h.factory.calls = nil
	h.m.bufferize(ctx)
	assert.Equal(t, []playlist.ID{"a"}, h.factory.calls)

	assert.True(t, h.m.SetStreamDisabled("b", false))
	assert.False(t, b.disabled)
	assert.False(t, h.m.SetStreamDisabled("x", true))
}

func TestNeedsUpdate(t *testing.T) {
	static := playlist.New(playlist.Options{}, makePeriod("p0", 0, "a"))
	h := newHarness(static, &fakeSource{})
	assert.False(t, h.m.NeedsUpdate())

	live := playlist.New(playlist.Options{Live: true}, makePeriod("p0", 0, "a"))
	h = newHarness(live, nil)
	assert.False(t, h.m.NeedsUpdate())
	assert.ErrorIs(t, h.m.UpdatePlaylist(context.Background()), ErrNoSource)

	source := &fakeSource{fail: 5}
	h = newHarness(live, source)
	require.NoError(t, h.m.prepare())
	for i := 0; i < 3; i++ {
		assert.True(t, h.m.NeedsUpdate())
		assert.Error(t, h.m.UpdatePlaylist(context.Background()))
	}
	assert.False(t, h.m.NeedsUpdate())
	assert.Equal(t, []int{1, 2, 3}, h.events.failures)
	assert.Equal(t, 1, h.events.exhausted)
}

func TestUpdateMergeAndPrune(t *testing.T) {
	segments := func(first, last int) []playlist.Segment {
		var segs []playlist.Segment
		for n := first; n <= last; n++ {
			segs = append(segs, playlist.Segment{
				Number:   uint64(n),
				Start:    time.Duration(n-1) * 2 * time.Second,
				Duration: 2 * time.Second,
				URL:      fmt.Sprintf("seg-%d.aac", n),
			})
		}
		return segs
	}
	live := playlist.New(playlist.Options{Live: true}, makePeriod("p0", 0, "a"))
	rep := live.FirstPeriod().AdaptationSets[0].Representations[0]
	rep.SetSegments(nil, segments(1, 12), true, playlist.MergeByNumber)

	updated := playlist.New(playlist.Options{Live: true}, makePeriod("p0", 0, "a"))
	updated.FirstPeriod().AdaptationSets[0].Representations[0].SetSegments(nil, segments(12, 13), true, playlist.MergeByNumber)

	source := &fakeSource{fail: 1, updated: updated}
	h := newHarness(live, source)
	require.NoError(t, h.m.prepare())
	h.factory.get("p0", "a").playback = 22 * time.Second

	assert.Error(t, h.m.UpdatePlaylist(context.Background()))
	require.NoError(t, h.m.UpdatePlaylist(context.Background()))
	assert.True(t, h.m.NeedsUpdate())
	assert.Zero(t, h.m.failures.Load())
	assert.Equal(t, []int{11}, h.events.prunes)
	first, last, ok := rep.NumberRange()
	require.True(t, ok)
	assert.Equal(t, uint64(12), first)
	assert.Equal(t, uint64(13), last)
}

func TestUpdateBelowPruneThreshold(t *testing.T) {
	live := playlist.New(playlist.Options{Live: true}, makePeriod("p0", 0, "a"))
	rep := live.FirstPeriod().AdaptationSets[0].Representations[0]
	rep.SetSegments(nil, []playlist.Segment{
		{Number: 1, Duration: 2 * time.Second, URL: "1"},
		{Number: 2, Start: 2 * time.Second, Duration: 2 * time.Second, URL: "2"},
	}, true, playlist.MergeByNumber)

	h := newHarness(live, &fakeSource{updated: playlist.New(playlist.Options{Live: true})})
	require.NoError(t, h.m.prepare())
	h.factory.get("p0", "a").playback = 3 * time.Second
	require.NoError(t, h.m.UpdatePlaylist(context.Background()))
	assert.Empty(t, h.events.prunes)
	assert.Equal(t, 2, rep.SegmentCount())
}

func TestControlStatic(t *testing.T) {
	pl := playlist.New(playlist.Options{Duration: time.Minute}, makePeriod("p0", 0, "a"))
	h := newHarness(pl, nil)
	require.NoError(t, h.m.prepare())
	a := h.factory.get("p0", "a")
	a.times = &stream.Times{Start: 0, End: time.Minute, RapPlaylistStart: 10 * time.Second, RapDemuxStart: 1010 * time.Second}

	h.setClock(1025 * time.Second)
	h.m.updateControlsPosition(true)

	v, err := h.m.Control(QueryGetTime)
	require.NoError(t, err)
	assert.Equal(t, 25*time.Second, v)
	v, err = h.m.Control(QueryGetLength)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, v)
	v, err = h.m.Control(QueryGetPosition)
	require.NoError(t, err)
	assert.InDelta(t, 25.0/60.0, v, 1e-9)

	for _, q := range []Query{QueryCanSeek, QueryCanPause, QueryCanControlPace} {
		v, err = h.m.Control(q)
		require.NoError(t, err)
		assert.Equal(t, true, v)
	}
	v, err = h.m.Control(QueryGetPTSDelay)
	require.NoError(t, err)
	assert.Equal(t, time.Second, v)

	_, err = h.m.Control(Query(99))
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = h.m.Control(QuerySetTime, 5)
	assert.ErrorIs(t, err, ErrBadArgument)
	_, err = h.m.Control(QuerySetPosition)
	assert.ErrorIs(t, err, ErrBadArgument)

	_, err = h.m.Control(QuerySetPosition, 0.5)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{30 * time.Second}, a.committed)

	_, err = h.m.Control(QuerySetPauseState, true)
	require.NoError(t, err)
	assert.True(t, h.m.Paused())
}

func TestControlCacheThrottle(t *testing.T) {
	pl := playlist.New(playlist.Options{Duration: time.Minute}, makePeriod("p0", 0, "a"))
	h := newHarness(pl, nil)
	now := epoch
	h.m.opts.Clock = func() time.Time { return now }
	require.NoError(t, h.m.prepare())
	a := h.factory.get("p0", "a")
	a.times = &stream.Times{End: time.Minute, RapPlaylistStart: playlist.TimeInvalid, RapDemuxStart: playlist.TimeInvalid}

	h.setClock(5 * time.Second)
	h.m.updateControlsPosition(true)
	h.setClock(6 * time.Second)
	h.m.updateControlsPosition(false)
	got, _ := h.m.Time()
	assert.Equal(t, 5*time.Second, got)

	now = now.Add(time.Second)
	h.m.updateControlsPosition(false)
	got, _ = h.m.Time()
	assert.Equal(t, 6*time.Second, got)
}

func TestControlLive(t *testing.T) {
	pl := playlist.New(playlist.Options{Live: true}, makePeriod("p0", 0, "a"))
	h := newHarness(pl, nil)
	require.NoError(t, h.m.prepare())

	h.m.updateControlsPosition(true)
	_, err := h.m.Length()
	assert.ErrorIs(t, err, ErrUnsupported)
	_, err = h.m.Position()
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.ErrorIs(t, h.m.SetPositionFraction(0.5), ErrUnsupported)

	a := h.factory.get("p0", "a")
	a.times = &stream.Times{Start: 100 * time.Second, End: 160 * time.Second, RapPlaylistStart: playlist.TimeInvalid, RapDemuxStart: playlist.TimeInvalid}
	h.setClock(130 * time.Second)
	h.m.updateControlsPosition(true)
	length, err := h.m.Length()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, length)
	pos, err := h.m.Position()
	require.NoError(t, err)
	assert.InDelta(t, 0.5, pos, 1e-9)

	// paused until the window moved past the position
	require.NoError(t, h.m.SetPauseState(true))
	h.setClock(90 * time.Second)
	require.NoError(t, h.m.SetPauseState(false))
	assert.Equal(t, []time.Duration{145 * time.Second}, a.committed)
	assert.False(t, h.m.Paused())
}

// playbackConn serves every chunk with its URL as payload
type playbackConn struct{}

func (playbackConn) Download(_ context.Context, _ playlist.ID, chunk *playlist.Chunk) (*transport.Result, error) {
	data := []byte(chunk.URL)
	return &transport.Result{Data: data, Bytes: uint64(len(data)), Elapsed: time.Millisecond}, nil
}
func (playbackConn) CloseAll() {}

func TestPlayback(t *testing.T) {
	period := func(id playlist.ID, start time.Duration) *playlist.Period {
		rep := playlist.NewRepresentation("a1", 128000)
		rep.Format = playlist.FormatPackedAAC
		var segs []playlist.Segment
		for i := 0; i < 3; i++ {
			segs = append(segs, playlist.Segment{
				Number:   uint64(i + 1),
				Start:    time.Duration(i) * 2 * time.Second,
				Duration: 2 * time.Second,
				URL:      fmt.Sprintf("%s-%d.aac", id, i+1),
			})
		}
		rep.SetSegments(nil, segs, false, playlist.MergeByNumber)
		return &playlist.Period{ID: id, Start: start, Duration: 6 * time.Second, AdaptationSets: []*playlist.AdaptationSet{
			{ID: "audio", Type: playlist.StreamAudio, Representations: []*playlist.Representation{rep}},
		}}
	}
	pl := playlist.New(playlist.Options{Duration: 12 * time.Second}, period("p0", 0), period("p1", 6*time.Second))
	out := &recordingSink{}
	m := New(pl, stream.NewFactory(stream.Options{}, zerolog.Nop()), playbackConn{}, nil, out, Options{
		Logic:       logic.TypeNearOptimal,
		PollTimeout: 5 * time.Millisecond,
		Events:      &recordingEvents{},
	}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop()
	assert.ErrorIs(t, m.Start(ctx), ErrStarted)

	var statuses []stream.Status
	for ctx.Err() == nil {
		s := m.Demux(DefaultDemuxIncrement)
		if s == stream.StatusEndOfPeriod || s == stream.StatusEOF {
			statuses = append(statuses, s)
		}
		if s == stream.StatusEOF {
			break
		}
	}
	require.NoError(t, ctx.Err())
	assert.Equal(t, []stream.Status{stream.StatusEndOfPeriod, stream.StatusEOF}, statuses)

	out.mu.Lock()
	defer out.mu.Unlock()
	var dts []time.Duration
	for _, s := range out.samples {
		dts = append(dts, s.DTS)
	}
	assert.Equal(t, []time.Duration{0, 2 * time.Second, 4 * time.Second, 6 * time.Second, 8 * time.Second, 10 * time.Second}, dts)
	assert.GreaterOrEqual(t, out.resets, 1)
}
