package stream

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
	"github.com/jdeisenh/abrplay/pkg/tracker"
	"github.com/jdeisenh/abrplay/pkg/transport"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const periodStart = 10 * time.Second

type fakeConn struct {
	mu       sync.Mutex
	fail     map[string]int
	err      error
	requests []string
	// called during the download, without c.mu
	during func(url string)
}

func (c *fakeConn) Download(_ context.Context, _ playlist.ID, chunk *playlist.Chunk) (*transport.Result, error) {
	c.mu.Lock()
	during := c.during
	c.mu.Unlock()
	if during != nil {
		during(chunk.URL)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, chunk.URL)
	if c.fail[chunk.URL] > 0 {
		c.fail[chunk.URL]--
		return nil, c.err
	}
	data := []byte(chunk.URL)
	return &transport.Result{Data: data, Bytes: uint64(len(data)), Elapsed: time.Millisecond}, nil
}

func (c *fakeConn) CloseAll() {}

func (c *fakeConn) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requests) == 0 {
		return ""
	}
	return c.requests[len(c.requests)-1]
}

type sink struct {
	samples    []demux.Sample
	unselected bool
}

func (s *sink) Send(_ playlist.ID, smp demux.Sample) {
	s.samples = append(s.samples, smp)
}
func (s *sink) SetPCR(time.Duration)        {}
func (s *sink) ResetPCR()                   {}
func (s *sink) Selected(_ playlist.ID) bool { return !s.unselected }

func makeSegments(count int) []playlist.Segment {
	segs := make([]playlist.Segment, count)
	for i := range segs {
		segs[i] = playlist.Segment{
			Number:   uint64(i + 1),
			Start:    time.Duration(i) * 2 * time.Second,
			Duration: 2 * time.Second,
			URL:      fmt.Sprintf("seg-%d.aac", i+1),
		}
	}
	return segs
}

type fixture struct {
	stream *Stream
	rep    *playlist.Representation
	conn   *fakeConn
	out    *sink
}

func prepare(t *testing.T, segs []playlist.Segment, live bool, l logic.AdaptationLogic, retries int) *fixture {
	set := &playlist.AdaptationSet{ID: "audio", Type: playlist.StreamAudio}
	rep := playlist.NewRepresentation("a1", 128000)
	rep.Format = playlist.FormatPackedAAC
	rep.SetSegments(nil, segs, live, playlist.MergeByNumber)
	set.Representations = []*playlist.Representation{rep}
	period := &playlist.Period{ID: "p0", Start: periodStart, AdaptationSets: []*playlist.AdaptationSet{set}}
	pl := playlist.New(playlist.Options{Live: live}, period)
	if l == nil {
		l = logic.NewAlwaysLowest()
	}
	tr := tracker.New(set, pl, l, &logic.BufferingLogic{}, zerolog.Nop())

	f := &fixture{rep: rep, conn: &fakeConn{fail: map[string]int{}}, out: &sink{}}
	s, err := New(period, set, tr, f.conn, f.out, Options{Retries: retries}, zerolog.Nop())
	require.NoError(t, err)
	f.stream = s
	return f
}

func (f *fixture) bufferize() BufferingStatus {
	return f.stream.Bufferize(context.Background(), playlist.TimeInvalid, 6*time.Second, 30*time.Second, 30*time.Second)
}

func TestBufferizeDequeue(t *testing.T) {
	f := prepare(t, makeSegments(3), false, nil, 2)
	s := f.stream
	assert.Equal(t, playlist.TimeInvalid, s.FirstDTS())

	assert.Equal(t, BufferingLessThanMin, f.bufferize())
	assert.Equal(t, BufferingLessThanMin, f.bufferize())
	assert.Equal(t, BufferingOngoing, f.bufferize())
	assert.Equal(t, BufferingEnd, f.bufferize())
	assert.Equal(t, []string{"seg-1.aac", "seg-2.aac", "seg-3.aac"}, f.conn.requests)
	assert.Equal(t, periodStart, s.FirstDTS())
	assert.Equal(t, periodStart+6*time.Second, s.BufferedLevel())

	assert.Equal(t, StatusDemuxed, s.Dequeue(9*time.Second))
	assert.Equal(t, StatusBufferingAhead, s.Dequeue(5*time.Second))
	assert.Empty(t, f.out.samples)

	assert.Equal(t, StatusDemuxed, s.Dequeue(12*time.Second))
	require.Len(t, f.out.samples, 2)
	assert.Equal(t, 12*time.Second, f.out.samples[1].DTS)
	assert.True(t, s.HasOutput())
	assert.False(t, s.EOF())

	assert.Equal(t, StatusDemuxed, s.Dequeue(20*time.Second))
	assert.Equal(t, StatusEOF, s.Dequeue(20*time.Second))
	assert.True(t, s.EOF())
	assert.Len(t, f.out.samples, 3)

	times, ok := s.MediaPlaybackTimes()
	require.True(t, ok)
	assert.Equal(t, periodStart, times.Start)
	assert.Equal(t, periodStart+6*time.Second, times.End)
	assert.Equal(t, periodStart, times.RapPlaylistStart)
	assert.Equal(t, periodStart, times.RapDemuxStart)
}

func TestDequeueBuffering(t *testing.T) {
	f := prepare(t, makeSegments(3), false, nil, 2)
	s := f.stream
	f.bufferize()
	assert.Equal(t, StatusBuffering, s.Dequeue(13*time.Second))
	assert.Len(t, f.out.samples, 1)
	assert.Equal(t, StatusBuffering, s.Dequeue(13*time.Second))
}

func TestDownloadRetry(t *testing.T) {
	f := prepare(t, makeSegments(3), false, nil, 2)
	f.conn.err = errors.New("boom")
	f.conn.fail["seg-1.aac"] = 2

	assert.Equal(t, BufferingOngoing, f.bufferize())
	assert.Equal(t, BufferingOngoing, f.bufferize())
	assert.Equal(t, BufferingLessThanMin, f.bufferize())
	assert.Equal(t, []string{"seg-1.aac", "seg-1.aac", "seg-1.aac"}, f.conn.requests)
	assert.Equal(t, periodStart, f.stream.FirstDTS())
}

func TestDownloadGiveUp(t *testing.T) {
	f := prepare(t, makeSegments(3), false, nil, 2)
	f.conn.err = errors.New("boom")
	f.conn.fail["seg-1.aac"] = 3

	for i := 0; i < 3; i++ {
		assert.Equal(t, BufferingOngoing, f.bufferize())
	}
	assert.Equal(t, playlist.TimeInvalid, f.stream.FirstDTS())
	f.bufferize()
	assert.Equal(t, "seg-2.aac", f.conn.last())
	assert.Equal(t, periodStart+2*time.Second, f.stream.FirstDTS())
}

func TestDownloadAbort(t *testing.T) {
	f := prepare(t, makeSegments(3), false, nil, 0)
	f.conn.err = fmt.Errorf("%w: %w", transport.ErrAborted, context.Canceled)
	f.conn.fail["seg-1.aac"] = 5

	for i := 0; i < 5; i++ {
		assert.Equal(t, BufferingOngoing, f.bufferize())
	}
	f.bufferize()
	assert.Len(t, f.conn.requests, 6)
	assert.Equal(t, "seg-1.aac", f.conn.last())
	assert.Equal(t, periodStart, f.stream.FirstDTS())
}

func TestDiscontinuity(t *testing.T) {
	segs := makeSegments(3)
	segs[1].Discontinuity = true
	f := prepare(t, segs, false, nil, 2)
	s := f.stream
	for f.bufferize() != BufferingEnd {
	}

	assert.Equal(t, StatusDemuxed, s.Dequeue(100*time.Second))
	assert.Len(t, f.out.samples, 1)
	assert.Equal(t, StatusDiscontinuity, s.Dequeue(100*time.Second))
	assert.Equal(t, periodStart+2*time.Second, s.FirstDTS())
	assert.Equal(t, StatusDemuxed, s.Dequeue(100*time.Second))
	require.Len(t, f.out.samples, 3)
	assert.True(t, f.out.samples[1].Discontinuity)
	assert.False(t, f.out.samples[2].Discontinuity)
	assert.Equal(t, StatusEOF, s.Dequeue(100*time.Second))

	times, ok := s.MediaPlaybackTimes()
	require.True(t, ok)
	assert.Equal(t, periodStart+2*time.Second, times.RapPlaylistStart)
}

func TestSetPosition(t *testing.T) {
	f := prepare(t, makeSegments(3), false, nil, 2)
	s := f.stream
	f.bufferize()

	assert.True(t, s.SetPosition(periodStart+4500*time.Millisecond, true))
	assert.False(t, s.SetPosition(5*time.Second, true))
	assert.Equal(t, periodStart, s.FirstDTS())

	assert.False(t, s.SetPosition(5*time.Second, false))
	assert.Equal(t, periodStart, s.FirstDTS())

	assert.True(t, s.SetPosition(periodStart+4500*time.Millisecond, false))
	assert.Equal(t, playlist.TimeInvalid, s.FirstDTS())
	assert.Equal(t, playlist.TimeInvalid, s.BufferedLevel())
	f.bufferize()
	assert.Equal(t, "seg-3.aac", f.conn.last())
	assert.Equal(t, periodStart+4*time.Second, s.FirstDTS())
	assert.Equal(t, periodStart+4*time.Second, s.PlaybackTime())
}

func TestSeekDuringDownload(t *testing.T) {
	f := prepare(t, makeSegments(3), false, nil, 2)
	s := f.stream
	f.conn.during = func(url string) {
		if url == "seg-1.aac" {
			require.True(t, s.SetPosition(periodStart+4500*time.Millisecond, false))
		}
	}

	assert.Equal(t, BufferingOngoing, f.bufferize())
	assert.Equal(t, playlist.TimeInvalid, s.FirstDTS())
	assert.Equal(t, playlist.TimeInvalid, s.BufferedLevel())

	f.bufferize()
	assert.Equal(t, "seg-3.aac", f.conn.last())
	assert.Equal(t, periodStart+4*time.Second, s.FirstDTS())

	g := prepare(t, makeSegments(3), false, nil, 2)
	g.conn.during = func(string) { g.stream.Close() }
	assert.Equal(t, BufferingOngoing, g.bufferize())
	assert.Equal(t, playlist.TimeInvalid, g.stream.FirstDTS())
	assert.Equal(t, BufferingEnd, g.bufferize())
}

func TestLiveSuspend(t *testing.T) {
	f := prepare(t, makeSegments(2), true, nil, 2)
	f.bufferize()
	f.bufferize()
	assert.Equal(t, BufferingSuspended, f.bufferize())
	assert.Len(t, f.conn.requests, 2)

	updated := playlist.NewRepresentation("a1", 128000)
	updated.SetSegments(nil, makeSegments(3), true, playlist.MergeByNumber)
	f.rep.Merge(updated)
	assert.Equal(t, BufferingOngoing, f.bufferize())
	assert.Equal(t, "seg-3.aac", f.conn.last())
	assert.Zero(t, f.stream.MinAheadTime())
}

func TestDisable(t *testing.T) {
	l := logic.NewRateBased(zerolog.Nop())
	f := prepare(t, makeSegments(3), false, l, 2)
	s := f.stream
	f.bufferize()
	assert.Equal(t, uint64(128000), l.UsedBps())

	s.SetDisabled(true)
	assert.True(t, s.Disabled())
	assert.Equal(t, uint64(0), l.UsedBps())
	assert.Equal(t, BufferingEnd, f.bufferize())
	assert.Equal(t, StatusEOF, s.Dequeue(time.Hour))
	assert.Equal(t, playlist.TimeInvalid, s.FirstDTS())

	require.True(t, s.Reactivate(periodStart+2*time.Second))
	assert.False(t, s.Disabled())
	f.bufferize()
	assert.Equal(t, "seg-2.aac", f.conn.last())
	assert.Equal(t, uint64(128000), l.UsedBps())

	s.Close()
	assert.Equal(t, uint64(0), l.UsedBps())
	assert.Equal(t, StatusEOF, s.Dequeue(time.Hour))
}

func TestSelected(t *testing.T) {
	f := prepare(t, makeSegments(1), false, nil, 2)
	assert.True(t, f.stream.Selected())
	f.out.unselected = true
	assert.False(t, f.stream.Selected())
}

func TestStatusOrder(t *testing.T) {
	assert.Less(t, StatusEOF, StatusDemuxed)
	assert.Less(t, StatusDemuxed, StatusDiscontinuity)
	assert.Less(t, StatusDiscontinuity, StatusBuffering)
	assert.Less(t, StatusBuffering, StatusBufferingAhead)
	assert.Less(t, BufferingEnd, BufferingSuspended)
	assert.Less(t, BufferingFull, BufferingLessThanMin)
	assert.Equal(t, "buffering_ahead", StatusBufferingAhead.String())
	assert.Equal(t, "lessthanmin", BufferingLessThanMin.String())
}
