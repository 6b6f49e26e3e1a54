// Package stream downloads and demuxes the segments of one adaptation set
// and hands the samples to the output in deadline order.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jdeisenh/abrplay/pkg/demux"
	"github.com/jdeisenh/abrplay/pkg/logic"
	"github.com/jdeisenh/abrplay/pkg/metrics"
	"github.com/jdeisenh/abrplay/pkg/playlist"
	"github.com/jdeisenh/abrplay/pkg/tracker"
	"github.com/jdeisenh/abrplay/pkg/transport"
	"github.com/rs/zerolog"
)

const (
	DefaultRetries = 3
	// Samples starting this far after the deadline put the stream ahead
	aheadTolerance = time.Second
)

var ErrNoStartPosition = errors.New("no start position")

// AbstractStream is one adaptation set as driven by the manager. Bufferize
// runs in the background domain, Dequeue in the demux domain. SetPosition,
// SetDisabled, Reactivate and Close are not called concurrently with
// Bufferize.
type AbstractStream interface {
	ID() playlist.ID
	// Bufferize downloads at most one chunk
	Bufferize(ctx context.Context, deadline, minimum, maximum, target time.Duration) BufferingStatus
	// Dequeue sends the samples up to deadline to the output
	Dequeue(deadline time.Duration) Status
	// FirstDTS is the DTS of the next sample, playlist.TimeInvalid if none
	FirstDTS() time.Duration
	BufferedLevel() time.Duration
	// MinAheadTime is the media available after the current position
	MinAheadTime() time.Duration
	SetPosition(at time.Duration, tryOnly bool) bool
	PlaybackTime() time.Duration
	MediaPlaybackTimes() (Times, bool)
	Reactivate(at time.Duration) bool
	Valid() bool
	Disabled() bool
	SetDisabled(disabled bool)
	Selected() bool
	HasOutput() bool
	// EOF is true once the last sample was dequeued
	EOF() bool
	Close()
}

// Times maps demux timestamps to presentation time: a sample at
// RapDemuxStart plays at RapPlaylistStart.
type Times struct {
	Start            time.Duration
	End              time.Duration
	Length           time.Duration
	RapPlaylistStart time.Duration
	RapDemuxStart    time.Duration
}

// Factory creates the stream of an adaptation set
type Factory interface {
	Create(period *playlist.Period, set *playlist.AdaptationSet, t *tracker.SegmentTracker, conn transport.ConnectionManager, out demux.Sink) (AbstractStream, error)
}

type Options struct {
	// Download attempts of one chunk after the first failure
	Retries int
}

// DefaultFactory creates Streams
type DefaultFactory struct {
	opts   Options
	logger zerolog.Logger
}

func NewFactory(opts Options, logger zerolog.Logger) *DefaultFactory {
	return &DefaultFactory{opts: opts, logger: logger}
}

func (f *DefaultFactory) Create(period *playlist.Period, set *playlist.AdaptationSet, t *tracker.SegmentTracker, conn transport.ConnectionManager, out demux.Sink) (AbstractStream, error) {
	s, err := New(period, set, t, conn, out, f.opts, f.logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Stream downloads through its tracker and queues the demuxed samples
type Stream struct {
	id      playlist.ID
	period  *playlist.Period
	set     *playlist.AdaptationSet
	tracker *tracker.SegmentTracker
	conn    transport.ConnectionManager
	out     demux.Sink
	opts    Options
	logger  zerolog.Logger

	mu       sync.Mutex
	demuxer  demux.Demuxer
	fifo     []demux.Sample
	level    time.Duration // end of the buffered data in demux time
	eof      bool
	valid    bool
	disabled bool
	closed   bool
	output   bool
	cancel   context.CancelFunc
	// bumped by every reset, downloads started before are dropped
	resets uint64
	// failed chunk to download again
	pending  *playlist.Chunk
	failures int
	// the next sample starts a new timeline
	discontinuity bool
	disReported   bool

	rapPlaylistStart time.Duration
	rapDemuxStart    time.Duration
}

// New creates the stream of set and positions it at the start position
func New(period *playlist.Period, set *playlist.AdaptationSet, t *tracker.SegmentTracker, conn transport.ConnectionManager, out demux.Sink, opts Options, logger zerolog.Logger) (*Stream, error) {
	s := &Stream{
		id:      set.ID,
		period:  period,
		set:     set,
		tracker: t,
		conn:    conn,
		out:     out,
		opts:    opts,
		logger:  logger.With().Str("stream", string(set.ID)).Logger(),
		valid:   true,
	}
	s.resetLocked()
	t.RegisterListener(s)
	t.NotifyBufferingState(true)
	if !t.SetStartPosition() {
		t.NotifyBufferingState(false)
		return nil, fmt.Errorf("%w: set %s", ErrNoStartPosition, set.ID)
	}
	s.logger.Debug().Msgf("Created %s stream at %s", set.Type, t.Position())
	return s, nil
}

func (s *Stream) ID() playlist.ID {
	return s.id
}

// resetLocked drops all queued data and timing
func (s *Stream) resetLocked() {
	s.resets++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.fifo = nil
	s.level = playlist.TimeInvalid
	s.pending = nil
	s.failures = 0
	s.discontinuity = false
	s.disReported = false
	s.output = false
	s.demuxer = nil
	s.rapPlaylistStart = playlist.TimeInvalid
	s.rapDemuxStart = playlist.TimeInvalid
}

// TrackerEvent follows the chunks the tracker hands out. It runs inside
// NextChunk, s.mu is not held then.
func (s *Stream) TrackerEvent(ev logic.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch e := ev.(type) {
	case logic.FormatChangeEvent:
		s.logger.Debug().Msgf("Format %s", e.Format)
		s.demuxer = nil
	case logic.DiscontinuityEvent:
		s.logger.Debug().Msgf("Discontinuity at #%d", e.Number)
		s.discontinuity = true
		s.rapPlaylistStart = playlist.TimeInvalid
		s.rapDemuxStart = playlist.TimeInvalid
		// fragmented mp4 keeps its init, timestamp unwrapping must restart
		if s.demuxer != nil && s.demuxer.Format() != playlist.FormatMP4 {
			s.demuxer.Reset()
		}
	case logic.PositionChangeEvent:
		s.rapPlaylistStart = playlist.TimeInvalid
		s.rapDemuxStart = playlist.TimeInvalid
	}
}

func (s *Stream) bufferedLocked(deadline time.Duration) time.Duration {
	if s.level == playlist.TimeInvalid {
		return 0
	}
	from := deadline
	if from == playlist.TimeInvalid {
		if len(s.fifo) == 0 {
			return 0
		}
		from = s.fifo[0].DTS
	}
	return max(0, s.level-from)
}

func (s *Stream) Bufferize(ctx context.Context, deadline, minimum, maximum, target time.Duration) BufferingStatus {
	s.mu.Lock()
	if !s.valid || s.disabled || s.closed || s.eof {
		s.mu.Unlock()
		return BufferingEnd
	}
	buffered := s.bufferedLocked(deadline)
	chunk := s.pending
	resets := s.resets
	s.mu.Unlock()

	if buffered >= maximum {
		return BufferingFull
	}
	s.tracker.NotifyBufferingLevel(minimum, buffered, target)

	if chunk == nil {
		var err error
		chunk, err = s.tracker.NextChunk(true)
		switch {
		case errors.Is(err, tracker.ErrNotYetAvailable):
			s.logger.Trace().Msg("Live edge reached")
			return BufferingSuspended
		case errors.Is(err, tracker.ErrEndOfRepresentation):
			s.logger.Debug().Msg("End of representation")
			s.mu.Lock()
			s.eof = true
			s.mu.Unlock()
			return BufferingEnd
		case errors.Is(err, tracker.ErrSegmentNotFound):
			s.logger.Warn().Err(err).Msg("Segment lookup")
			if !s.tracker.SkipExpired() {
				return BufferingSuspended
			}
			return BufferingOngoing
		case err != nil:
			s.logger.Error().Err(err).Msg("Next chunk")
			s.mu.Lock()
			s.valid = false
			s.mu.Unlock()
			return BufferingEnd
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	if s.resets != resets || s.closed {
		s.mu.Unlock()
		return BufferingOngoing
	}
	s.cancel = cancel
	s.mu.Unlock()

	res, err := s.conn.Download(ctx, s.id, chunk)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resets != resets || s.closed {
		s.logger.Debug().Msgf("Dropped %s after reset", chunk)
		return BufferingOngoing
	}
	s.cancel = nil
	if err != nil {
		return s.downloadFailedLocked(chunk, err)
	}
	s.pending = nil
	s.failures = 0
	s.enqueueLocked(chunk, res.Data)
	if s.bufferedLocked(deadline) < minimum {
		return BufferingLessThanMin
	}
	return BufferingOngoing
}

func (s *Stream) downloadFailedLocked(chunk *playlist.Chunk, err error) BufferingStatus {
	if errors.Is(err, transport.ErrAborted) {
		s.logger.Debug().Msgf("Aborted %s", chunk)
		s.pending = chunk
		return BufferingOngoing
	}
	s.failures++
	if s.failures <= s.opts.Retries {
		s.logger.Warn().Err(err).Msgf("Download %s failed (%d/%d)", chunk, s.failures, s.opts.Retries)
		s.pending = chunk
		return BufferingOngoing
	}
	s.pending = nil
	s.failures = 0
	metrics.DownloadFailures.WithLabelValues("skipped").Inc()
	if chunk.Kind == playlist.ChunkInit {
		s.logger.Error().Err(err).Msg("No init segment, disabling stream")
		s.valid = false
		return BufferingEnd
	}
	s.logger.Error().Err(err).Msgf("Skipping %s", chunk)
	return BufferingOngoing
}

func (s *Stream) enqueueLocked(chunk *playlist.Chunk, data []byte) {
	format := chunk.Format
	if format == playlist.FormatUnknown {
		format = demux.Sniff(data)
	}
	if s.demuxer == nil || s.demuxer.Format() != format {
		s.demuxer = demux.New(format)
	}
	if chunk.Kind == playlist.ChunkInit && format != playlist.FormatMP4 && format != playlist.FormatMPEG2TS {
		return
	}

	segStart := s.period.Start + chunk.Segment.Start
	samples, err := s.demuxer.Demux(data, segStart)
	if err != nil {
		metrics.DownloadFailures.WithLabelValues("demux").Inc()
		s.logger.Warn().Err(err).Msgf("Demux %s", chunk)
	}
	if chunk.Kind != playlist.ChunkMedia {
		return
	}
	for _, smp := range samples {
		if s.rapDemuxStart == playlist.TimeInvalid {
			s.rapDemuxStart = smp.DTS
			s.rapPlaylistStart = segStart
		}
		if s.discontinuity {
			smp.Discontinuity = true
			s.discontinuity = false
		}
		s.fifo = append(s.fifo, smp)
		s.level = max(s.level, smp.DTS+smp.Duration)
	}
	if s.rapDemuxStart != playlist.TimeInvalid {
		// Segment end, samples may not know their duration
		end := s.rapDemuxStart + segStart + chunk.Segment.Duration - s.rapPlaylistStart
		s.level = max(s.level, end)
	}
	s.logger.Trace().Msgf("Queued %d samples of %s, level %s", len(samples), chunk, s.level)
}

func (s *Stream) Dequeue(deadline time.Duration) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.valid || s.disabled || s.closed {
		return StatusEOF
	}
	if len(s.fifo) == 0 && s.eof {
		return StatusEOF
	}

	sent := false
	for len(s.fifo) > 0 {
		smp := s.fifo[0]
		if smp.Discontinuity && !s.disReported {
			if sent {
				break
			}
			s.disReported = true
			return StatusDiscontinuity
		}
		if smp.DTS > deadline {
			break
		}
		s.fifo = s.fifo[1:]
		if smp.Discontinuity {
			s.disReported = false
		}
		s.out.Send(s.id, smp)
		sent = true
		s.output = true
	}

	switch {
	case len(s.fifo) == 0 && s.eof:
		if sent {
			return StatusDemuxed
		}
		return StatusEOF
	case len(s.fifo) == 0:
		return StatusBuffering
	case !s.eof && s.level < deadline:
		return StatusBuffering
	case !sent && s.fifo[0].DTS > deadline+aheadTolerance:
		return StatusBufferingAhead
	}
	return StatusDemuxed
}

func (s *Stream) FirstDTS() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.fifo) == 0 {
		return playlist.TimeInvalid
	}
	return s.fifo[0].DTS
}

func (s *Stream) BufferedLevel() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

func (s *Stream) MinAheadTime() time.Duration {
	pos := s.tracker.Position()
	if !pos.Valid() {
		return 0
	}
	return pos.Rep.MinAheadTime(pos.Number)
}

// SetPosition seeks to the presentation time at. With tryOnly nothing
// changes, the result tells whether the seek would succeed.
func (s *Stream) SetPosition(at time.Duration, tryOnly bool) bool {
	rel := at - s.period.Start
	if tryOnly {
		return s.tracker.SetPositionByTime(rel, true, true)
	}
	if !s.tracker.SetPositionByTime(rel, true, false) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	s.eof = false
	s.logger.Info().Msgf("Seek to %s", playlist.Round(at))
	return true
}

// PlaybackTime is the presentation time of the last segment handed out
func (s *Stream) PlaybackTime() time.Duration {
	return s.period.Start + s.tracker.PlaybackTime()
}

func (s *Stream) MediaPlaybackTimes() (Times, bool) {
	start, end, ok := s.tracker.MediaPlaybackRange()
	if !ok {
		return Times{}, false
	}
	t := Times{
		Start:  s.period.Start + start,
		End:    s.period.Start + end,
		Length: s.period.Duration,
	}
	s.mu.Lock()
	t.RapPlaylistStart = s.rapPlaylistStart
	t.RapDemuxStart = s.rapDemuxStart
	s.mu.Unlock()
	return t, true
}

// Reactivate enables a disabled stream at the presentation time at
func (s *Stream) Reactivate(at time.Duration) bool {
	s.tracker.NotifyBufferingState(true)
	if !s.SetPosition(at, false) {
		s.tracker.NotifyBufferingState(false)
		return false
	}
	s.mu.Lock()
	s.disabled = false
	s.mu.Unlock()
	return true
}

func (s *Stream) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid
}

func (s *Stream) Disabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled
}

// SetDisabled stops or restarts downloading. Disabling releases the
// representation, enabling restarts at the start position.
func (s *Stream) SetDisabled(disabled bool) {
	s.mu.Lock()
	if s.disabled == disabled {
		s.mu.Unlock()
		return
	}
	s.disabled = disabled
	if disabled {
		s.resetLocked()
	}
	s.mu.Unlock()

	s.logger.Debug().Msgf("Disabled %v", disabled)
	if disabled {
		s.tracker.NotifyBufferingState(false)
		s.tracker.Reset()
		return
	}
	s.tracker.NotifyBufferingState(true)
	if !s.tracker.Position().Valid() && !s.tracker.SetStartPosition() {
		s.mu.Lock()
		s.valid = false
		s.mu.Unlock()
	}
}

// Selected asks the output whether it wants the stream
func (s *Stream) Selected() bool {
	if sel, ok := s.out.(demux.Selector); ok {
		return sel.Selected(s.id)
	}
	return true
}

// HasOutput is true once a sample went out since the last position change
func (s *Stream) HasOutput() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output
}

func (s *Stream) EOF() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eof && len(s.fifo) == 0
}

func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.resetLocked()
	s.mu.Unlock()

	s.tracker.NotifyBufferingState(false)
	s.tracker.Reset()
}
