// Package transport downloads chunks over HTTP
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/jdeisenh/abrplay/pkg/metrics"
	"github.com/jdeisenh/abrplay/pkg/playlist"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

const DefaultUserAgent = "abrplay/1.0"

var (
	ErrAborted    = errors.New("download aborted")
	ErrNotFound   = errors.New("resource not found")
	ErrHTTPStatus = errors.New("unexpected http status")
)

// StatusError carries the HTTP status of a failed request
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d", e.URL, e.Code)
}

func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusNotFound || e.Code == http.StatusGone {
		return ErrNotFound
	}
	return ErrHTTPStatus
}

// Result of a completed download
type Result struct {
	Data        []byte
	Bytes       uint64
	Elapsed     time.Duration
	ContentType string
}

// RateObserver is informed of every completed download
type RateObserver interface {
	UpdateDownloadRate(id playlist.ID, size uint64, elapsed time.Duration)
}

// Observable connection managers report completed downloads
type Observable interface {
	SetRateObserver(observer RateObserver)
}

type ConnectionManager interface {
	Download(ctx context.Context, id playlist.ID, chunk *playlist.Chunk) (*Result, error)
	// CloseAll aborts all downloads in flight
	CloseAll()
}

type Options struct {
	Timeout       time.Duration
	Retries       int
	RetryDelay    time.Duration
	MaxConcurrent int64
	UserAgent     string
}

// HTTPConnectionManager downloads chunks with bounded concurrency and retries
type HTTPConnectionManager struct {
	client   *http.Client
	opts     Options
	sem      *semaphore.Weighted
	observer RateObserver
	logger   zerolog.Logger

	mu       sync.Mutex
	inflight map[uint64]context.CancelFunc
	nextID   uint64
}

func NewHTTPConnectionManager(opts Options, observer RateObserver, logger zerolog.Logger) *HTTPConnectionManager {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	return &HTTPConnectionManager{
		client: &http.Client{
			Transport: &http.Transport{},
			Timeout:   opts.Timeout,
		},
		opts:     opts,
		sem:      semaphore.NewWeighted(opts.MaxConcurrent),
		observer: observer,
		logger:   logger,
		inflight: make(map[uint64]context.CancelFunc),
	}
}

func (m *HTTPConnectionManager) SetRateObserver(observer RateObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = observer
}

func (m *HTTPConnectionManager) rateObserver() RateObserver {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.observer
}

func (m *HTTPConnectionManager) track(cancel context.CancelFunc) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.inflight[m.nextID] = cancel
	return m.nextID
}

func (m *HTTPConnectionManager) untrack(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, id)
}

func (m *HTTPConnectionManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, cancel := range m.inflight {
		cancel()
		delete(m.inflight, id)
	}
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	return true
}

// Download fetches chunk, retrying network errors and server failures
func (m *HTTPConnectionManager) Download(ctx context.Context, id playlist.ID, chunk *playlist.Chunk) (*Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer m.untrack(m.track(cancel))

	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAborted, err)
	}
	defer m.sem.Release(1)

	for attempt := 0; ; attempt++ {
		res, err := m.fetch(ctx, chunk)
		if err == nil {
			if observer := m.rateObserver(); observer != nil && chunk.Kind == playlist.ChunkMedia {
				observer.UpdateDownloadRate(id, res.Bytes, res.Elapsed)
			}
			metrics.SegmentsDownloaded.WithLabelValues(chunk.Kind.String()).Inc()
			metrics.BytesDownloaded.Add(float64(res.Bytes))
			metrics.DownloadDuration.Observe(res.Elapsed.Seconds())
			m.logger.Debug().Str("stream", string(id)).Msgf("Got %s %d bytes in %s", chunk, res.Bytes, playlist.Round(res.Elapsed))
			return res, nil
		}
		if ctx.Err() != nil {
			metrics.DownloadFailures.WithLabelValues("aborted").Inc()
			return nil, fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
		}
		if !retryable(err) || attempt >= m.opts.Retries {
			reason := "network"
			if errors.Is(err, ErrNotFound) {
				reason = "notfound"
			} else if errors.Is(err, ErrHTTPStatus) {
				reason = "status"
			}
			metrics.DownloadFailures.WithLabelValues(reason).Inc()
			return nil, err
		}
		m.logger.Warn().Err(err).Str("stream", string(id)).Msgf("Retry %d of %s", attempt+1, chunk.URL)
		select {
		case <-ctx.Done():
			metrics.DownloadFailures.WithLabelValues("aborted").Inc()
			return nil, fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
		case <-time.After(m.opts.RetryDelay):
		}
	}
}

func (m *HTTPConnectionManager) fetch(ctx context.Context, chunk *playlist.Chunk) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, chunk.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", m.opts.UserAgent)
	if chunk.Range != nil {
		req.Header.Set("Range", chunk.Range.Header())
	}

	begin := time.Now()
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Code: resp.StatusCode, URL: chunk.URL}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Result{
		Data:        body,
		Bytes:       uint64(len(body)),
		Elapsed:     time.Since(begin),
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}
