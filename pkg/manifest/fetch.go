// Package manifest loads DASH and HLS manifests into the playlist model
// and refreshes them for live playback.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/jdeisenh/abrplay/pkg/transport"
	"github.com/rs/zerolog"
)

const (
	maxRedirects = 3

	ManifestPath   = "manifests"
	ManifestFormat = "manifest-2006-01-02T15:04:05.000Z"
)

var (
	ErrStatus        = errors.New("manifest fetch failed")
	ErrNoMediaURL    = errors.New("no MediaUrl in session response")
	ErrUnknownFormat = errors.New("unknown manifest format")
)

// Response is a fetched manifest
type Response struct {
	Data        []byte
	URL         *url.URL // after session redirects
	ContentType string
	// NotModified is set when the server reported no change since the
	// last fetch of URL. Data is empty then.
	NotModified bool
}

// Fetcher gets manifests over HTTP, asking the server for changes only
type Fetcher struct {
	client    *http.Client
	userAgent string
	logger    zerolog.Logger

	mu       sync.Mutex
	lastDate map[string]string
	dumpDir  string
	stored   int
	now      func() time.Time
}

func NewFetcher(client *http.Client, userAgent string, logger zerolog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if userAgent == "" {
		userAgent = transport.DefaultUserAgent
	}
	return &Fetcher{
		client:    client,
		userAgent: userAgent,
		logger:    logger,
		lastDate:  make(map[string]string),
		now:       time.Now,
	}
}

// SetDumpDir stores every fetched manifest below dir, named by the time
// of the fetch
func (f *Fetcher) SetDumpDir(dir string) error {
	manifestDir := path.Join(dir, ManifestPath)
	if err := os.MkdirAll(manifestDir, 0o777); err != nil {
		return fmt.Errorf("creating manifest directory: %w", err)
	}
	f.mu.Lock()
	f.dumpDir = manifestDir
	f.mu.Unlock()
	return nil
}

func (f *Fetcher) store(u *url.URL, contents []byte) {
	f.mu.Lock()
	dir := f.dumpDir
	f.stored++
	seq := f.stored
	f.mu.Unlock()
	if dir == "" {
		return
	}
	ext := path.Ext(u.Path)
	if ext == "" {
		ext = ".manifest"
	}
	// Sequence number for fetches within the same millisecond
	filepath := path.Join(dir, fmt.Sprintf("%s-%04d%s", f.now().UTC().Format(ManifestFormat), seq, ext))
	if err := os.WriteFile(filepath, contents, 0o644); err != nil {
		f.logger.Error().Err(err).Str("path", filepath).Msg("Write manifest")
	}
}

// Fetch gets the manifest at u. A JSON response carrying a MediaUrl
// opens a session and the manifest is fetched from there.
func (f *Fetcher) Fetch(ctx context.Context, u *url.URL) (*Response, error) {
	return f.fetch(ctx, u, 0)
}

func (f *Fetcher) fetch(ctx context.Context, u *url.URL, redirects int) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	f.mu.Lock()
	lastDate := f.lastDate[u.String()]
	f.mu.Unlock()
	if lastDate != "" {
		req.Header.Set("If-Modified-Since", lastDate)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Error().Err(err).Str("source", u.String()).Msg("Do Manifest Request")
		return nil, err
	}
	defer resp.Body.Close()
	contents, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	if resp.StatusCode == http.StatusNotModified {
		f.logger.Debug().Str("url", u.String()).Msg("No update")
		return &Response{URL: u, NotModified: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		f.logger.Warn().Int("status", resp.StatusCode).Msg("Manifest fetch")
		return nil, fmt.Errorf("%w: %s: %d", ErrStatus, u, resp.StatusCode)
	}

	ct := resp.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/json") || strings.HasPrefix(ct, "text/plain") && !looksLikeManifest(contents) {
		if redirects >= maxRedirects {
			return nil, fmt.Errorf("%w: too many session redirects", ErrStatus)
		}
		var sessioninfo struct{ MediaUrl string }
		if err := json.Unmarshal(contents, &sessioninfo); err != nil {
			return nil, fmt.Errorf("parsing session response: %w", err)
		}
		if sessioninfo.MediaUrl == "" {
			return nil, ErrNoMediaURL
		}
		sessionURL, err := u.Parse(sessioninfo.MediaUrl)
		if err != nil {
			return nil, fmt.Errorf("session url: %w", err)
		}
		f.logger.Info().Str("url", sessionURL.String()).Msg("Open session")
		return f.fetch(ctx, sessionURL, redirects+1)
	}

	date := resp.Header.Get("Date")
	if date != "" && date == lastDate {
		f.logger.Debug().Str("url", u.String()).Msg("No update")
		return &Response{URL: u, NotModified: true}, nil
	}
	if date != "" {
		f.mu.Lock()
		f.lastDate[u.String()] = date
		f.mu.Unlock()
	}
	f.store(u, contents)
	return &Response{Data: contents, URL: u, ContentType: ct}, nil
}

func looksLikeManifest(data []byte) bool {
	s := strings.TrimSpace(string(data))
	return strings.HasPrefix(s, "#EXTM3U") || strings.HasPrefix(s, "<")
}
