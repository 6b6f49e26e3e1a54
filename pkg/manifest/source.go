package manifest

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/jdeisenh/abrplay/pkg/playlist"
	"github.com/rs/zerolog"
)

type Kind int

const (
	KindDASH Kind = iota
	KindHLS
)

func (k Kind) String() string {
	if k == KindHLS {
		return "hls"
	}
	return "dash"
}

// Source refreshes a live playlist from its origin
type Source struct {
	fetcher *Fetcher
	url     *url.URL
	kind    Kind
	logger  zerolog.Logger

	// media playlist per HLS representation
	media map[playlist.ID]*url.URL
	opts  playlist.Options
}

// Open fetches and parses the manifest at rawURL. The returned Source
// provides the refreshes of live playlists.
func Open(ctx context.Context, fetcher *Fetcher, rawURL string, logger zerolog.Logger) (*playlist.Playlist, *Source, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("manifest url: %w", err)
	}
	resp, err := fetcher.Fetch(ctx, u)
	if err != nil {
		return nil, nil, err
	}
	if resp.NotModified {
		return nil, nil, fmt.Errorf("%w: empty response from %s", ErrStatus, u)
	}

	s := &Source{
		fetcher: fetcher,
		url:     resp.URL,
		logger:  logger.With().Str("manifest", resp.URL.String()).Logger(),
		media:   make(map[playlist.ID]*url.URL),
	}
	var pl *playlist.Playlist
	switch detect(resp) {
	case formatHLS:
		s.kind = KindHLS
		pl, err = s.openHLS(ctx, resp)
	case formatDASH:
		s.kind = KindDASH
		pl, err = ParseDASH(resp.Data, resp.URL)
		if err == nil {
			s.opts = pl.Options()
		}
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownFormat, resp.URL)
	}
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info().Msgf("Opened %s manifest, %d periods, live %t", s.kind, len(pl.Periods()), pl.IsLive())
	return pl, s, nil
}

func (s *Source) Kind() Kind {
	return s.kind
}

// URL is the manifest location after session redirects
func (s *Source) URL() *url.URL {
	return s.url
}

// Update returns a refreshed playlist to merge. Nothing changed on the
// server when it has no periods.
func (s *Source) Update(ctx context.Context, selected []*playlist.Representation) (*playlist.Playlist, error) {
	if s.kind == KindHLS {
		return s.updateHLS(ctx, selected)
	}
	resp, err := s.fetcher.Fetch(ctx, s.url)
	if err != nil {
		return nil, err
	}
	if resp.NotModified {
		return playlist.New(s.opts), nil
	}
	pl, err := ParseDASH(resp.Data, resp.URL)
	if err != nil {
		return nil, err
	}
	s.opts = pl.Options()
	s.logger.Debug().Msgf("Refreshed manifest, %d periods", len(pl.Periods()))
	return pl, nil
}

type format int

const (
	formatUnknown format = iota
	formatDASH
	formatHLS
)

func detect(resp *Response) format {
	data := bytes.TrimLeft(resp.Data, "\xef\xbb\xbf \t\r\n")
	switch {
	case bytes.HasPrefix(data, []byte("#EXTM3U")):
		return formatHLS
	case bytes.Contains(data[:min(len(data), 1024)], []byte("<MPD")):
		return formatDASH
	}
	ct := strings.ToLower(resp.ContentType)
	switch {
	case strings.Contains(ct, "mpegurl"):
		return formatHLS
	case strings.Contains(ct, "dash+xml"):
		return formatDASH
	}
	return formatUnknown
}
