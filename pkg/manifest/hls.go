package manifest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	m3u8 "github.com/bluenviron/gohlslib/v2/pkg/playlist"
	"github.com/jdeisenh/abrplay/pkg/playlist"
	"golang.org/x/sync/errgroup"
)

// HLS presentations are mapped to one period with one adaptation set
const (
	hlsPeriodID = playlist.ID("0")
	hlsSetID    = playlist.ID("0")

	maxVariantFetches = 4
)

// hlsIndex is what a media playlist tells about its presentation
type hlsIndex struct {
	live           bool
	targetDuration time.Duration
	duration       time.Duration
}

// openHLS builds the playlist from a multivariant or media playlist and
// remembers where each representation's media playlist lives
func (s *Source) openHLS(ctx context.Context, resp *Response) (*playlist.Playlist, error) {
	parsed, err := m3u8.Unmarshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("parsing HLS playlist: %w", err)
	}
	set := &playlist.AdaptationSet{ID: hlsSetID}
	indexes := make([]hlsIndex, 0, 1)

	switch p := parsed.(type) {
	case *m3u8.Multivariant:
		for i, v := range p.Variants {
			u, err := resp.URL.Parse(v.URI)
			if err != nil {
				return nil, fmt.Errorf("variant %d: %w", i, err)
			}
			rep := playlist.NewRepresentation(playlist.ID(strconv.Itoa(i)), uint64(v.Bandwidth))
			rep.Codecs = v.Codecs
			rep.Width, rep.Height = parseResolution(v.Resolution)
			s.media[rep.ID] = u
			set.Representations = append(set.Representations, rep)
		}
		indexes = make([]hlsIndex, len(set.Representations))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxVariantFetches)
		for i, rep := range set.Representations {
			g.Go(func() error {
				idx, _, err := s.loadMedia(gctx, rep)
				indexes[i] = idx
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

	case *m3u8.Media:
		rep := playlist.NewRepresentation("0", 0)
		s.media[rep.ID] = resp.URL
		idx, err := applyMedia(rep, p, resp.Data, resp.URL)
		if err != nil {
			return nil, err
		}
		indexes = append(indexes, idx)
		set.Representations = append(set.Representations, rep)

	default:
		return nil, fmt.Errorf("%w: unexpected HLS playlist %T", ErrUnknownFormat, parsed)
	}
	if len(set.Representations) == 0 {
		return nil, playlist.ErrNoPeriod
	}

	set.Type, set.MimeType = hlsSetType(set.Representations)
	set.Sort()
	opts := hlsOptions(indexes)
	s.opts = opts
	period := &playlist.Period{ID: hlsPeriodID}
	if !opts.Live {
		period.Duration = opts.Duration
	}
	period.AdaptationSets = []*playlist.AdaptationSet{set}
	pl := playlist.New(opts, period)
	pl.URL = resp.URL.String()
	return pl, nil
}

// updateHLS refetches the media playlists of the selected representations
func (s *Source) updateHLS(ctx context.Context, selected []*playlist.Representation) (*playlist.Playlist, error) {
	set := &playlist.AdaptationSet{ID: hlsSetID}
	var indexes []hlsIndex
	for _, sel := range selected {
		if _, ok := s.media[sel.ID]; !ok {
			continue
		}
		fresh := playlist.NewRepresentation(sel.ID, sel.Bandwidth)
		idx, changed, err := s.loadMedia(ctx, fresh)
		if err != nil {
			return nil, err
		}
		if !changed {
			continue
		}
		indexes = append(indexes, idx)
		set.Representations = append(set.Representations, fresh)
	}
	opts := s.opts
	if len(indexes) > 0 {
		opts = hlsOptions(indexes)
		s.opts = opts
	}
	period := &playlist.Period{ID: hlsPeriodID, AdaptationSets: []*playlist.AdaptationSet{set}}
	return playlist.New(opts, period), nil
}

// loadMedia fetches and applies the media playlist of rep. changed is
// false when the server had nothing new.
func (s *Source) loadMedia(ctx context.Context, rep *playlist.Representation) (idx hlsIndex, changed bool, err error) {
	resp, err := s.fetcher.Fetch(ctx, s.media[rep.ID])
	if err != nil {
		return idx, false, fmt.Errorf("media playlist %s: %w", rep.ID, err)
	}
	if resp.NotModified {
		return idx, false, nil
	}
	parsed, err := m3u8.Unmarshal(resp.Data)
	if err != nil {
		return idx, false, fmt.Errorf("media playlist %s: %w", rep.ID, err)
	}
	media, ok := parsed.(*m3u8.Media)
	if !ok {
		return idx, false, fmt.Errorf("%w: %s is not a media playlist", ErrUnknownFormat, resp.URL)
	}
	idx, err = applyMedia(rep, media, resp.Data, resp.URL)
	return idx, err == nil, err
}

// applyMedia installs the segments of a media playlist
func applyMedia(rep *playlist.Representation, media *m3u8.Media, raw []byte, base *url.URL) (hlsIndex, error) {
	idx := hlsIndex{
		live:           !media.Endlist,
		targetDuration: time.Duration(media.TargetDuration) * time.Second,
	}
	discontinuities := discontinuityMarks(raw)

	var init *playlist.Segment
	if media.Map != nil {
		u, err := base.Parse(media.Map.URI)
		if err != nil {
			return idx, fmt.Errorf("map uri: %w", err)
		}
		init = &playlist.Segment{URL: u.String(), Range: hlsByteRange(media.Map.ByteRangeStart, media.Map.ByteRangeLength, 0)}
	}

	segments := make([]playlist.Segment, 0, len(media.Segments))
	var start time.Duration
	var nextByte uint64
	for i, ms := range media.Segments {
		u, err := base.Parse(ms.URI)
		if err != nil {
			return idx, fmt.Errorf("segment uri: %w", err)
		}
		seg := playlist.Segment{
			Number:        uint64(media.MediaSequence + i),
			Start:         start,
			Duration:      ms.Duration,
			URL:           u.String(),
			Range:         hlsByteRange(ms.ByteRangeStart, ms.ByteRangeLength, nextByte),
			Discontinuity: i < len(discontinuities) && discontinuities[i],
		}
		if seg.Range != nil {
			nextByte = uint64(seg.Range.End) + 1
		}
		segments = append(segments, seg)
		start += ms.Duration
	}
	idx.duration = start

	if rep.Format == playlist.FormatUnknown && len(segments) > 0 {
		rep.Format = playlist.FormatFromURL(segments[0].URL)
	}
	if rep.Format == playlist.FormatUnknown && init != nil {
		rep.Format = playlist.FormatMP4
	}
	rep.SetSegments(init, segments, idx.live, playlist.MergeByNumber)
	return idx, nil
}

// discontinuityMarks reports for each segment of a media playlist
// whether an EXT-X-DISCONTINUITY tag precedes it
func discontinuityMarks(raw []byte) []bool {
	var marks []bool
	pending := false
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, "#EXT-X-DISCONTINUITY") && !strings.HasPrefix(line, "#EXT-X-DISCONTINUITY-SEQUENCE"):
			pending = true
		case strings.HasPrefix(line, "#"):
		default:
			marks = append(marks, pending)
			pending = false
		}
	}
	return marks
}

// hlsByteRange converts EXT-X-BYTERANGE, which continues after the
// previous range when no offset is given
func hlsByteRange(start, length *uint64, next uint64) *playlist.ByteRange {
	if length == nil {
		return nil
	}
	first := next
	if start != nil {
		first = *start
	}
	return &playlist.ByteRange{Start: int64(first), End: int64(first + *length - 1)}
}

func hlsOptions(indexes []hlsIndex) playlist.Options {
	var opts playlist.Options
	for _, idx := range indexes {
		opts.Live = opts.Live || idx.live
		opts.MinUpdatePeriod = max(opts.MinUpdatePeriod, idx.targetDuration)
		opts.Duration = max(opts.Duration, idx.duration)
	}
	if opts.Live {
		opts.Duration = 0
	}
	return opts
}

// hlsSetType guesses the track type from codecs or segment format
func hlsSetType(reps []*playlist.Representation) (playlist.StreamType, string) {
	audioOnly := true
	for _, rep := range reps {
		if len(rep.Codecs) == 0 && rep.Format != playlist.FormatPackedAAC && rep.Format != playlist.FormatPackedAC3 {
			audioOnly = false
		}
		for _, c := range rep.Codecs {
			if !isAudioCodec(c) {
				audioOnly = false
			}
		}
	}
	format := reps[0].Format
	if audioOnly {
		switch format {
		case playlist.FormatPackedAAC:
			return playlist.StreamAudio, "audio/aac"
		case playlist.FormatPackedAC3:
			return playlist.StreamAudio, "audio/ac3"
		case playlist.FormatMPEG2TS:
			return playlist.StreamAudio, "audio/mp2t"
		}
		return playlist.StreamAudio, "audio/mp4"
	}
	if format == playlist.FormatMPEG2TS {
		return playlist.StreamVideo, "video/mp2t"
	}
	return playlist.StreamVideo, "video/mp4"
}

func isAudioCodec(c string) bool {
	c = strings.ToLower(c)
	for _, prefix := range []string{"mp4a", "ac-3", "ec-3", "opus", "flac"} {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// parseResolution splits "1280x720"
func parseResolution(s string) (width, height int) {
	w, h, ok := strings.Cut(s, "x")
	if !ok {
		return 0, 0
	}
	width, _ = strconv.Atoi(w)
	height, _ = strconv.Atoi(h)
	return
}
