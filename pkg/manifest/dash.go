package manifest

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jdeisenh/abrplay/pkg/go-mpd"
	"github.com/jdeisenh/abrplay/pkg/go-xsd-types"
	"github.com/jdeisenh/abrplay/pkg/playlist"
)

var placeholderRE = regexp.MustCompile(`\$[A-Za-z]*(%0\d+d)?\$`)

// dashContext carries the MPD level values every representation needs
type dashContext struct {
	live              bool
	availabilityStart time.Time
	timeShiftDepth    time.Duration
}

// ParseDASH builds a playlist from an MPD fetched from manifestURL
func ParseDASH(data []byte, manifestURL *url.URL) (*playlist.Playlist, error) {
	m := new(mpd.MPD)
	if err := m.Decode(data); err != nil {
		return nil, fmt.Errorf("decoding MPD: %w", err)
	}

	ctx := dashContext{
		live:           m.Type != nil && *m.Type == "dynamic",
		timeShiftDepth: toDuration(m.TimeShiftBufferDepth),
	}
	if m.AvailabilityStartTime != nil {
		ctx.availabilityStart = time.Time(*m.AvailabilityStartTime)
	}
	presentationDuration := toDuration(m.MediaPresentationDuration)

	pl := playlist.New(playlist.Options{
		Live:                       ctx.live,
		Duration:                   presentationDuration,
		MinUpdatePeriod:            toDuration(m.MinimumUpdatePeriod),
		TimeShiftBufferDepth:       ctx.timeShiftDepth,
		SuggestedPresentationDelay: toDuration(m.SuggestedPresentationDelay),
	})
	pl.URL = manifestURL.String()
	pl.MinBuffering = toDuration(m.MinBufferTime)
	pl.AvailabilityStart = ctx.availabilityStart

	base := resolveBaseURL(manifestURL, m.BaseURL)
	starts := periodStarts(m.Period)
	for i, mp := range m.Period {
		period := &playlist.Period{
			ID:    playlist.ID(fmt.Sprintf("p%d", i)),
			Start: starts[i],
		}
		if mp.ID != nil && *mp.ID != "" {
			period.ID = playlist.ID(*mp.ID)
		}
		switch {
		case mp.Duration != nil:
			period.Duration = mp.Duration.ToDuration()
		case i+1 < len(m.Period) && m.Period[i+1].Start != nil:
			period.Duration = starts[i+1] - starts[i]
		case presentationDuration > period.Start:
			period.Duration = presentationDuration - period.Start
		}
		periodBase := resolveBaseURL(base, mp.BaseURL)
		for j, as := range mp.AdaptationSets {
			set, err := ctx.parseAdaptationSet(period, mp, as, j, periodBase)
			if err != nil {
				return nil, fmt.Errorf("period %s: %w", period.ID, err)
			}
			if len(set.Representations) > 0 {
				period.AdaptationSets = append(period.AdaptationSets, set)
			}
		}
		pl.AddPeriod(period)
	}
	if len(pl.Periods()) == 0 {
		return nil, playlist.ErrNoPeriod
	}
	return pl, nil
}

// periodStarts derives the start of periods without @start from their
// predecessors
func periodStarts(periods []*mpd.Period) []time.Duration {
	starts := make([]time.Duration, len(periods))
	var next time.Duration
	for i, p := range periods {
		if p.Start != nil {
			next = p.Start.ToDuration()
		}
		starts[i] = next
		if p.Duration != nil {
			next += p.Duration.ToDuration()
		}
	}
	return starts
}

func (c dashContext) parseAdaptationSet(period *playlist.Period, mp *mpd.Period, as *mpd.AdaptationSet, index int, base *url.URL) (*playlist.AdaptationSet, error) {
	set := &playlist.AdaptationSet{
		ID:             playlist.ID(strconv.Itoa(index)),
		Lang:           deref(as.Lang),
		Description:    deref(as.Label),
		MimeType:       as.MimeType,
		SegmentAligned: as.SegmentAlignment.True() || as.SubsegmentAlignment.True(),
	}
	if as.Id != nil && *as.Id != "" {
		set.ID = playlist.ID(*as.Id)
	}
	setBase := resolveBaseURL(base, as.BaseURL)

	for i := range as.Representations {
		rep, err := c.parseRepresentation(period, mp, as, &as.Representations[i], i, setBase)
		if err != nil {
			return nil, fmt.Errorf("adaptation set %s: %w", set.ID, err)
		}
		set.Representations = append(set.Representations, rep)
		if set.MimeType == "" {
			set.MimeType = rep.MimeType
		}
	}

	set.Type = playlist.StreamTypeFromMime(deref(as.ContentType))
	if set.Type == playlist.StreamUnknown {
		set.Type = playlist.StreamTypeFromMime(set.MimeType)
	}
	set.Sort()
	return set, nil
}

func (c dashContext) parseRepresentation(period *playlist.Period, mp *mpd.Period, as *mpd.AdaptationSet, r *mpd.Representation, index int, base *url.URL) (*playlist.Representation, error) {
	id := strconv.Itoa(index)
	if r.ID != nil && *r.ID != "" {
		id = *r.ID
	}
	var bandwidth uint64
	if r.Bandwidth != nil {
		bandwidth = *r.Bandwidth
	}
	rep := playlist.NewRepresentation(playlist.ID(id), bandwidth)
	if r.Width != nil {
		rep.Width = int(*r.Width)
	}
	if r.Height != nil {
		rep.Height = int(*r.Height)
	}
	codecs := deref(r.Codecs)
	if codecs == "" {
		codecs = deref(as.Codecs)
	}
	rep.Codecs = splitCodecs(codecs)
	rep.MimeType = deref(r.MimeType)
	if rep.MimeType == "" {
		rep.MimeType = as.MimeType
	}
	rep.Format = playlist.FormatFromMime(rep.MimeType)
	repBase := resolveBaseURL(base, r.BaseURL)

	tmpl := mergeTemplate(mergeTemplate(mp.SegmentTemplate, as.SegmentTemplate), r.SegmentTemplate)
	list := mostSpecific(mp.SegmentList, as.SegmentList, r.SegmentList)

	var err error
	var firstURL string
	switch {
	case tmpl != nil && tmpl.Media != nil && tmpl.SegmentTimeline != nil:
		firstURL, err = c.timelineIndex(rep, period, tmpl, repBase)
	case tmpl != nil && tmpl.Media != nil && tmpl.Duration != nil:
		firstURL, err = c.templateIndex(rep, period, tmpl, repBase)
	case list != nil:
		firstURL, err = c.listIndex(rep, period, list, repBase)
	default:
		firstURL, err = c.singleIndex(rep, period, mostSpecific(mp.SegmentBase, as.SegmentBase, r.SegmentBase), repBase)
	}
	if err != nil {
		return nil, fmt.Errorf("representation %s: %w", id, err)
	}
	if rep.Format == playlist.FormatUnknown {
		rep.Format = playlist.FormatFromURL(firstURL)
	}
	return rep, nil
}

// timelineIndex expands a SegmentTemplate with SegmentTimeline into
// explicit segments
func (c dashContext) timelineIndex(rep *playlist.Representation, period *playlist.Period, tmpl *mpd.SegmentTemplate, base *url.URL) (string, error) {
	timescale := max(derefOr(tmpl.Timescale, 1), 1)
	pto := derefOr(tmpl.PresentationTimeOffset, 0)
	number := derefOr(tmpl.StartNumber, 1)
	var end uint64
	if period.Duration > 0 {
		end = pto + uint64(playlist.Duration2TLP(period.Duration, timescale))
	}
	if period.Duration == 0 && !c.live {
		from, to := timelineRange(tmpl.SegmentTimeline, end)
		period.Duration = playlist.TLP2Duration(int64(to)-int64(from), timescale)
	}

	media := resolveTemplate(base, *tmpl.Media)
	replacer := playlist.NewPathReplacer(media)
	var segments []playlist.Segment
	for t, d := range timelineAll(tmpl.SegmentTimeline, end) {
		segments = append(segments, playlist.Segment{
			Number:   number,
			Start:    playlist.TLP2Duration(int64(t)-int64(pto), timescale),
			Duration: playlist.TLP2Duration(int64(d), timescale),
			URL:      replacer.ToPath(t, number, string(rep.ID), rep.Bandwidth),
		})
		number++
	}
	rep.SetSegments(templateInit(tmpl, base, rep), segments, c.live, playlist.MergeByTime)
	return media, nil
}

// templateIndex installs a number based SegmentTemplate
func (c dashContext) templateIndex(rep *playlist.Representation, period *playlist.Period, tmpl *mpd.SegmentTemplate, base *url.URL) (string, error) {
	if *tmpl.Duration == 0 {
		return "", fmt.Errorf("segment template without duration")
	}
	media := resolveTemplate(base, *tmpl.Media)
	rep.SetTemplate(templateInit(tmpl, base, rep), &playlist.Template{
		Media:                  media,
		RepresentationID:       string(rep.ID),
		Bandwidth:              rep.Bandwidth,
		Timescale:              max(derefOr(tmpl.Timescale, 1), 1),
		Duration:               *tmpl.Duration,
		StartNumber:            derefOr(tmpl.StartNumber, 1),
		PresentationTimeOffset: derefOr(tmpl.PresentationTimeOffset, 0),
		Live:                   c.live,
		Availability:           c.availabilityStart.Add(period.Start),
		Window:                 c.timeShiftDepth,
		PeriodDuration:         period.Duration,
	})
	return media, nil
}

// listIndex converts a SegmentList, timed by @duration or by its timeline
func (c dashContext) listIndex(rep *playlist.Representation, period *playlist.Period, list *mpd.SegmentList, base *url.URL) (string, error) {
	timescale := max(derefOr(list.Timescale, 1), 1)
	pto := derefOr(list.PresentationTimeOffset, 0)
	number := derefOr(list.StartNumber, 1)

	var times [][2]uint64
	if list.SegmentTimeline != nil {
		for t, d := range timelineAll(list.SegmentTimeline, 0) {
			times = append(times, [2]uint64{t, d})
		}
	} else if list.Duration == nil || *list.Duration == 0 {
		if len(list.SegmentURLs) > 1 {
			return "", fmt.Errorf("segment list without duration")
		}
	}

	segments := make([]playlist.Segment, 0, len(list.SegmentURLs))
	var t uint64 = pto
	for i, su := range list.SegmentURLs {
		d := derefOr(list.Duration, 0)
		if times != nil {
			if i >= len(times) {
				break
			}
			t, d = times[i][0], times[i][1]
		}
		seg := playlist.Segment{
			Number:   number + uint64(i),
			Start:    playlist.TLP2Duration(int64(t)-int64(pto), timescale),
			Duration: playlist.TLP2Duration(int64(d), timescale),
			URL:      base.String(),
		}
		if d == 0 {
			seg.Duration = period.Duration
		}
		if su.Media != nil && *su.Media != "" {
			u, err := base.Parse(*su.Media)
			if err != nil {
				return "", fmt.Errorf("segment url: %w", err)
			}
			seg.URL = u.String()
		}
		if su.MediaRange != nil {
			r, err := playlist.ParseByteRange(*su.MediaRange)
			if err != nil {
				return "", err
			}
			seg.Range = r
		}
		segments = append(segments, seg)
		t += d
	}
	init, err := initSegment(list.Initialization, base)
	if err != nil {
		return "", err
	}
	rep.SetSegments(init, segments, c.live, playlist.MergeByNumber)
	if len(segments) == 0 {
		return base.String(), nil
	}
	return segments[0].URL, nil
}

// singleIndex turns an on-demand BaseURL resource into one segment
// spanning the period
func (c dashContext) singleIndex(rep *playlist.Representation, period *playlist.Period, sb *mpd.SegmentBase, base *url.URL) (string, error) {
	var init *playlist.Segment
	if sb != nil {
		var err error
		if init, err = initSegment(sb.Initialization, base); err != nil {
			return "", err
		}
	}
	seg := playlist.Segment{Number: 1, Duration: period.Duration, URL: base.String()}
	rep.SetSegments(init, []playlist.Segment{seg}, false, playlist.MergeByNumber)
	return seg.URL, nil
}

func templateInit(tmpl *mpd.SegmentTemplate, base *url.URL, rep *playlist.Representation) *playlist.Segment {
	if tmpl.Initialization == nil || *tmpl.Initialization == "" {
		return nil
	}
	path := playlist.NewPathReplacer(*tmpl.Initialization).ToPath(0, 0, string(rep.ID), rep.Bandwidth)
	u, err := base.Parse(path)
	if err != nil {
		return &playlist.Segment{URL: path}
	}
	return &playlist.Segment{URL: u.String()}
}

func initSegment(init *mpd.Initialization, base *url.URL) (*playlist.Segment, error) {
	if init == nil {
		return nil, nil
	}
	seg := &playlist.Segment{URL: base.String()}
	if init.SourceURL != nil && *init.SourceURL != "" {
		u, err := base.Parse(*init.SourceURL)
		if err != nil {
			return nil, fmt.Errorf("init url: %w", err)
		}
		seg.URL = u.String()
	}
	if init.Range != nil {
		r, err := playlist.ParseByteRange(*init.Range)
		if err != nil {
			return nil, err
		}
		seg.Range = r
	}
	return seg, nil
}

// resolveTemplate resolves a template reference against base. The
// identifiers are swapped for plain tokens first so they survive url
// escaping.
func resolveTemplate(base *url.URL, tmpl string) string {
	placeholders := placeholderRE.FindAllString(tmpl, -1)
	i := 0
	plain := placeholderRE.ReplaceAllStringFunc(tmpl, func(string) string {
		i++
		return fmt.Sprintf("abrplayph%dx", i-1)
	})
	u, err := base.Parse(plain)
	if err != nil {
		return tmpl
	}
	resolved := u.String()
	for j := len(placeholders) - 1; j >= 0; j-- {
		resolved = strings.Replace(resolved, fmt.Sprintf("abrplayph%dx", j), placeholders[j], 1)
	}
	return resolved
}

// resolveBaseURL applies the first BaseURL element, if any
func resolveBaseURL(base *url.URL, urls []*mpd.BaseURL) *url.URL {
	if len(urls) == 0 || urls[0] == nil {
		return base
	}
	v := strings.TrimSpace(urls[0].Value)
	if v == "" {
		return base
	}
	u, err := base.Parse(v)
	if err != nil {
		return base
	}
	return u
}

// mergeTemplate overlays the attributes set on child onto parent
func mergeTemplate(parent, child *mpd.SegmentTemplate) *mpd.SegmentTemplate {
	if parent == nil {
		return child
	}
	if child == nil {
		return parent
	}
	m := *parent
	if child.Duration != nil {
		m.Duration = child.Duration
	}
	if child.Timescale != nil {
		m.Timescale = child.Timescale
	}
	if child.Media != nil {
		m.Media = child.Media
	}
	if child.Initialization != nil {
		m.Initialization = child.Initialization
	}
	if child.StartNumber != nil {
		m.StartNumber = child.StartNumber
	}
	if child.PresentationTimeOffset != nil {
		m.PresentationTimeOffset = child.PresentationTimeOffset
	}
	if child.SegmentTimeline != nil {
		m.SegmentTimeline = child.SegmentTimeline
	}
	return &m
}

// mostSpecific returns the last non-nil element
func mostSpecific[T any](levels ...*T) *T {
	var found *T
	for _, l := range levels {
		if l != nil {
			found = l
		}
	}
	return found
}

func splitCodecs(s string) []string {
	var codecs []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			codecs = append(codecs, c)
		}
	}
	return codecs
}

func toDuration(d *xsd.Duration) time.Duration {
	if d == nil {
		return 0
	}
	return d.ToDuration()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefOr(v *uint64, def uint64) uint64 {
	if v == nil {
		return def
	}
	return *v
}
