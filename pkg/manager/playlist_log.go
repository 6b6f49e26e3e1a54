package manager

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/jdeisenh/abrplay/pkg/playlist"
)

// Duration wraps time.Duration to serialize as a human-readable string in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// PlaylistLog is a snapshot of a playlist. Both text and JSON loggers
// render from this shared structure.
type PlaylistLog struct {
	URL      string      `json:"url,omitempty"`
	Live     bool        `json:"live"`
	Duration Duration    `json:"duration,omitempty"`
	Periods  []PeriodLog `json:"periods"`
}

type PeriodLog struct {
	ID       string   `json:"id"`
	Start    Duration `json:"start"`
	Duration Duration `json:"duration,omitempty"`
	Sets     []SetLog `json:"sets"`
}

type SetLog struct {
	ID              string              `json:"id"`
	Type            string              `json:"type"`
	Lang            string              `json:"lang,omitempty"`
	MimeType        string              `json:"mimeType,omitempty"`
	Representations []RepresentationLog `json:"representations"`
}

type RepresentationLog struct {
	ID        string   `json:"id"`
	Bandwidth uint64   `json:"bandwidth"`
	Width     int      `json:"width,omitempty"`
	Height    int      `json:"height,omitempty"`
	Codecs    string   `json:"codecs,omitempty"`
	Format    string   `json:"format"`
	Segments  int      `json:"segments"`
	Start     Duration `json:"start"`
	End       Duration `json:"end"`
}

// DescribePlaylist walks pl into a PlaylistLog
func DescribePlaylist(pl *playlist.Playlist) *PlaylistLog {
	log := &PlaylistLog{
		URL:      pl.URL,
		Live:     pl.IsLive(),
		Duration: Duration(pl.Duration()),
	}
	for _, period := range pl.Periods() {
		p := PeriodLog{
			ID:       string(period.ID),
			Start:    Duration(period.Start),
			Duration: Duration(period.Duration),
		}
		for _, set := range period.AdaptationSets {
			s := SetLog{
				ID:       string(set.ID),
				Type:     set.Type.String(),
				Lang:     set.Lang,
				MimeType: set.MimeType,
			}
			for _, rep := range set.Representations {
				r := RepresentationLog{
					ID:        string(rep.ID),
					Bandwidth: rep.Bandwidth,
					Width:     rep.Width,
					Height:    rep.Height,
					Codecs:    strings.Join(rep.Codecs, ","),
					Format:    rep.Format.String(),
					Segments:  rep.SegmentCount(),
				}
				if start, end, ok := rep.PlaybackRange(); ok {
					r.Start = Duration(period.Start + start)
					r.End = Duration(period.Start + end)
				}
				s.Representations = append(s.Representations, r)
			}
			p.Sets = append(p.Sets, s)
		}
		log.Periods = append(log.Periods, p)
	}
	return log
}
