package demux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/asticode/go-astits"
	"github.com/jdeisenh/abrplay/pkg/playlist"
)

const (
	tsPacketSize = 188
	tsTimescale  = 90000
	tsWrap       = int64(1) << 33
)

// TS demuxes MPEG-2 transport streams into PES samples. 33 bit
// timestamp wraps are unrolled across segments.
type TS struct {
	last   int64
	offset int64
	seen   bool
}

func NewTS() *TS {
	return &TS{}
}

func (t *TS) Reset() {
	*t = TS{}
}

func (t *TS) Format() playlist.StreamFormat {
	return playlist.FormatMPEG2TS
}

func (t *TS) unwrap(ts int64) int64 {
	ts += t.offset
	if t.seen && ts < t.last-tsWrap/2 {
		t.offset += tsWrap
		ts += tsWrap
	}
	t.last = ts
	t.seen = true
	return ts
}

func (t *TS) Demux(data []byte, _ time.Duration) ([]Sample, error) {
	dmx := astits.NewDemuxer(context.Background(), bytes.NewReader(data), astits.DemuxerOptPacketSize(tsPacketSize))

	var samples []Sample
	// index of the previous sample per track, for durations
	previous := make(map[uint32]int)
	for {
		d, err := dmx.NextData()
		if errors.Is(err, astits.ErrNoMorePackets) {
			break
		}
		if err != nil {
			return samples, fmt.Errorf("demux ts: %w", err)
		}
		if d.PES == nil || d.PES.Header == nil || d.PES.Header.OptionalHeader == nil {
			continue
		}
		oh := d.PES.Header.OptionalHeader
		if oh.PTS == nil {
			continue
		}
		pts := oh.PTS.Base
		dts := pts
		if oh.DTS != nil {
			dts = oh.DTS.Base
		}
		unwrapped := t.unwrap(dts)
		pts += unwrapped - dts

		track := uint32(d.PID)
		s := Sample{
			Track: track,
			DTS:   playlist.TLP2Duration(unwrapped, tsTimescale),
			PTS:   playlist.TLP2Duration(pts, tsTimescale),
			Data:  d.PES.Data,
		}
		if d.FirstPacket != nil && d.FirstPacket.AdaptationField != nil {
			s.Keyframe = d.FirstPacket.AdaptationField.RandomAccessIndicator
		}
		if i, ok := previous[track]; ok {
			samples[i].Duration = s.DTS - samples[i].DTS
			s.Duration = samples[i].Duration
		}
		previous[track] = len(samples)
		samples = append(samples, s)
	}
	return samples, nil
}
