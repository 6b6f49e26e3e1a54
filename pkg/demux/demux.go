// Package demux extracts timed samples from downloaded segments
package demux

import (
	"bytes"
	"time"

	"github.com/jdeisenh/abrplay/pkg/playlist"
)

// Sample is one access unit. Times are in the container's time base.
type Sample struct {
	Track         uint32
	DTS           time.Duration
	PTS           time.Duration
	Duration      time.Duration
	Keyframe      bool
	Data          []byte
	Discontinuity bool
}

// Demuxer turns segment data into samples. segStart is the playlist
// time of the segment, used by formats without timestamps.
type Demuxer interface {
	Demux(data []byte, segStart time.Duration) ([]Sample, error)
	// Reset forgets state carried between segments
	Reset()
	Format() playlist.StreamFormat
}

// New returns the demuxer for format, raw passthrough for formats
// without container timing
func New(format playlist.StreamFormat) Demuxer {
	switch format {
	case playlist.FormatMP4:
		return NewFMP4()
	case playlist.FormatMPEG2TS:
		return NewTS()
	}
	return NewRaw(format)
}

var mp4Boxes = [][]byte{
	[]byte("ftyp"), []byte("styp"), []byte("moof"), []byte("moov"), []byte("sidx"), []byte("emsg"), []byte("prft"),
}

// Sniff detects the format from the first bytes of a segment
func Sniff(data []byte) playlist.StreamFormat {
	if len(data) >= 8 {
		for _, box := range mp4Boxes {
			if bytes.Equal(data[4:8], box) {
				return playlist.FormatMP4
			}
		}
	}
	switch {
	case len(data) >= 1 && data[0] == 0x47 && (len(data) <= tsPacketSize || data[tsPacketSize] == 0x47):
		return playlist.FormatMPEG2TS
	case bytes.HasPrefix(data, []byte("ID3")):
		// Packed audio carries its timestamp in an ID3 tag
		return playlist.FormatPackedAAC
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xF6 == 0xF0:
		return playlist.FormatPackedAAC
	case len(data) >= 2 && data[0] == 0x0B && data[1] == 0x77:
		return playlist.FormatPackedAC3
	case bytes.HasPrefix(bytes.TrimPrefix(data, []byte("\xEF\xBB\xBF")), []byte("WEBVTT")):
		return playlist.FormatWebVTT
	case bytes.HasPrefix(data, []byte("<?xml")), bytes.HasPrefix(data, []byte("<tt")):
		return playlist.FormatTTML
	}
	return playlist.FormatUnknown
}

// Raw hands out each segment as one sample at the segment start
type Raw struct {
	format playlist.StreamFormat
}

func NewRaw(format playlist.StreamFormat) *Raw {
	return &Raw{format: format}
}

func (r *Raw) Demux(data []byte, segStart time.Duration) ([]Sample, error) {
	if len(data) == 0 {
		return nil, nil
	}
	return []Sample{{
		DTS:      segStart,
		PTS:      segStart,
		Keyframe: true,
		Data:     data,
	}}, nil
}

func (r *Raw) Reset() {}

func (r *Raw) Format() playlist.StreamFormat {
	return r.format
}

// Sink receives the samples of all streams. Samples of one stream arrive
// in non decreasing DTS order.
type Sink interface {
	Send(id playlist.ID, s Sample)
	// SetPCR announces that no sample with a lower DTS will follow
	SetPCR(t time.Duration)
	// ResetPCR drops the clock after a discontinuity or seek
	ResetPCR()
}

// Selector is implemented by sinks that only want some of the streams
type Selector interface {
	Selected(id playlist.ID) bool
}
