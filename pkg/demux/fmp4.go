package demux

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/jdeisenh/abrplay/pkg/playlist"
)

var ErrNoInit = errors.New("fragment without init segment")

// FMP4 demuxes fragmented MP4. The init segment's track timescales are
// kept for the following media segments.
type FMP4 struct {
	timescales map[uint32]uint32
	trexs      map[uint32]*mp4.TrexBox
}

func NewFMP4() *FMP4 {
	f := &FMP4{}
	f.Reset()
	return f
}

func (f *FMP4) Reset() {
	f.timescales = make(map[uint32]uint32)
	f.trexs = make(map[uint32]*mp4.TrexBox)
}

func (f *FMP4) Format() playlist.StreamFormat {
	return playlist.FormatMP4
}

func (f *FMP4) setInit(init *mp4.InitSegment) {
	if init.Moov == nil {
		return
	}
	for _, trak := range init.Moov.Traks {
		if trak.Tkhd == nil || trak.Mdia == nil || trak.Mdia.Mdhd == nil {
			continue
		}
		f.timescales[trak.Tkhd.TrackID] = trak.Mdia.Mdhd.Timescale
	}
	if init.Moov.Mvex != nil {
		for _, trex := range init.Moov.Mvex.Trexs {
			f.trexs[trex.TrackID] = trex
		}
	}
}

func (f *FMP4) Demux(data []byte, _ time.Duration) ([]Sample, error) {
	file, err := mp4.DecodeFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode mp4: %w", err)
	}
	if file.Init != nil {
		f.setInit(file.Init)
	}

	var samples []Sample
	for _, seg := range file.Segments {
		for _, frag := range seg.Fragments {
			if frag.Moof == nil || frag.Moof.Traf == nil || frag.Moof.Traf.Tfhd == nil {
				continue
			}
			trackID := frag.Moof.Traf.Tfhd.TrackID
			timescale, ok := f.timescales[trackID]
			if !ok || timescale == 0 {
				return samples, fmt.Errorf("%w: track %d", ErrNoInit, trackID)
			}
			trex := f.trexs[trackID]
			if trex == nil {
				trex = &mp4.TrexBox{TrackID: trackID}
			}
			full, err := frag.GetFullSamples(trex)
			if err != nil {
				return samples, fmt.Errorf("track %d samples: %w", trackID, err)
			}
			ts := uint64(timescale)
			for i := range full {
				s := &full[i]
				samples = append(samples, Sample{
					Track:    trackID,
					DTS:      playlist.TLP2Duration(int64(s.DecodeTime), ts),
					PTS:      playlist.TLP2Duration(int64(s.PresentationTime()), ts),
					Duration: playlist.TLP2Duration(int64(s.Dur), ts),
					Keyframe: s.IsSync(),
					Data:     s.Data,
				})
			}
		}
	}
	return samples, nil
}
