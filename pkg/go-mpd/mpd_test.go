package mpd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const liveMPD = `<?xml version="1.0" encoding="utf-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="dynamic" minimumUpdatePeriod="PT2S"
     availabilityStartTime="2024-01-01T00:00:00Z" timeShiftBufferDepth="PT30S" minBufferTime="PT4S">
  <Period id="p0" start="PT0S">
    <BaseURL>media/</BaseURL>
    <AdaptationSet id="1" mimeType="video/mp4" segmentAlignment="true" lang="en">
      <SegmentTemplate timescale="90000" media="$RepresentationID$/$Time$.m4s" initialization="$RepresentationID$/init.mp4">
        <SegmentTimeline>
          <S t="900000" d="180000" r="2"/>
          <S d="90000"/>
        </SegmentTimeline>
      </SegmentTemplate>
      <Representation id="v1" bandwidth="1000000" width="640" height="360"/>
      <Representation id="v2" bandwidth="3000000" width="1280" height="720"/>
    </AdaptationSet>
    <AdaptationSet id="2" mimeType="audio/mp4" segmentAlignment="1">
      <SegmentList duration="2" timescale="1">
        <Initialization sourceURL="a/init.mp4"/>
        <SegmentURL media="a/1.m4s"/>
        <SegmentURL media="a/2.m4s" mediaRange="0-999"/>
      </SegmentList>
      <Representation id="a1" bandwidth="128000"/>
    </AdaptationSet>
  </Period>
</MPD>`

func TestDecode(t *testing.T) {
	m := new(MPD)
	require.NoError(t, m.Decode([]byte(liveMPD)))

	require.NotNil(t, m.Type)
	assert.Equal(t, "dynamic", *m.Type)
	assert.Equal(t, 2*time.Second, m.MinimumUpdatePeriod.ToDuration())
	assert.Equal(t, 30*time.Second, m.TimeShiftBufferDepth.ToDuration())
	assert.Equal(t, 2024, time.Time(*m.AvailabilityStartTime).Year())

	require.Len(t, m.Period, 1)
	p := m.Period[0]
	assert.Equal(t, "p0", *p.ID)
	require.Len(t, p.AdaptationSets, 2)

	video := p.AdaptationSets[0]
	assert.True(t, video.SegmentAlignment.True())
	assert.Equal(t, "en", *video.Lang)
	require.NotNil(t, video.SegmentTemplate.SegmentTimeline)
	assert.Len(t, video.SegmentTemplate.SegmentTimeline.S, 2)
	assert.Equal(t, int64(2), *video.SegmentTemplate.SegmentTimeline.S[0].R)
	assert.Len(t, video.Representations, 2)
	assert.Equal(t, uint64(720), *video.Representations[1].Height)

	audio := p.AdaptationSets[1]
	assert.True(t, audio.SegmentAlignment.True())
	require.NotNil(t, audio.SegmentList)
	assert.Equal(t, "a/init.mp4", *audio.SegmentList.Initialization.SourceURL)
	require.Len(t, audio.SegmentList.SegmentURLs, 2)
	assert.Equal(t, "0-999", *audio.SegmentList.SegmentURLs[1].MediaRange)
}

func TestEncodeRoundTrip(t *testing.T) {
	m := new(MPD)
	require.NoError(t, m.Decode([]byte(liveMPD)))
	out, err := m.Encode()
	require.NoError(t, err)

	again := new(MPD)
	require.NoError(t, again.Decode(out))
	assert.Equal(t, *m.Period[0].ID, *again.Period[0].ID)
	assert.Equal(t, m.MinimumUpdatePeriod.ToDuration(), again.MinimumUpdatePeriod.ToDuration())
	assert.Equal(t, len(m.Period[0].AdaptationSets), len(again.Period[0].AdaptationSets))
}
