package manager

import (
	"time"

	"github.com/jdeisenh/abrplay/pkg/metrics"
	"github.com/jdeisenh/abrplay/pkg/playlist"
	"github.com/jdeisenh/abrplay/pkg/stream"
)

// Demux advances the demux clock by increment and delivers every sample
// up to the new clock to the sink. Must be called from a single goroutine.
func (m *PlaylistManager) Demux(increment time.Duration) stream.Status {
	status := m.demux(increment)
	metrics.DemuxStatus.WithLabelValues(status.String()).Inc()
	return status
}

func (m *PlaylistManager) demux(increment time.Duration) stream.Status {
	streams := m.Streams()
	m.demuxMu.Lock()
	if m.clock == playlist.TimeInvalid {
		m.demuxMu.Unlock()
		dead, allDisabled := true, true
		for _, st := range streams {
			dead = dead && !st.Valid()
			allDisabled = allDisabled && st.Disabled()
		}
		if !dead {
			m.waitDemux()
		}
		if dead || allDisabled {
			return stream.StatusEOF
		}
		return stream.StatusBuffering
	}
	if m.firstPCR == playlist.TimeInvalid {
		m.firstPCR = m.clock
	}
	barrier := m.clock + increment
	m.demuxMu.Unlock()

	status, sawDis := dequeue(streams, barrier)
	m.updateControlsPosition(false)

	m.demuxMu.Lock()
	if sawDis && status != stream.StatusDiscontinuity {
		m.maskedDis = true
	}
	if m.maskedDis && (status == stream.StatusDemuxed || status == stream.StatusBufferingAhead) {
		status = stream.StatusDiscontinuity
	}
	m.demuxMu.Unlock()

	switch status {
	case stream.StatusEOF:
		return m.nextPeriod()
	case stream.StatusBuffering:
		m.waitDemux()
	case stream.StatusDiscontinuity:
		m.resetClock()
		m.out.ResetPCR()
		m.wakeBuffering()
	case stream.StatusBufferingAhead:
		m.demuxMu.Lock()
		m.clock = max(barrier, firstDTS(streams))
		m.demuxMu.Unlock()
	case stream.StatusDemuxed:
		m.demuxMu.Lock()
		m.clock = barrier
		m.demuxMu.Unlock()
		m.out.SetPCR(max(0, barrier-pcrLag))
	}
	return status
}

// dequeue sends every stream's samples up to barrier and aggregates
// the results
func dequeue(streams []stream.AbstractStream, barrier time.Duration) (stream.Status, bool) {
	status := stream.StatusEOF
	sawDis := false
	for _, st := range streams {
		r := st.Dequeue(barrier)
		if r == stream.StatusDiscontinuity {
			sawDis = true
		}
		status = max(status, r)
	}
	return status, sawDis
}

func (m *PlaylistManager) resetClock() {
	m.demuxMu.Lock()
	defer m.demuxMu.Unlock()
	m.clock = playlist.TimeInvalid
	m.firstPCR = playlist.TimeInvalid
	m.maskedDis = false
}

// nextPeriod replaces the streams with those of the following period
func (m *PlaylistManager) nextPeriod() stream.Status {
	m.mu.Lock()
	next := m.pl.NextPeriod(m.period)
	if next == nil {
		m.mu.Unlock()
		return stream.StatusEOF
	}
	m.unsetPeriodLocked()
	m.period = next
	err := m.setupPeriodLocked()
	m.mu.Unlock()
	if err != nil {
		m.logger.Error().Err(err).Msgf("Period %s", next.ID)
		return stream.StatusEOF
	}

	m.resetClock()
	m.out.ResetPCR()
	m.updateControlsPosition(true)
	metrics.PeriodTransitions.Inc()
	m.wakeBuffering()
	return stream.StatusEndOfPeriod
}

// FirstDTS is the lowest buffered DTS of the active streams
func (m *PlaylistManager) FirstDTS() time.Duration {
	return firstDTS(m.Streams())
}

func firstDTS(streams []stream.AbstractStream) time.Duration {
	first := playlist.TimeInvalid
	for _, st := range streams {
		if !st.Valid() || st.Disabled() || st.EOF() {
			continue
		}
		dts := st.FirstDTS()
		if dts == playlist.TimeInvalid {
			continue
		}
		if first == playlist.TimeInvalid || dts < first {
			first = dts
		}
	}
	return first
}

// PCR is the demux clock, or the first buffered DTS before it started
func (m *PlaylistManager) PCR() time.Duration {
	m.demuxMu.Lock()
	clock := m.clock
	m.demuxMu.Unlock()
	if clock != playlist.TimeInvalid {
		return clock
	}
	return m.FirstDTS()
}

func (m *PlaylistManager) currentClock() time.Duration {
	m.demuxMu.Lock()
	defer m.demuxMu.Unlock()
	return m.clock
}
