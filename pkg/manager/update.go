package manager

import (
	"context"
	"errors"
	"time"

	"github.com/jdeisenh/abrplay/pkg/metrics"
	"github.com/jdeisenh/abrplay/pkg/playlist"
)

var ErrNoSource = errors.New("playlist has no source")

// NeedsUpdate reports whether the live playlist is due for refresh at
// some point. It turns false once the refresh failed too often.
func (m *PlaylistManager) NeedsUpdate() bool {
	return m.source != nil && m.pl.NeedsUpdates() && m.pl.IsLive() &&
		int(m.failures.Load()) < m.opts.MaxUpdateFailures
}

func (m *PlaylistManager) updateInterval() time.Duration {
	return max(m.pl.MinUpdatePeriod(), m.opts.MinUpdateInterval)
}

// UpdatePlaylist refreshes the live playlist now. The fetch runs without
// mu so demux and control calls are not held up by it.
func (m *PlaylistManager) UpdatePlaylist(ctx context.Context) error {
	if m.source == nil {
		return ErrNoSource
	}
	m.mu.Lock()
	var selected []*playlist.Representation
	for _, st := range m.streams {
		if t := m.trackers[st.ID()]; t != nil && st.Valid() && !st.Disabled() {
			if rep := t.CurrentRepresentation(); rep != nil {
				selected = append(selected, rep)
			}
		}
	}
	m.mu.Unlock()

	updated, err := m.source.Update(ctx, selected)

	m.mu.Lock()
	m.nextUpdate = m.now().Add(m.updateInterval())
	if err != nil {
		m.mu.Unlock()
		failures := int(m.failures.Add(1))
		metrics.ManifestUpdates.WithLabelValues("failure").Inc()
		m.events.LogUpdateFailed(err, failures)
		if failures >= m.opts.MaxUpdateFailures {
			m.events.LogUpdatesExhausted(failures)
		}
		return err
	}
	m.pl.Merge(updated)
	m.failures.Store(0)
	metrics.ManifestUpdates.WithLabelValues("success").Inc()
	m.pruneLocked()
	m.mu.Unlock()

	m.updateControlsPosition(true)
	return nil
}

// pruneLocked drops segments all streams have played once enough of them
// piled up
func (m *PlaylistManager) pruneLocked() {
	minPos := playlist.TimeInvalid
	for _, st := range m.streams {
		if !st.Valid() || st.Disabled() || !st.Selected() || st.EOF() {
			continue
		}
		pos := st.PlaybackTime()
		if minPos == playlist.TimeInvalid || pos < minPos {
			minPos = pos
		}
	}
	if minPos == playlist.TimeInvalid || minPos <= 0 {
		return
	}
	if m.pl.ExpiredBefore(minPos) < m.opts.PruneThreshold {
		return
	}
	dropped := m.pl.PruneBefore(minPos)
	m.events.LogPrune(minPos, dropped)
}
