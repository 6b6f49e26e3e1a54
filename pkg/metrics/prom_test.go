package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistered(t *testing.T) {
	DemuxStatus.WithLabelValues("demuxed").Inc()
	ManifestUpdates.WithLabelValues("ok").Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, name := range []string{
		"abrplay_demux_ticks_total",
		"abrplay_manifest_updates_total",
		"abrplay_committed_bandwidth_bps",
		"abrplay_period_transitions_total",
	} {
		assert.True(t, names[name], name)
	}
}
