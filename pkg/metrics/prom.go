// Package metrics exposes the engine's prometheus collectors
package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "abrplay"
)

var (
	SegmentsDownloaded     *prometheus.CounterVec
	BytesDownloaded        prometheus.Counter
	DownloadDuration       prometheus.Histogram
	DownloadFailures       *prometheus.CounterVec
	RepresentationSwitches prometheus.Counter
	EstimatedBandwidth     prometheus.Gauge
	CommittedBandwidth     prometheus.Gauge
	ManifestUpdates        *prometheus.CounterVec
	DemuxStatus            *prometheus.CounterVec
	PeriodTransitions      prometheus.Counter
)

func init() {
	SegmentsDownloaded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "segments_downloaded_total",
		Help:      "Downloaded segments by kind",
	}, []string{"kind"})
	BytesDownloaded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "downloaded_bytes_total",
		Help:      "Downloaded segment bytes",
	})
	DownloadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "download_duration_seconds",
		Help:      "Segment download time",
		Buckets:   []float64{.025, .05, .1, .25, .5, 1, 2, 4, 8},
	})
	DownloadFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "download_failures_total",
		Help:      "Failed segment downloads by reason",
	}, []string{"reason"})
	RepresentationSwitches = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "representation_switches_total",
		Help:      "Representation changes of all trackers",
	})
	EstimatedBandwidth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "estimated_bandwidth_bps",
		Help:      "Bandwidth estimate of the adaptation logic",
	})
	CommittedBandwidth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "committed_bandwidth_bps",
		Help:      "Sum of the selected representations' bandwidth",
	})
	ManifestUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "manifest_updates_total",
		Help:      "Live manifest refreshes by result",
	}, []string{"result"})
	DemuxStatus = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "demux_ticks_total",
		Help:      "Demux ticks by resulting status",
	}, []string{"status"})
	PeriodTransitions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "period_transitions_total",
		Help:      "Period changes",
	})
	prometheus.MustRegister(
		SegmentsDownloaded,
		BytesDownloaded,
		DownloadDuration,
		DownloadFailures,
		RepresentationSwitches,
		EstimatedBandwidth,
		CommittedBandwidth,
		ManifestUpdates,
		DemuxStatus,
		PeriodTransitions,
	)
}
