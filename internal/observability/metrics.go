package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline and registry collectors. HTTP traffic is instrumented separately
// by middleware.Metrics. Label values are small fixed sets (outcome/result
// names), never user input.
var (
	extractions = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_extraction_duration_seconds",
			Help:    "Duration of extraction API calls by outcome.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"outcome"},
	)

	fetches = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_fetch_duration_seconds",
			Help:    "Duration of media downloads by outcome.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"outcome"},
	)

	fetchedBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "relay_fetch_size_bytes",
			Help: "Size of successfully downloaded media payloads.",
			Buckets: []float64{
				256 << 10, 1 << 20, 5 << 20, 10 << 20, 20 << 20, 35 << 20, 50 << 20,
			},
		},
	)

	// Downloads counts requests that reached a terminal stage.
	Downloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_downloads_total",
			Help: "Download requests that reached a terminal stage.",
		},
		[]string{"stage", "reason"},
	)

	// QueueDepth gauges requests waiting for the worker (excluding in-flight).
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_queue_depth",
			Help: "Download requests waiting in the queue.",
		},
	)

	// BroadcastSends counts per-recipient broadcast attempts by result.
	BroadcastSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_broadcast_sends_total",
			Help: "Broadcast deliveries by result (sent, blocked, failed).",
		},
		[]string{"result"},
	)

	// RegisteredUsers gauges the size of the user registry.
	RegisteredUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_registered_users",
			Help: "Number of users in the registry.",
		},
	)

	// PersistFailures counts registry saves that failed.
	PersistFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_registry_persist_failures_total",
			Help: "Registry persistence attempts that failed.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		extractions, fetches, fetchedBytes,
		Downloads, QueueDepth, BroadcastSends, RegisteredUsers, PersistFailures,
	)
}

// ObserveExtraction records one extraction call.
func ObserveExtraction(outcome string, d time.Duration) {
	extractions.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveFetch records one media download; size is only recorded on success.
func ObserveFetch(outcome string, d time.Duration, size int) {
	fetches.WithLabelValues(outcome).Observe(d.Seconds())
	if outcome == "ok" && size >= 0 {
		fetchedBytes.Observe(float64(size))
	}
}
