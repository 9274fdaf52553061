package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Provider call metrics. Labels stay low-cardinality: provider, op, mode.
var (
	ProviderCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vecbench",
			Name:      "provider_calls_total",
			Help:      "Total number of provider calls",
		},
		[]string{"provider", "op", "status"},
	)

	ProviderCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vecbench",
			Name:      "provider_call_duration_seconds",
			Help:      "Provider call duration in seconds",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"provider", "op"},
	)

	ProviderErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vecbench",
			Name:      "provider_errors_total",
			Help:      "Total provider errors by kind",
		},
		[]string{"provider", "op", "kind"},
	)

	IngestDocsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vecbench",
			Name:      "ingest_docs_total",
			Help:      "Documents acknowledged by the provider",
		},
		[]string{"provider"},
	)

	IngestBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vecbench",
			Name:      "ingest_bytes_total",
			Help:      "Approximate payload bytes acknowledged by the provider",
		},
		[]string{"provider"},
	)

	FreshnessSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vecbench",
			Name:      "freshness_seconds",
			Help:      "Delay between upsert ack and first visible read",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "mode"},
	)
)

var registerProviderOnce sync.Once

// RegisterProviderMetrics registers provider metrics with the default registry.
// Safe to call more than once.
func RegisterProviderMetrics() {
	registerProviderOnce.Do(func() {
		prometheus.MustRegister(
			ProviderCallsTotal,
			ProviderCallDuration,
			ProviderErrorsTotal,
			IngestDocsTotal,
			IngestBytesTotal,
			FreshnessSeconds,
		)
	})
}
