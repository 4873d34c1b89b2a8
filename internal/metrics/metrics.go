// Package metrics exposes the Prometheus gauges and counters served on the
// /metrics endpoint: credential-state gauges per kind, request counters by
// route and outcome, and upstream-latency histograms.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles the process-wide metric instruments. Callers hold a
// single Registry and pass it down to the middleware chain and the api.App
// handlers.
type Registry struct {
	CredentialState *prometheus.GaugeVec
	RequestsTotal *prometheus.CounterVec
	UpstreamLatency *prometheus.HistogramVec
	CacheHits prometheus.Counter
	CacheMisses prometheus.Counter
}

// New registers and returns a Registry against the default registerer.
func New() *Registry {
	return &Registry{
		CredentialState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "llmgate",
			Subsystem: "credential",
			Name:      "state_count",
			Help:      "Number of credentials in each kind/state pair.",
		}, []string{"kind", "state"}),

		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "llmgate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Number of ingress requests, partitioned by route and outcome.",
		}, []string{"route", "outcome"}),

		UpstreamLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "llmgate",
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Upstream call latency, partitioned by transactor.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"transactor"}),

		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "llmgate",
			Subsystem: "response_cache",
			Name:      "hits_total",
			Help:      "Number of response-cache hits.",
		}),

		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "llmgate",
			Subsystem: "response_cache",
			Name:      "misses_total",
			Help:      "Number of response-cache misses.",
		}),
	}
}

// ObserveCredentialSnapshot updates the state gauges for one credential
// kind from a resource.Manager.Snapshot()-shaped partition.
func (r *Registry) ObserveCredentialSnapshot(kind string, valid, dispatched, exhausted, invalid int) {
	r.CredentialState.WithLabelValues(kind, "valid").Set(float64(valid))
	r.CredentialState.WithLabelValues(kind, "dispatched").Set(float64(dispatched))
	r.CredentialState.WithLabelValues(kind, "exhausted").Set(float64(exhausted))
	r.CredentialState.WithLabelValues(kind, "invalid").Set(float64(invalid))
}
