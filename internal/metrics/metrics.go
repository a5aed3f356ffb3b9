// Package metrics holds the Prometheus collectors of the query service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcomes.
const (
	OutcomeCacheHit  = "cache_hit"
	OutcomeNearHit   = "near_hit"
	OutcomeGenerated = "generated"
	OutcomeCoalesced = "coalesced"
	OutcomeFailed    = "failed"
)

// Metrics is a set of collectors bound to its own registry, so tests and
// multiple services in one process never collide.
type Metrics struct {
	registry *prometheus.Registry

	Requests     *prometheus.CounterVec
	Latency      *prometheus.HistogramVec
	InFlight     prometheus.Gauge
	CacheErrors  *prometheus.CounterVec
	Retrievals   *prometheus.CounterVec
	Generations  *prometheus.CounterVec
	Invalidation prometheus.Counter
}

// New registers all collectors, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rag",
			Name:      "requests_total",
			Help:      "Answered questions by outcome.",
		}, []string{"outcome"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rag",
			Name:      "request_duration_seconds",
			Help:      "End-to-end Ask latency by outcome.",
			Buckets:   []float64{.001, .005, .025, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rag",
			Name:      "coalesced_inflight",
			Help:      "Fingerprints currently being generated.",
		}),
		CacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rag",
			Name:      "cache_errors_total",
			Help:      "Cache backend errors that were degraded to a miss or skipped write.",
		}, []string{"op"}),
		Retrievals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rag",
			Name:      "retrievals_total",
			Help:      "Retrieval attempts by result.",
		}, []string{"result"}),
		Generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rag",
			Name:      "generations_total",
			Help:      "Generation attempts by result.",
		}, []string{"result"}),
		Invalidation: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rag",
			Name:      "cache_invalidations_total",
			Help:      "Cache flushes triggered by invalidation events.",
		}),
	}
	m.registry.MustRegister(
		m.Requests, m.Latency, m.InFlight, m.CacheErrors, m.Retrievals, m.Generations, m.Invalidation,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe records one finished request.
func (m *Metrics) Observe(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(outcome).Inc()
	m.Latency.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// CacheError counts a degraded cache operation.
func (m *Metrics) CacheError(op string) {
	if m == nil {
		return
	}
	m.CacheErrors.WithLabelValues(op).Inc()
}

// Retrieval counts a retrieval attempt; result is "ok" or an error kind.
func (m *Metrics) Retrieval(result string) {
	if m == nil {
		return
	}
	m.Retrievals.WithLabelValues(result).Inc()
}

// Generation counts a generation attempt; result is "ok" or an error kind.
func (m *Metrics) Generation(result string) {
	if m == nil {
		return
	}
	m.Generations.WithLabelValues(result).Inc()
}

// SetInFlight reports the coalescer's in-flight count.
func (m *Metrics) SetInFlight(n int) {
	if m == nil {
		return
	}
	m.InFlight.Set(float64(n))
}

// Invalidated counts a cache flush caused by an invalidation event.
func (m *Metrics) Invalidated() {
	if m == nil {
		return
	}
	m.Invalidation.Inc()
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
