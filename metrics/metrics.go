// Package metrics implements C7: counters and histograms for hit/miss/
// store/purge and upstream latency/failures, exposed in Prometheus
// exposition format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the metric registry for the cache request pipeline.
type Collector struct {
	registry *prometheus.Registry

	CacheHits     prometheus.Counter
	CacheMisses   prometheus.Counter
	CacheStores   prometheus.Counter
	CachePurges   prometheus.Counter

	UpstreamRequests prometheus.Counter
	UpstreamFailures prometheus.Counter
	UpstreamLatency  prometheus.Histogram
}

// NewCollector registers a fresh set of metrics. Each Collector owns its
// own registry so tests can construct independent instances.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scedge_cache_hits_total",
			Help: "Number of cache lookups served from the local store.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scedge_cache_misses_total",
			Help: "Number of cache lookups that found no valid record.",
		}),
		CacheStores: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scedge_cache_stores_total",
			Help: "Number of records written to the backend, including upstream hydration.",
		}),
		CachePurges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scedge_cache_purges_total",
			Help: "Number of records removed via the purge endpoint.",
		}),
		UpstreamRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scedge_upstream_requests_total",
			Help: "Number of lookup calls issued to the upstream knowledge service.",
		}),
		UpstreamFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scedge_upstream_failures_total",
			Help: "Number of upstream lookups that errored or returned a tenant mismatch.",
		}),
		UpstreamLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scedge_upstream_latency_seconds",
			Help:    "Upstream lookup latency in seconds.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}

	registry.MustRegister(
		c.CacheHits, c.CacheMisses, c.CacheStores, c.CachePurges,
		c.UpstreamRequests, c.UpstreamFailures, c.UpstreamLatency,
	)

	return c
}

// Handler serves the registry in Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
