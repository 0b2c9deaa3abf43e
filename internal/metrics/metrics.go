// Package metrics holds the Prometheus collectors shared across docdeck.
// All collectors are registered on the default registry; `docdeck serve`
// exposes them at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts backend requests by method and outcome
	// ("success", "http_error", "network", "timeout", "cancelled").
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docdeck_backend_requests_total",
		Help: "Backend requests issued, by method and outcome",
	}, []string{"method", "outcome"})

	// RetriesTotal counts retry attempts after a retryable failure.
	RetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docdeck_backend_retries_total",
		Help: "Retry attempts issued after transient backend failures",
	})

	// QueryCacheHits counts query answers served from the local cache.
	QueryCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docdeck_query_cache_hits_total",
		Help: "Query answers served from the in-memory cache",
	})

	// QueryCacheMisses counts cache lookups that required a backend call.
	QueryCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docdeck_query_cache_misses_total",
		Help: "Query cache misses that required a backend call",
	})

	// PipelineStepSeconds observes wall time per processing step.
	PipelineStepSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docdeck_pipeline_step_seconds",
		Help:    "Wall time spent in each document processing step",
		Buckets: prometheus.DefBuckets,
	}, []string{"step"})
)
