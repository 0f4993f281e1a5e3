// Package metrics provides Prometheus metrics for caption generation:
// request outcomes, cache effectiveness, provider latency, and rate limiter
// queue depth.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "captionmux"

// LatencyBuckets defines histogram buckets for provider latency in seconds.
// Caption predictions routinely take multiple seconds, so the buckets skew
// towards the long tail.
var LatencyBuckets = []float64{
	0.1, 0.25, 0.5, 1.0, 2.0, 3.0, 5.0, 7.5,
	10.0, 15.0, 20.0, 30.0, 45.0, 60.0,
}

var (
	// GenerationsTotal counts generation requests by outcome.
	GenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Total number of generation requests",
		},
		[]string{"operation", "outcome"},
	)

	// GenerationsCoalesced counts callers that joined an in-flight generation.
	GenerationsCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_coalesced_total",
			Help:      "Total number of requests coalesced onto an in-flight generation",
		},
	)

	// CacheHits counts result cache hits.
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of result cache hits",
		},
	)

	// CacheMisses counts result cache misses.
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of result cache misses",
		},
	)

	// QueueDepth tracks the number of tasks waiting in the rate limiter.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_limiter_queue_depth",
			Help:      "Number of tasks queued behind the outbound rate limiter",
		},
	)

	// ProviderLatency tracks wall-clock latency of provider calls.
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Latency of provider calls",
			Buckets:   LatencyBuckets,
		},
		[]string{"provider", "operation"},
	)

	// ProviderErrors counts provider failures by error type.
	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Total number of provider errors",
		},
		[]string{"provider", "type"},
	)
)
