// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AdapterRequests counts upstream adapter calls by outcome
	// (success, not_found, rate_limited, error, timeout, rejected).
	AdapterRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animehub_adapter_requests_total",
			Help: "Total number of upstream adapter calls",
		},
		[]string{"adapter", "operation", "outcome"},
	)

	AdapterDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "animehub_adapter_request_duration_seconds",
			Help:    "Duration of upstream adapter calls in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"adapter", "operation"},
	)

	// CacheLookups counts aggregator cache checks by result (hit, miss, stale).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animehub_cache_lookups_total",
			Help: "Total number of aggregator cache lookups",
		},
		[]string{"operation", "result"},
	)

	StaleServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animehub_stale_served_total",
			Help: "Responses served from a stale cache entry after every adapter failed",
		},
		[]string{"operation"},
	)

	// CircuitBreakerState is 0 for closed, 1 for half-open and 2 for open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "animehub_circuit_breaker_state",
			Help: "Circuit breaker state per adapter",
		},
		[]string{"adapter"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animehub_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions per adapter",
		},
		[]string{"adapter", "from", "to"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animehub_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"method", "status"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "animehub_rate_limit_hits_total",
			Help: "Requests rejected by the inbound rate limiter",
		},
		[]string{"scope"},
	)
)
