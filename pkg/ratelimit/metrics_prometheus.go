package ratelimit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics implements the RateLimitMetrics interface using Prometheus.
//
// This implementation provides observability for rate limiting operations with
// detailed metrics including:
// - Request counters (allowed/denied) by limiter type and status
// - Rate limit check duration histograms
// - Active key gauges for memory monitoring
// - Circuit breaker state tracking
// - Degradation level monitoring
// - LRU eviction counters
//
// Metrics are registered with the Registerer given to NewPrometheusMetrics,
// or with a private registry when that is nil.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// requestsTotal tracks total rate limit requests by limiter type, status, and path.
	// Labels:
	//   - limiter_type: "ip" or "user"
	//   - status: "allowed" or "denied"
	//   - path: Request path (for per-endpoint metrics)
	requestsTotal *prometheus.CounterVec

	// checkDuration tracks the duration of rate limit check operations.
	// Labels:
	//   - limiter_type: "ip" or "user"
	//
	// Buckets are optimized for fast rate limit checks (<5ms target):
	// - 0.5ms, 1ms, 2ms, 5ms (fast checks)
	// - 10ms, 25ms, 50ms (slower checks, potential issues)
	// - 100ms, 250ms, 500ms, 1s (very slow checks)
	checkDuration *prometheus.HistogramVec

	// activeKeys tracks the current number of active keys in the rate limiter.
	// Labels:
	//   - limiter_type: "ip" or "user"
	activeKeys *prometheus.GaugeVec

	// circuitState tracks the circuit breaker state.
	// Labels:
	//   - limiter_type: "ip" or "user"
	//
	// Values:
	//   - 0: Closed (normal operation)
	//   - 1: Open (failing, allowing all requests)
	//   - 2: Half-Open (testing recovery)
	circuitState *prometheus.GaugeVec

	// degradationLevel tracks the current degradation level.
	// Labels:
	//   - limiter_type: "ip" or "user"
	//
	// Values:
	//   - 0: Normal (1x limits)
	//   - 1: Relaxed (2x limits)
	//   - 2: Minimal (10x limits)
	//   - 3: Disabled (no limits)
	degradationLevel *prometheus.GaugeVec

	// evictionsTotal tracks the total number of LRU evictions.
	// Labels:
	//   - limiter_type: "ip" or "user"
	evictionsTotal *prometheus.CounterVec
}

// NewPrometheusMetrics creates a new PrometheusMetrics instance and registers
// its collectors with reg. Passing nil registers against its own private
// registry, which keeps instances isolated from each other and from
// whatever process-wide registry the caller exposes over HTTP; callers that
// want these series to show up on the process's own /metrics endpoint
// should pass prometheus.DefaultRegisterer explicitly.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	registry := prometheus.NewRegistry()
	if reg == nil {
		reg = registry
	}

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_rate_limit_requests_total",
			Help: "Total rate limit requests by limiter type, status, and path",
		},
		[]string{"limiter_type", "status", "path"},
	)

	checkDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_rate_limit_check_duration_seconds",
			Help:    "Duration of rate limit check operations",
			Buckets: []float64{0.0005, 0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"limiter_type"},
	)

	activeKeys := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "http_rate_limit_active_keys",
			Help: "Current number of active keys by limiter type",
		},
		[]string{"limiter_type"},
	)

	circuitState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "http_rate_limit_circuit_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"limiter_type"},
	)

	degradationLevel := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "http_rate_limit_degradation_level",
			Help: "Current degradation level (0=normal, 1=relaxed, 2=minimal, 3=disabled)",
		},
		[]string{"limiter_type"},
	)

	evictionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_rate_limit_evictions_total",
			Help: "Total LRU evictions by limiter type",
		},
		[]string{"limiter_type"},
	)

	reg.MustRegister(
		requestsTotal,
		checkDuration,
		activeKeys,
		circuitState,
		degradationLevel,
		evictionsTotal,
	)

	m := &PrometheusMetrics{
		requestsTotal:    requestsTotal,
		checkDuration:    checkDuration,
		activeKeys:       activeKeys,
		circuitState:     circuitState,
		degradationLevel: degradationLevel,
		evictionsTotal:   evictionsTotal,
	}
	if reg == registry {
		m.registry = registry
	}
	return m
}

// Registry returns the private Prometheus registry these metrics were
// registered against, or nil when they were registered against a caller
// supplied Registerer (e.g. prometheus.DefaultRegisterer), which exposes
// its own Gather path instead.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequest records a rate limit check that resulted in an allowed request.
func (m *PrometheusMetrics) RecordRequest(limiterType, endpoint string) {
	m.requestsTotal.WithLabelValues(limiterType, "allowed", endpoint).Inc()
}

// RecordDenied records a rate limit violation (request denied).
func (m *PrometheusMetrics) RecordDenied(limiterType, endpoint string) {
	m.requestsTotal.WithLabelValues(limiterType, "denied", endpoint).Inc()
}

// RecordAllowed records a rate limit check that resulted in an allowed request.
//
// This is an alias for RecordRequest for better API clarity.
func (m *PrometheusMetrics) RecordAllowed(limiterType, endpoint string) {
	m.RecordRequest(limiterType, endpoint)
}

// RecordCheckDuration records the duration of a rate limit check operation.
//
// A duration above 10ms may indicate performance issues; the circuit breaker
// reacts only to failed checks, not to slow ones.
func (m *PrometheusMetrics) RecordCheckDuration(limiterType string, duration time.Duration) {
	m.checkDuration.WithLabelValues(limiterType).Observe(duration.Seconds())
}

// SetActiveKeys records the current number of active keys in the rate limiter.
//
// This metric is useful for monitoring memory usage and triggering alerts when
// approaching capacity limits (e.g., >80% of max keys).
func (m *PrometheusMetrics) SetActiveKeys(limiterType string, count int) {
	m.activeKeys.WithLabelValues(limiterType).Set(float64(count))
}

// RecordCircuitState records the current state of the circuit breaker.
//
// States:
//   - "closed": Normal operation, rate limiting active
//   - "open": Circuit breaker open, all requests allowed (fail-open)
//   - "half-open": Testing recovery, limited requests allowed
//
// The state is mapped to a numeric gauge for Prometheus alerting:
//   - 0 = closed
//   - 1 = open
//   - 2 = half-open
func (m *PrometheusMetrics) RecordCircuitState(limiterType, state string) {
	var stateValue float64
	switch state {
	case "closed":
		stateValue = 0
	case "open":
		stateValue = 1
	case "half-open":
		stateValue = 2
	default:
		// Unknown state, default to closed
		stateValue = 0
	}
	m.circuitState.WithLabelValues(limiterType).Set(stateValue)
}

// RecordDegradationLevel records the current degradation level.
//
// Degradation levels:
//   - 0: Normal (1x limits)
//   - 1: Relaxed (2x limits)
//   - 2: Minimal (10x limits)
//   - 3: Disabled (no limits)
//
// The gauge holds the level passed in; nothing in this package computes it.
func (m *PrometheusMetrics) RecordDegradationLevel(limiterType string, level int) {
	m.degradationLevel.WithLabelValues(limiterType).Set(float64(level))
}

// RecordEviction records that keys were evicted from the store.
//
// Evictions occur when the in-memory store reaches capacity (max keys).
// High eviction rates may indicate:
// - DoS attack with many unique IPs
// - Need to increase max keys configuration
// - Need to migrate to Redis for distributed storage
func (m *PrometheusMetrics) RecordEviction(limiterType string, count int) {
	m.evictionsTotal.WithLabelValues(limiterType).Add(float64(count))
}
