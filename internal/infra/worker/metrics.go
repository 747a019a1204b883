package worker

import (
	"marketpulse/internal/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CoordinatorMetrics provides Prometheus metrics for the coordinator
// component. It embeds the standard ConfigMetrics for configuration
// monitoring and adds coordinator-specific metrics for run execution
// tracking.
//
// Embedded metrics (from ConfigMetrics):
//   - worker_config_load_timestamp: Unix timestamp of last configuration load
//   - worker_config_validation_errors_total: Total validation errors by field
//   - worker_config_fallbacks_total: Total fallback operations by field
//   - worker_config_fallback_active: 1 if any fallback active, 0 otherwise
//
// Coordinator-specific metrics:
//   - worker_run_total: Total runs by status (success/failure) and trigger (scheduled/manual)
//   - worker_run_duration_seconds: Duration histogram of run execution
//   - worker_run_items_ingested_total: Total items ingested per run
//   - worker_run_last_success_timestamp: Unix timestamp of last successful run
type CoordinatorMetrics struct {
	ConfigMetrics *config.ConfigMetrics

	RunTotal                *prometheus.CounterVec
	RunDurationSeconds      prometheus.Histogram
	RunItemsIngestedTotal   prometheus.Counter
	RunLastSuccessTimestamp prometheus.Gauge
}

// NewCoordinatorMetrics creates a new CoordinatorMetrics instance with all
// metrics initialized. Metrics are auto-registered with Prometheus via
// promauto.
func NewCoordinatorMetrics() *CoordinatorMetrics {
	return &CoordinatorMetrics{
		ConfigMetrics: config.NewConfigMetrics("worker"),

		RunTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_run_total",
			Help: "Total number of coordinator runs by status and trigger",
		}, []string{"status", "trigger"}),

		RunDurationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "worker_run_duration_seconds",
			Help:    "Duration of a coordinator run in seconds",
			Buckets: []float64{1, 5, 30, 60, 300, 900, 1800},
		}),

		RunItemsIngestedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "worker_run_items_ingested_total",
			Help: "Total number of items ingested across all runs",
		}),

		RunLastSuccessTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "worker_run_last_success_timestamp",
			Help: "Unix timestamp of the last successful coordinator run",
		}),
	}
}

// MustRegister is a no-op method for API compatibility; metrics are
// auto-registered via promauto when created in NewCoordinatorMetrics.
func (m *CoordinatorMetrics) MustRegister() {}

// RecordRun increments the run counter for the given status and trigger.
func (m *CoordinatorMetrics) RecordRun(status, trigger string) {
	m.RunTotal.WithLabelValues(status, trigger).Inc()
}

// RecordRunDuration observes the duration of a run in seconds.
func (m *CoordinatorMetrics) RecordRunDuration(seconds float64) {
	m.RunDurationSeconds.Observe(seconds)
}

// RecordItemsIngested adds the number of items ingested to the total counter.
func (m *CoordinatorMetrics) RecordItemsIngested(count int) {
	m.RunItemsIngestedTotal.Add(float64(count))
}

// RecordLastSuccess records the current time as the last successful run.
func (m *CoordinatorMetrics) RecordLastSuccess() {
	m.RunLastSuccessTimestamp.SetToCurrentTime()
}

// RecordValidationError delegates to the embedded ConfigMetrics.
func (m *CoordinatorMetrics) RecordValidationError(field string) {
	m.ConfigMetrics.RecordValidationError(field)
}

// RecordFallback delegates to the embedded ConfigMetrics.
func (m *CoordinatorMetrics) RecordFallback(field, strategy string) {
	m.ConfigMetrics.RecordFallback(field, strategy)
}

// SetFallbackActive delegates to the embedded ConfigMetrics.
func (m *CoordinatorMetrics) SetFallbackActive(field string, active bool) {
	m.ConfigMetrics.SetFallbackActive(field, active)
}

// RecordLoadTimestamp delegates to the embedded ConfigMetrics.
func (m *CoordinatorMetrics) RecordLoadTimestamp() {
	m.ConfigMetrics.RecordLoadTimestamp()
}
