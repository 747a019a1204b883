package worker

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewCoordinatorMetrics(t *testing.T) {
	metrics := globalTestMetrics

	if metrics == nil {
		t.Fatal("NewCoordinatorMetrics returned nil")
	}
	if metrics.ConfigMetrics == nil {
		t.Error("ConfigMetrics is nil")
	}
	if metrics.RunTotal == nil {
		t.Error("RunTotal is nil")
	}
	if metrics.RunDurationSeconds == nil {
		t.Error("RunDurationSeconds is nil")
	}
	if metrics.RunItemsIngestedTotal == nil {
		t.Error("RunItemsIngestedTotal is nil")
	}
	if metrics.RunLastSuccessTimestamp == nil {
		t.Error("RunLastSuccessTimestamp is nil")
	}

	metrics.MustRegister()
}

func TestCoordinatorMetrics_RecordRun(t *testing.T) {
	reg := prometheus.NewRegistry()

	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_worker_run_total",
		Help: "Test counter",
	}, []string{"status", "trigger"})
	reg.MustRegister(counter)

	metrics := &CoordinatorMetrics{RunTotal: counter}

	metrics.RecordRun("success", "scheduled")
	metrics.RecordRun("success", "manual")
	metrics.RecordRun("failure", "scheduled")

	if got := testutil.ToFloat64(metrics.RunTotal.WithLabelValues("success", "scheduled")); got != 1 {
		t.Errorf("Expected 1 scheduled success, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.RunTotal.WithLabelValues("success", "manual")); got != 1 {
		t.Errorf("Expected 1 manual success, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.RunTotal.WithLabelValues("failure", "scheduled")); got != 1 {
		t.Errorf("Expected 1 scheduled failure, got %f", got)
	}
}

func TestCoordinatorMetrics_RecordRunDuration(t *testing.T) {
	reg := prometheus.NewRegistry()

	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_worker_run_duration_seconds",
		Help:    "Test histogram",
		Buckets: []float64{1, 5, 30, 60, 300, 900, 1800},
	})
	reg.MustRegister(histogram)

	metrics := &CoordinatorMetrics{RunDurationSeconds: histogram}

	metrics.RecordRunDuration(10.5)
	metrics.RecordRunDuration(120.0)
	metrics.RecordRunDuration(600.0)

	metricFamilies, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metricFamilies {
		if mf.GetName() == "test_worker_run_duration_seconds" {
			found = true
			if mf.GetMetric()[0].GetHistogram().GetSampleCount() != 3 {
				t.Errorf("Expected 3 observations, got %d", mf.GetMetric()[0].GetHistogram().GetSampleCount())
			}
		}
	}
	if !found {
		t.Error("Histogram metric not found in registry")
	}
}

func TestCoordinatorMetrics_RecordItemsIngested(t *testing.T) {
	reg := prometheus.NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_worker_run_items_ingested_total",
		Help: "Test counter",
	})
	reg.MustRegister(counter)

	metrics := &CoordinatorMetrics{RunItemsIngestedTotal: counter}

	metrics.RecordItemsIngested(10)
	metrics.RecordItemsIngested(25)
	metrics.RecordItemsIngested(0)

	if total := testutil.ToFloat64(metrics.RunItemsIngestedTotal); total != 35 {
		t.Errorf("Expected total 35, got %f", total)
	}
}

func TestCoordinatorMetrics_RecordLastSuccess(t *testing.T) {
	reg := prometheus.NewRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_worker_run_last_success_timestamp",
		Help: "Test gauge",
	})
	reg.MustRegister(gauge)

	metrics := &CoordinatorMetrics{RunLastSuccessTimestamp: gauge}

	if initial := testutil.ToFloat64(metrics.RunLastSuccessTimestamp); initial != 0 {
		t.Errorf("Expected initial value 0, got %f", initial)
	}

	metrics.RecordLastSuccess()

	if after := testutil.ToFloat64(metrics.RunLastSuccessTimestamp); after <= 0 {
		t.Errorf("Expected positive timestamp, got %f", after)
	}
}

func TestCoordinatorMetrics_ConcurrentAccess(t *testing.T) {
	reg := prometheus.NewRegistry()

	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_worker_run_total_concurrent",
		Help: "Test counter",
	}, []string{"status", "trigger"})
	reg.MustRegister(counter)

	itemsCounter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_worker_run_items_concurrent",
		Help: "Test counter",
	})
	reg.MustRegister(itemsCounter)

	metrics := &CoordinatorMetrics{RunTotal: counter, RunItemsIngestedTotal: itemsCounter}

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			metrics.RecordRun("success", "scheduled")
			metrics.RecordItemsIngested(1)
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	if got := testutil.ToFloat64(metrics.RunTotal.WithLabelValues("success", "scheduled")); got != 10 {
		t.Errorf("Expected 10 successful runs, got %f", got)
	}
	if total := testutil.ToFloat64(metrics.RunItemsIngestedTotal); total != 10 {
		t.Errorf("Expected 10 total items, got %f", total)
	}
}
