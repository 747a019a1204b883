package worker

import (
	"fmt"
	"log/slog"
	"time"

	"marketpulse/internal/pkg/config"
)

// CoordinatorConfig holds the configuration for the periodic execution
// coordinator. This configuration controls the cron schedule, timezone,
// concurrency gate, and per-run timeouts for the worker process.
//
// Configuration sources:
//   - Environment variables (loaded via LoadConfigFromEnv)
//   - Default values (provided by DefaultConfig)
//
// All fields have sensible defaults and validation rules to ensure the
// worker can operate safely even with invalid or missing configuration.
//
// Example usage:
//
//	// Use defaults
//	config := DefaultConfig()
//
//	// Load from environment with fallback
//	config, err := LoadConfigFromEnv(logger, metrics)
//	if err != nil {
//	    // This should never happen with fail-open strategy
//	    log.Fatal("Unexpected configuration error: %v", err)
//	}
type CoordinatorConfig struct {
	// CronSchedule is the cron expression driving scheduled runs.
	// Format: "minute hour day month weekday"
	// Example: "0 */6 * * *" (every 6 hours)
	// Default: "0 */6 * * *"
	CronSchedule string

	// Timezone is the IANA timezone name the cron schedule is evaluated in.
	// Default: "UTC"
	Timezone string

	// MaxConcurrentRuns bounds how many runs may be in flight at once.
	// Range: 1-16
	// Default: 1
	MaxConcurrentRuns int

	// RunTimeout bounds a single run end to end. After this timeout the
	// run's context is cancelled.
	// Default: 30 minutes
	RunTimeout time.Duration

	// ShutdownGrace bounds how long an in-flight run is given to finish
	// during graceful shutdown before the process exits anyway.
	// Default: 30 seconds
	ShutdownGrace time.Duration

	// HealthPort is the port number for the health check HTTP server.
	// Range: 1024-65535 (avoid privileged ports)
	// Default: 9091
	HealthPort int
}

// DefaultConfig returns a CoordinatorConfig with sensible default values.
func DefaultConfig() CoordinatorConfig {
	return CoordinatorConfig{
		CronSchedule:      "0 */6 * * *",
		Timezone:          "UTC",
		MaxConcurrentRuns: 1,
		RunTimeout:        30 * time.Minute,
		ShutdownGrace:     30 * time.Second,
		HealthPort:        9091,
	}
}

// Validate checks if the configuration values are valid. If multiple
// fields are invalid, all errors are collected and returned together.
func (c *CoordinatorConfig) Validate() error {
	var errs []error

	if err := config.ValidateCronSchedule(c.CronSchedule); err != nil {
		errs = append(errs, fmt.Errorf("cron schedule: %w", err))
	}
	if err := config.ValidateTimezone(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	if err := config.ValidateIntRange(c.MaxConcurrentRuns, 1, 16); err != nil {
		errs = append(errs, fmt.Errorf("max concurrent runs: %w", err))
	}
	if err := config.ValidatePositiveDuration(c.RunTimeout); err != nil {
		errs = append(errs, fmt.Errorf("run timeout: %w", err))
	}
	if err := config.ValidatePositiveDuration(c.ShutdownGrace); err != nil {
		errs = append(errs, fmt.Errorf("shutdown grace: %w", err))
	}
	if err := config.ValidateIntRange(c.HealthPort, 1024, 65535); err != nil {
		errs = append(errs, fmt.Errorf("health port: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed: %v", errs)
	}
	return nil
}

// LoadConfigFromEnv loads coordinator configuration from environment
// variables with validation and automatic fallback to default values on
// failure.
//
// This function implements the fail-open strategy:
//  1. Start with DefaultConfig() as base
//  2. Load each field from environment variables
//  3. Validate each loaded value
//  4. If validation fails: use default value, log warning, increment metrics
//  5. Never return error - always return a valid configuration
//
// Environment variables:
//   - MARKETPULSE_CRON_SCHEDULE: Cron expression (default: "0 */6 * * *")
//   - MARKETPULSE_TIMEZONE: IANA timezone name (default: "UTC")
//   - MARKETPULSE_MAX_CONCURRENT_RUNS: Integer 1-16 (default: 1)
//   - MARKETPULSE_RUN_TIMEOUT: Duration string, e.g., "30m" (default: 30 minutes)
//   - MARKETPULSE_SHUTDOWN_GRACE: Duration string, e.g., "30s" (default: 30 seconds)
//   - MARKETPULSE_HEALTH_PORT: Integer 1024-65535 (default: 9091)
func LoadConfigFromEnv(logger *slog.Logger, metrics *CoordinatorMetrics) (*CoordinatorConfig, error) {
	cfg := DefaultConfig()
	fallbackApplied := false

	apply := func(field string, result config.ConfigLoadResult) {
		if !result.FallbackApplied {
			return
		}
		fallbackApplied = true
		metrics.RecordValidationError(field)
		metrics.RecordFallback(field, "default")
		for _, warning := range result.Warnings {
			logger.Warn("configuration fallback applied",
				slog.String("field", field),
				slog.String("warning", warning))
		}
	}

	result := config.LoadEnvWithFallback("MARKETPULSE_CRON_SCHEDULE", cfg.CronSchedule, config.ValidateCronSchedule)
	cfg.CronSchedule = result.Value.(string)
	apply("cron_schedule", result)

	result = config.LoadEnvWithFallback("MARKETPULSE_TIMEZONE", cfg.Timezone, config.ValidateTimezone)
	cfg.Timezone = result.Value.(string)
	apply("timezone", result)

	result = config.LoadEnvInt("MARKETPULSE_MAX_CONCURRENT_RUNS", cfg.MaxConcurrentRuns, func(v int) error {
		return config.ValidateIntRange(v, 1, 16)
	})
	cfg.MaxConcurrentRuns = result.Value.(int)
	apply("max_concurrent_runs", result)

	result = config.LoadEnvDuration("MARKETPULSE_RUN_TIMEOUT", cfg.RunTimeout, func(d time.Duration) error {
		return config.ValidateDuration(d, time.Minute, 4*time.Hour)
	})
	cfg.RunTimeout = result.Value.(time.Duration)
	apply("run_timeout", result)

	result = config.LoadEnvDuration("MARKETPULSE_SHUTDOWN_GRACE", cfg.ShutdownGrace, config.ValidatePositiveDuration)
	cfg.ShutdownGrace = result.Value.(time.Duration)
	apply("shutdown_grace", result)

	result = config.LoadEnvInt("MARKETPULSE_HEALTH_PORT", cfg.HealthPort, func(v int) error {
		return config.ValidateIntRange(v, 1024, 65535)
	})
	cfg.HealthPort = result.Value.(int)
	apply("health_port", result)

	metrics.SetFallbackActive("", fallbackApplied)
	metrics.RecordLoadTimestamp()

	return &cfg, nil
}
