package config

import (
	"log/slog"

	pkgconfig "marketpulse/internal/pkg/config"
	topconfig "marketpulse/pkg/config"
)

// LoadConfigFromEnv loads pipeline configuration from environment variables
// with validation and fail-open fallback to DefaultConfig values, mirroring
// the worker package's LoadConfigFromEnv strategy: every field is loaded
// independently, an invalid value logs a warning and falls back rather than
// aborting startup.
//
// Environment variables:
//   - MARKETPULSE_EXECUTION_INTERVAL_SECONDS
//   - MARKETPULSE_TIME_WINDOW_HOURS
//   - MARKETPULSE_RETENTION_DAYS
//   - MARKETPULSE_DEDUP_WINDOW_DAYS
//   - MARKETPULSE_SENT_CACHE_TTL_HOURS
//   - MARKETPULSE_BACKING_PATH
//   - MARKETPULSE_SOURCES_FILE (YAML, see LoadSourcesYAML)
//   - MARKETPULSE_X_MAX_PAGES, MARKETPULSE_X_PAGE_HOUR_UNIT,
//     MARKETPULSE_X_DEFAULT_FETCH_HOURS, MARKETPULSE_X_TOOL_TIMEOUT_SECONDS
//   - MARKETPULSE_ANALYSIS_MODEL, MARKETPULSE_SNAPSHOT_MODEL,
//     MARKETPULSE_ANALYSIS_TIMEOUT_SECONDS, MARKETPULSE_ANALYSIS_MAX_RETRIES,
//     MARKETPULSE_SNAPSHOT_TTL_MINUTES
//   - MARKETPULSE_COMMAND_SURFACE_ENABLED, MARKETPULSE_RATE_LIMIT,
//     MARKETPULSE_COOLDOWN_SECONDS, MARKETPULSE_MAX_CONCURRENT_RUNS,
//     MARKETPULSE_RUN_TIMEOUT_SECONDS
//   - AUTHORIZED_USERS (comma-separated numeric ids and/or @username tokens)
//   - MARKETPULSE_BROADCAST_CHAT_ID
func LoadConfigFromEnv(logger *slog.Logger, metrics *pkgconfig.ConfigMetrics) (*Config, error) {
	cfg := DefaultConfig()
	fallbackApplied := false

	apply := func(field string, result pkgconfig.ConfigLoadResult) {
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

	result := pkgconfig.LoadEnvInt("MARKETPULSE_EXECUTION_INTERVAL_SECONDS", cfg.ExecutionIntervalSeconds, func(v int) error {
		return pkgconfig.ValidateIntRange(v, 60, 7*24*60*60)
	})
	cfg.ExecutionIntervalSeconds = result.Value.(int)
	apply("execution_interval_seconds", result)

	result = pkgconfig.LoadEnvInt("MARKETPULSE_TIME_WINDOW_HOURS", cfg.TimeWindowHours, func(v int) error {
		return pkgconfig.ValidateIntRange(v, 1, 24*30)
	})
	cfg.TimeWindowHours = result.Value.(int)
	apply("time_window_hours", result)

	result = pkgconfig.LoadEnvInt("MARKETPULSE_RETENTION_DAYS", cfg.Storage.RetentionDays, func(v int) error {
		return pkgconfig.ValidateIntRange(v, 1, 3650)
	})
	cfg.Storage.RetentionDays = result.Value.(int)
	apply("retention_days", result)

	result = pkgconfig.LoadEnvInt("MARKETPULSE_DEDUP_WINDOW_DAYS", cfg.Storage.DedupWindowDays, func(v int) error {
		return pkgconfig.ValidateIntRange(v, 1, 365)
	})
	cfg.Storage.DedupWindowDays = result.Value.(int)
	apply("dedup_window_days", result)

	result = pkgconfig.LoadEnvInt("MARKETPULSE_SENT_CACHE_TTL_HOURS", cfg.Storage.SentCacheTTLHours, func(v int) error {
		return pkgconfig.ValidateIntRange(v, 1, 24*365)
	})
	cfg.Storage.SentCacheTTLHours = result.Value.(int)
	apply("sent_cache_ttl_hours", result)

	cfg.Storage.BackingPath = pkgconfig.LoadEnvString("MARKETPULSE_BACKING_PATH", cfg.Storage.BackingPath)

	sourcesFile := pkgconfig.LoadEnvString("MARKETPULSE_SOURCES_FILE", "")
	sources, err := LoadSourcesYAML(sourcesFile)
	if err != nil {
		fallbackApplied = true
		metrics.RecordValidationError("sources")
		metrics.RecordFallback("sources", "empty")
		logger.Warn("sources file invalid, starting with no sources",
			slog.String("path", sourcesFile), slog.Any("error", err))
	} else {
		cfg.Sources = sources
	}

	result = pkgconfig.LoadEnvInt("MARKETPULSE_X_MAX_PAGES", cfg.XParams.MaxPagesLimit, func(v int) error {
		return pkgconfig.ValidateIntRange(v, 1, 20)
	})
	cfg.XParams.MaxPagesLimit = result.Value.(int)
	apply("x_max_pages_limit", result)

	result = pkgconfig.LoadEnvInt("MARKETPULSE_X_PAGE_HOUR_UNIT", cfg.XParams.PageHourUnit, func(v int) error {
		return pkgconfig.ValidateIntRange(v, 1, 48)
	})
	cfg.XParams.PageHourUnit = result.Value.(int)
	apply("x_page_hour_unit", result)

	result = pkgconfig.LoadEnvInt("MARKETPULSE_X_DEFAULT_FETCH_HOURS", cfg.XParams.DefaultFetchHours, func(v int) error {
		return pkgconfig.ValidateIntRange(v, 1, 24*30)
	})
	cfg.XParams.DefaultFetchHours = result.Value.(int)
	apply("x_default_fetch_hours", result)

	result = pkgconfig.LoadEnvInt("MARKETPULSE_X_TOOL_TIMEOUT_SECONDS", cfg.XParams.ToolTimeoutSeconds, func(v int) error {
		return pkgconfig.ValidateIntRange(v, 5, 3600)
	})
	cfg.XParams.ToolTimeoutSeconds = result.Value.(int)
	apply("x_tool_timeout_seconds", result)

	cfg.LLM.AnalysisModel = pkgconfig.LoadEnvString("MARKETPULSE_ANALYSIS_MODEL", cfg.LLM.AnalysisModel)
	cfg.LLM.SnapshotModel = pkgconfig.LoadEnvString("MARKETPULSE_SNAPSHOT_MODEL", cfg.LLM.SnapshotModel)

	result = pkgconfig.LoadEnvInt("MARKETPULSE_ANALYSIS_TIMEOUT_SECONDS", cfg.LLM.AnalysisTimeoutSeconds, func(v int) error {
		return pkgconfig.ValidateIntRange(v, 5, 900)
	})
	cfg.LLM.AnalysisTimeoutSeconds = result.Value.(int)
	apply("analysis_timeout_seconds", result)

	result = pkgconfig.LoadEnvInt("MARKETPULSE_ANALYSIS_MAX_RETRIES", cfg.LLM.AnalysisMaxRetries, func(v int) error {
		return pkgconfig.ValidateIntRange(v, 0, 10)
	})
	cfg.LLM.AnalysisMaxRetries = result.Value.(int)
	apply("analysis_max_retries", result)

	result = pkgconfig.LoadEnvInt("MARKETPULSE_SNAPSHOT_TTL_MINUTES", cfg.LLM.SnapshotTTLMinutes, func(v int) error {
		return pkgconfig.ValidateIntRange(v, 1, 24*60)
	})
	cfg.LLM.SnapshotTTLMinutes = result.Value.(int)
	apply("snapshot_ttl_minutes", result)

	boolResult := pkgconfig.LoadEnvBool("MARKETPULSE_COMMAND_SURFACE_ENABLED", cfg.CommandSurface.Enabled)
	cfg.CommandSurface.Enabled = boolResult.Value.(bool)

	result = pkgconfig.LoadEnvInt("MARKETPULSE_RATE_LIMIT", cfg.CommandSurface.RateLimit, func(v int) error {
		return pkgconfig.ValidateIntRange(v, 1, 100000)
	})
	cfg.CommandSurface.RateLimit = result.Value.(int)
	apply("rate_limit", result)

	result = pkgconfig.LoadEnvInt("MARKETPULSE_COOLDOWN_SECONDS", cfg.CommandSurface.CooldownSeconds, func(v int) error {
		return pkgconfig.ValidateIntRange(v, 0, 24*60*60)
	})
	cfg.CommandSurface.CooldownSeconds = result.Value.(int)
	apply("cooldown_seconds", result)

	result = pkgconfig.LoadEnvInt("MARKETPULSE_MAX_CONCURRENT_RUNS", cfg.CommandSurface.MaxConcurrentRuns, func(v int) error {
		return pkgconfig.ValidateIntRange(v, 1, 16)
	})
	cfg.CommandSurface.MaxConcurrentRuns = result.Value.(int)
	apply("max_concurrent_runs", result)

	result = pkgconfig.LoadEnvInt("MARKETPULSE_RUN_TIMEOUT_SECONDS", cfg.CommandSurface.RunTimeoutSeconds, func(v int) error {
		return pkgconfig.ValidateIntRange(v, 60, 4*60*60)
	})
	cfg.CommandSurface.RunTimeoutSeconds = result.Value.(int)
	apply("run_timeout_seconds", result)

	cfg.AuthorizedUsers = topconfig.GetEnvStringList("AUTHORIZED_USERS", nil)
	if len(cfg.AuthorizedUsers) == 0 {
		logger.Warn("AUTHORIZED_USERS is empty, command surface will deny every command")
	}

	result = pkgconfig.LoadEnvInt("MARKETPULSE_BROADCAST_CHAT_ID", 0, nil)
	cfg.BroadcastChatID = int64(result.Value.(int))

	metrics.SetFallbackActive("", fallbackApplied)
	metrics.RecordLoadTimestamp()

	return &cfg, nil
}
