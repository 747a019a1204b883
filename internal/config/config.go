// Package config loads and validates the pipeline's runtime configuration:
// execution cadence, storage tuning, the source registry, LLM/X-fetcher
// parameters, and the command surface's authorization list. It is the
// ConfigProvider collaborator the core consumes.
package config

import (
	"time"

	"marketpulse/internal/domain/entity"
)

// StorageConfig tunes the Store's retention and dedup behavior.
type StorageConfig struct {
	RetentionDays     int
	DedupWindowDays   int
	SentCacheTTLHours int
	BackingPath       string
}

// XParamsConfig tunes the X fetcher's adaptive page depth.
type XParamsConfig struct {
	MaxPagesLimit     int
	PageHourUnit      int
	DefaultFetchHours int
	ToolTimeoutSeconds int
}

// LLMConfig selects models and bounds LLM call behavior.
type LLMConfig struct {
	AnalysisModel          string
	SnapshotModel          string
	AnalysisTimeoutSeconds int
	AnalysisMaxRetries     int
	SnapshotTTLMinutes     int
}

// CommandSurfaceConfig tunes the command surface's rate limiting and the
// run parameters commands trigger.
type CommandSurfaceConfig struct {
	Enabled           bool
	RateLimit         int
	CooldownSeconds   int
	MaxConcurrentRuns int
	RunTimeoutSeconds int
}

// Config is the fully loaded, validated configuration for one process run.
type Config struct {
	ExecutionIntervalSeconds int
	TimeWindowHours          int
	Storage                  StorageConfig
	Sources                  []entity.SourceDescriptor
	XParams                  XParamsConfig
	LLM                      LLMConfig
	CommandSurface           CommandSurfaceConfig
	AuthorizedUsers          []string // numeric user ids or "@username" tokens, as-configured
	BroadcastChatID          int64
}

// DefaultConfig returns conservative production defaults. Sources and
// AuthorizedUsers are empty; a deployment without either runs with no
// ingestion and denies every command, which is intentional fail-closed
// behavior rather than a bug.
func DefaultConfig() Config {
	return Config{
		ExecutionIntervalSeconds: 6 * 60 * 60,
		TimeWindowHours:          24,
		Storage: StorageConfig{
			RetentionDays:     30,
			DedupWindowDays:   2,
			SentCacheTTLHours: 7 * 24,
			BackingPath:       "marketpulse.db",
		},
		XParams: XParamsConfig{
			MaxPagesLimit:      3,
			PageHourUnit:       6,
			DefaultFetchHours:  24,
			ToolTimeoutSeconds: 300,
		},
		LLM: LLMConfig{
			AnalysisModel:          "claude-sonnet-4-5",
			SnapshotModel:          "claude-sonnet-4-5",
			AnalysisTimeoutSeconds: 180,
			AnalysisMaxRetries:     2,
			SnapshotTTLMinutes:     30,
		},
		CommandSurface: CommandSurfaceConfig{
			Enabled:           true,
			RateLimit:         120,
			CooldownSeconds:   5 * 60,
			MaxConcurrentRuns: 1,
			RunTimeoutSeconds: 30 * 60,
		},
	}
}

// DedupWindow returns Storage.DedupWindowDays as a time.Duration.
func (c Config) DedupWindow() time.Duration {
	return time.Duration(c.Storage.DedupWindowDays) * 24 * time.Hour
}

// SentCacheTTL returns Storage.SentCacheTTLHours as a time.Duration.
func (c Config) SentCacheTTL() time.Duration {
	return time.Duration(c.Storage.SentCacheTTLHours) * time.Hour
}

// RunTimeout returns CommandSurface.RunTimeoutSeconds as a time.Duration.
func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.CommandSurface.RunTimeoutSeconds) * time.Second
}

// Cooldown returns CommandSurface.CooldownSeconds as a time.Duration.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.CommandSurface.CooldownSeconds) * time.Second
}

// AnalysisTimeout returns LLM.AnalysisTimeoutSeconds as a time.Duration.
func (c Config) AnalysisTimeout() time.Duration {
	return time.Duration(c.LLM.AnalysisTimeoutSeconds) * time.Second
}

// SnapshotTTL returns LLM.SnapshotTTLMinutes as a time.Duration.
func (c Config) SnapshotTTL() time.Duration {
	return time.Duration(c.LLM.SnapshotTTLMinutes) * time.Minute
}

// ToolTimeout returns XParams.ToolTimeoutSeconds as a time.Duration.
func (c Config) ToolTimeout() time.Duration {
	return time.Duration(c.XParams.ToolTimeoutSeconds) * time.Second
}

// ExecutionInterval returns ExecutionIntervalSeconds as a time.Duration.
func (c Config) ExecutionInterval() time.Duration {
	return time.Duration(c.ExecutionIntervalSeconds) * time.Second
}
