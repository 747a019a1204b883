package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"marketpulse/internal/config"
	"marketpulse/internal/domain/entity"
	pgRepo "marketpulse/internal/infra/adapter/persistence/postgres"
	sqliteRepo "marketpulse/internal/infra/adapter/persistence/sqlite"
	"marketpulse/internal/infra/db"
	"marketpulse/internal/infra/fetcher"
	"marketpulse/internal/infra/llm"
	"marketpulse/internal/infra/messenger"
	workerPkg "marketpulse/internal/infra/worker"
	"marketpulse/internal/infra/xfetcher"
	"marketpulse/internal/observability/metrics"
	pkgconfig "marketpulse/internal/pkg/config"
	"marketpulse/internal/repository"
	"marketpulse/internal/usecase/analysis"
	"marketpulse/internal/usecase/command"
	"marketpulse/internal/usecase/coordinator"
	"marketpulse/internal/usecase/report"
	"marketpulse/internal/usecase/snapshot"
	topconfig "marketpulse/pkg/config"
	"marketpulse/pkg/ratelimit"
)

func main() {
	logger := initLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	coordMetrics := workerPkg.NewCoordinatorMetrics()
	coordMetrics.MustRegister()
	workerConfig, err := workerPkg.LoadConfigFromEnv(logger, coordMetrics)
	if err != nil {
		logger.Error("failed to load worker configuration", slog.Any("error", err))
		os.Exit(1)
	}

	pipelineMetrics := pkgconfig.NewConfigMetrics("pipeline")
	pipelineCfg, err := config.LoadConfigFromEnv(logger, pipelineMetrics)
	if err != nil {
		logger.Error("failed to load pipeline configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("pipeline configuration loaded",
		slog.Int("sources", len(pipelineCfg.Sources)),
		slog.Int("time_window_hours", pipelineCfg.TimeWindowHours),
		slog.Int("authorized_users", len(pipelineCfg.AuthorizedUsers)))

	database, backend := initDatabase(logger)
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}()

	store := newStore(backend, database)
	startDBStatsPoller(ctx, database)

	httpClient := createHTTPClient()
	registry := buildFetcherRegistry(logger, httpClient, *pipelineCfg)
	llmClient := createLLMClient(logger)

	snapshotProvider := snapshot.NewProvider(llmClient, pipelineCfg.LLM.SnapshotModel, pipelineCfg.SnapshotTTL(), snapshot.DefaultTimeout)
	analyzer := analysis.NewService(llmClient, pipelineCfg.LLM.AnalysisModel, pipelineCfg.LLM.AnalysisMaxRetries, pipelineCfg.AnalysisTimeout())
	reporter := report.NewService(report.DefaultMaxMessageChars, nil)

	botToken := os.Getenv("TELEGRAM_BOT_TOKEN")
	if botToken == "" {
		logger.Error("TELEGRAM_BOT_TOKEN is required")
		os.Exit(1)
	}
	msgr := messenger.New(botToken, httpClient)

	coordParams := coordinator.Params{
		WindowHours:         pipelineCfg.TimeWindowHours,
		DedupWindow:         pipelineCfg.DedupWindow(),
		SentCacheTTL:        pipelineCfg.SentCacheTTL(),
		SentSummaryMaxChars: 4000,
		RetentionDays:       pipelineCfg.Storage.RetentionDays,
		ActiveWindowHours:   pipelineCfg.TimeWindowHours * 7,
		BroadcastChatID:     pipelineCfg.BroadcastChatID,
	}
	coord := coordinator.NewService(
		store,
		registry,
		analyzer,
		snapshotProvider,
		reporter,
		msgr,
		coordMetrics,
		pipelineCfg.Sources,
		coordParams,
		pipelineCfg.CommandSurface.MaxConcurrentRuns,
		pipelineCfg.RunTimeout(),
	)

	var cmdMetricsRegistry *prometheus.Registry
	if pipelineCfg.CommandSurface.Enabled {
		rlCfg, err := topconfig.LoadRateLimitConfig()
		if err != nil {
			logger.Error("failed to load rate limit configuration", slog.Any("error", err))
			os.Exit(1)
		}
		basicLimit, basicWindow := rlCfg.GetTierLimit(ratelimit.TierBasic)
		_, _, _, runCooldown := rlCfg.GetEndpointLimit("/run")
		cmdParams := command.Params{
			MaxCommandsPerWindow: basicLimit,
			Window:               basicWindow,
			RunCooldown:          runCooldown,
		}
		cmdSurface := command.NewService(ctx, msgr, coord, snapshotProvider, cmdParams, pipelineCfg.AuthorizedUsers, llmClient)
		cmdMetricsRegistry = cmdSurface.MetricsRegistry()
		go func() {
			if err := cmdSurface.Run(ctx); err != nil && err != context.Canceled {
				logger.Error("command surface stopped", slog.Any("error", err))
			}
		}()
		logger.Info("command surface started")
	} else {
		logger.Info("command surface disabled")
	}

	startMetricsServer(ctx, logger, cmdMetricsRegistry)

	healthAddr := fmt.Sprintf(":%d", workerConfig.HealthPort)
	healthServer := workerPkg.NewHealthServer(healthAddr, logger, database)
	go func() {
		if err := healthServer.Start(ctx); err != nil && err != http.ErrServerClosed {
			logger.Error("health server failed", slog.Any("error", err))
		}
	}()

	startScheduler(logger, coord, workerConfig)
	healthServer.SetReady(true)
	logger.Info("worker marked as ready")

	<-ctx.Done()
	logger.Info("shutdown signal received, draining in-flight runs",
		slog.Duration("grace", workerConfig.ShutdownGrace))
	coord.Shutdown(workerConfig.ShutdownGrace)
}

func initLogger() *slog.Logger {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return logger
}

func initDatabase(logger *slog.Logger) (*sql.DB, db.Backend) {
	backend := db.Backend(topconfig.GetEnvString("DB_BACKEND", string(db.BackendSQLite)))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" && backend == db.BackendSQLite {
		dsn = "marketpulse.db"
	}
	if dsn == "" {
		logger.Error("DATABASE_URL is required for backend", slog.String("backend", string(backend)))
		os.Exit(1)
	}

	sqlDB, err := db.Open(backend, dsn)
	if err != nil {
		logger.Error("failed to open database", slog.String("backend", string(backend)), slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("database opened", slog.String("backend", string(backend)))
	return sqlDB, backend
}

func newStore(backend db.Backend, sqlDB *sql.DB) repository.Store {
	if backend == db.BackendPostgres {
		return pgRepo.New(sqlDB)
	}
	return sqliteRepo.New(sqlDB)
}

// startDBStatsPoller periodically publishes the connection pool's in-use and
// idle counts until ctx is cancelled.
func startDBStatsPoller(ctx context.Context, sqlDB *sql.DB) {
	ticker := time.NewTicker(30 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := sqlDB.Stats()
				metrics.UpdateDBConnectionStats(stats.InUse, stats.Idle)
			}
		}
	}()
}

func buildFetcherRegistry(logger *slog.Logger, httpClient *http.Client, cfg config.Config) *fetcher.Registry {
	rssFetcher := fetcher.NewRSSFetcher(httpClient)
	restFetcher := fetcher.NewRESTFetcher(httpClient)

	xBinary := os.Getenv("X_FETCHER_BINARY")
	var xFetcher *fetcher.XFetcher
	if xBinary != "" {
		runner := xfetcher.New(xBinary)
		xFetcher = fetcher.NewXFetcher(runner, cfg.XParams.PageHourUnit, cfg.XParams.MaxPagesLimit, cfg.ToolTimeout())
	} else {
		logger.Info("X_FETCHER_BINARY not set, x-kind sources will fail to fetch")
		xFetcher = fetcher.NewXFetcher(noopXFetcherClient{}, cfg.XParams.PageHourUnit, cfg.XParams.MaxPagesLimit, cfg.ToolTimeout())
	}

	return fetcher.NewRegistry(rssFetcher, restFetcher, xFetcher)
}

// noopXFetcherClient is used when no X CLI binary is configured; it fails
// every call rather than panicking on a nil collaborator.
type noopXFetcherClient struct{}

func (noopXFetcherClient) Run(ctx context.Context, sourceURL string, pages int, deadline time.Time) ([]fetcher.XRecord, error) {
	return nil, fmt.Errorf("x fetcher: no binary configured")
}

func createLLMClient(logger *slog.Logger) llm.Client {
	provider := topconfig.GetEnvString("LLM_PROVIDER", "claude")

	switch provider {
	case "claude":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			logger.Error("ANTHROPIC_API_KEY is required when LLM_PROVIDER=claude")
			os.Exit(1)
		}
		return llm.NewClaude(apiKey, llm.DefaultClaudeConfig())
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			logger.Error("OPENAI_API_KEY is required when LLM_PROVIDER=openai")
			os.Exit(1)
		}
		return llm.NewOpenAI(apiKey, llm.DefaultOpenAIConfig())
	default:
		logger.Error("invalid LLM_PROVIDER", slog.String("provider", provider), slog.String("expected", "claude or openai"))
		os.Exit(1)
		return nil
	}
}

func createHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		},
	}
}

func startScheduler(logger *slog.Logger, coord *coordinator.Service, cfg *workerPkg.CoordinatorConfig) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Error("invalid timezone, using UTC", slog.String("timezone", cfg.Timezone), slog.Any("error", err))
		loc = time.UTC
	}

	c := cron.New(cron.WithLocation(loc))
	_, err = c.AddFunc(cfg.CronSchedule, func() {
		handle, err := coord.Trigger(entity.TriggerScheduled, nil, nil)
		if err != nil {
			logger.Warn("scheduled trigger dropped", slog.Any("error", err))
			return
		}
		logger.Info("scheduled run started", slog.String("run_id", handle.RunID))
	})
	if err != nil {
		logger.Error("failed to add cron job", slog.Any("error", err))
		os.Exit(1)
	}
	c.Start()
	logger.Info("scheduler started", slog.String("schedule", cfg.CronSchedule), slog.String("timezone", cfg.Timezone))
}
