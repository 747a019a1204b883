// Package coordinator implements the Coordinator: the per-run state machine
// that drives a single pass through fetching, analysis, reporting, and
// delivery, gated by a concurrency limit and bounded by a run timeout.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"marketpulse/internal/domain/entity"
	"marketpulse/internal/infra/fetcher"
	"marketpulse/internal/infra/worker"
	"marketpulse/internal/observability/logging"
	"marketpulse/internal/observability/metrics"
	"marketpulse/internal/repository"
)

// Analyzer is the LLM-backed filter/classify/score/summarize collaborator.
type Analyzer interface {
	Analyze(ctx context.Context, items []entity.Item, snapshotText, sentSummary string) ([]entity.AnalysisResult, error)
}

// SnapshotProvider supplies the market-context string substituted into the
// Analyzer's prompt.
type SnapshotProvider interface {
	Get(ctx context.Context, now time.Time) entity.MarketSnapshot
}

// Reporter renders a RunReport into messenger-sized text segments.
type Reporter interface {
	Render(report entity.RunReport) []string
}

// Sender delivers one rendered segment to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Params holds the domain-level tuning a coordinator run consumes on top of
// worker.CoordinatorConfig's scheduling/health concerns.
type Params struct {
	WindowHours         int
	DedupWindow         time.Duration
	SentCacheTTL        time.Duration
	SentSummaryMaxChars int
	RetentionDays       int
	ActiveWindowHours   int
	BroadcastChatID     int64
}

// DefaultParams returns conservative production defaults.
func DefaultParams() Params {
	return Params{
		WindowHours:         24,
		DedupWindow:         48 * time.Hour,
		SentCacheTTL:        7 * 24 * time.Hour,
		SentSummaryMaxChars: 4000,
		RetentionDays:       30,
		ActiveWindowHours:   24 * 7,
	}
}

// Service implements the Coordinator.
type Service struct {
	store    repository.Store
	registry *fetcher.Registry
	analyzer Analyzer
	snapshot SnapshotProvider
	reporter Reporter
	sender   Sender
	metrics  *worker.CoordinatorMetrics

	sources []entity.SourceDescriptor
	params  Params

	runTimeout time.Duration
	sem        chan struct{}

	mu      sync.Mutex
	active  map[string]*entity.ExecutionHandle
	lastRun *entity.ExecutionHandle
	wg      sync.WaitGroup
	seq     atomic.Int64

	// itemsTotal tracks the running item count this process has observed
	// for the items_total gauge: incremented by each run's inserts,
	// decremented by each run's purge deletions.
	itemsTotal atomic.Int64
}

// NewService builds a coordinator Service. maxConcurrentRuns and runTimeout
// typically come straight from worker.CoordinatorConfig.
func NewService(
	store repository.Store,
	registry *fetcher.Registry,
	analyzer Analyzer,
	snapshot SnapshotProvider,
	reporter Reporter,
	sender Sender,
	coordMetrics *worker.CoordinatorMetrics,
	sources []entity.SourceDescriptor,
	params Params,
	maxConcurrentRuns int,
	runTimeout time.Duration,
) *Service {
	if maxConcurrentRuns <= 0 {
		maxConcurrentRuns = 1
	}
	metrics.UpdateSourcesTotal(len(sources))
	return &Service{
		store:      store,
		registry:   registry,
		analyzer:   analyzer,
		snapshot:   snapshot,
		reporter:   reporter,
		sender:     sender,
		metrics:    coordMetrics,
		sources:    sources,
		params:     params,
		runTimeout: runTimeout,
		sem:        make(chan struct{}, maxConcurrentRuns),
		active:     make(map[string]*entity.ExecutionHandle),
	}
}

// Trigger starts a run in the background, returning its handle immediately.
// It returns entity.ErrBusy without starting a run if max_concurrent_runs
// in-flight runs already hold the gate.
func (s *Service) Trigger(trigger entity.RunTrigger, triggeredBy *int64, targetChat *int64) (*entity.ExecutionHandle, error) {
	select {
	case s.sem <- struct{}{}:
	default:
		return nil, entity.ErrBusy
	}

	handle := &entity.ExecutionHandle{
		RunID:       s.newRunID(),
		Trigger:     trigger,
		TriggeredBy: triggeredBy,
		StartedAt:   time.Now().UTC(),
		Stage:       entity.StageFetching,
		TargetChat:  targetChat,
	}

	s.mu.Lock()
	s.active[handle.RunID] = handle
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.sem }()
		s.execute(handle)
	}()

	return handle, nil
}

// Status returns the handle for runID, checking in-flight runs first and
// falling back to the most recently completed run.
func (s *Service) Status(runID string) (*entity.ExecutionHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.active[runID]; ok {
		return h, true
	}
	if s.lastRun != nil && s.lastRun.RunID == runID {
		return s.lastRun, true
	}
	return nil, false
}

// LastRun returns the most recently completed run, or nil if none has
// finished yet.
func (s *Service) LastRun() *entity.ExecutionHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// ActiveRuns returns handles for all in-flight runs.
func (s *Service) ActiveRuns() []*entity.ExecutionHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*entity.ExecutionHandle, 0, len(s.active))
	for _, h := range s.active {
		out = append(out, h)
	}
	return out
}

// Shutdown waits up to the given grace period for in-flight runs to finish.
func (s *Service) Shutdown(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		slog.Warn("coordinator shutdown grace period elapsed with runs still in flight",
			slog.Int("active", len(s.ActiveRuns())))
	}
}

func (s *Service) newRunID() string {
	return fmt.Sprintf("run-%d-%d", time.Now().UTC().Unix(), s.seq.Add(1))
}

func (s *Service) execute(handle *entity.ExecutionHandle) {
	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()
	ctx = logging.WithRunIDValue(ctx, handle.RunID)
	logger := logging.WithRunID(ctx, slog.Default())

	start := time.Now()
	logger.Info("run started", slog.String("trigger", string(handle.Trigger)))

	err := s.runPipeline(ctx, logger, handle)

	now := time.Now().UTC()
	handle.EndedAt = &now
	s.mu.Lock()
	delete(s.active, handle.RunID)
	if err != nil {
		handle.Stage = entity.StageFailed
		handle.FailReason = err.Error()
	} else {
		handle.Stage = entity.StageDone
	}
	s.lastRun = handle
	s.mu.Unlock()

	status := "success"
	if err != nil {
		status = "failure"
		logger.Error("run failed", slog.Any("error", err))
	} else {
		logger.Info("run completed")
		s.metrics.RecordLastSuccess()
	}
	s.metrics.RecordRun(status, string(handle.Trigger))
	s.metrics.RecordRunDuration(time.Since(start).Seconds())
}

func (s *Service) runPipeline(ctx context.Context, logger *slog.Logger, handle *entity.ExecutionHandle) error {
	now := time.Now().UTC()

	handle.Stage = entity.StageFetching
	crawlResults, fetched, err := s.fetchAndPersist(ctx, logger, now)
	if err != nil {
		return fmt.Errorf("fetch stage: %w", err)
	}
	s.metrics.RecordItemsIngested(fetched)

	handle.Stage = entity.StageAnalyzing
	windowStart := now.Add(-time.Duration(s.params.WindowHours) * time.Hour)
	items, err := s.store.QueryWindow(ctx, now, s.params.WindowHours)
	if err != nil {
		return fmt.Errorf("query window: %w", err)
	}

	sentSummary, err := s.store.SentSummary(ctx, now, s.params.SentCacheTTL, s.params.SentSummaryMaxChars)
	if err != nil {
		logger.Warn("sent summary unavailable, proceeding without it", slog.Any("error", err))
		sentSummary = ""
	}

	snap := s.snapshot.Get(ctx, now)

	analysisStart := time.Now()
	results, err := s.analyzer.Analyze(ctx, items, snap.Text, sentSummary)
	metrics.RecordAnalysisDuration(time.Since(analysisStart))
	if err != nil {
		metrics.RecordAnalysisCompleted(false)
		return fmt.Errorf("analyze: %w", err)
	}
	metrics.RecordAnalysisCompleted(true)

	handle.Stage = entity.StageReporting
	report := entity.RunReport{
		WindowStart:       windowStart,
		WindowEnd:         now,
		GeneratedAt:       now,
		CrawlResults:      crawlResults,
		AnalysisResults:   results,
		CategoriesPresent: categoriesOf(results),
	}
	segments := s.reporter.Render(report)

	handle.Stage = entity.StageSending
	targetChat := s.params.BroadcastChatID
	if handle.Trigger == entity.TriggerManual && handle.TargetChat != nil {
		targetChat = *handle.TargetChat
	}
	if err := s.sendAll(ctx, targetChat, segments); err != nil {
		return fmt.Errorf("send stage: %w", err)
	}

	itemIDs := make([]string, 0, len(results))
	byTitleAndSource := make(map[string]entity.Item, len(items))
	for _, it := range items {
		byTitleAndSource[it.Title+"\x00"+it.SourceName] = it
	}
	for _, r := range results {
		if it, ok := byTitleAndSource[r.Title+"\x00"+r.Source]; ok {
			itemIDs = append(itemIDs, it.ID)
		}
	}
	if len(itemIDs) > 0 {
		if err := s.store.MarkSent(ctx, itemIDs, now); err != nil {
			return fmt.Errorf("mark sent: %w", err)
		}
	}

	if purgeResult, err := s.store.Purge(ctx, now, s.params.RetentionDays, s.params.ActiveWindowHours, s.params.SentCacheTTL); err != nil {
		logger.Warn("purge failed, continuing", slog.Any("error", err))
	} else {
		s.itemsTotal.Add(-purgeResult.ItemsDeleted)
		metrics.UpdateItemsTotal(int(s.itemsTotal.Load()))
	}

	return nil
}

// fetchAndPersist fetches all configured sources concurrently, inserts the
// results, and returns a CrawlResult per source plus the total item count
// fetched (before dedup).
func (s *Service) fetchAndPersist(ctx context.Context, logger *slog.Logger, now time.Time) ([]entity.CrawlResult, int, error) {
	results := make([]entity.CrawlResult, len(s.sources))
	fetchedCounts := make([]int, len(s.sources))
	var allItems []entity.Item
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	for i, src := range s.sources {
		i, src := i, src
		g.Go(func() error {
			fetchStart := time.Now()
			latest, err := s.store.LatestTime(gCtx, src.Name, src.Kind)
			if err != nil {
				logger.Warn("watermark lookup failed, fetching without hint",
					slog.String("source", src.Name), slog.Any("error", err))
			}

			items, err := s.registry.Fetch(gCtx, src, s.params.WindowHours, fetcher.Hints{
				LatestPublishedAt: latest,
				Now:               now,
			})
			metrics.RecordSourceFetch(int64(i), time.Since(fetchStart), int64(len(items)), 0, 0)
			if err != nil {
				metrics.RecordSourceFetchError(int64(i), "fetch_failed")
				mu.Lock()
				results[i] = entity.CrawlResult{SourceName: src.Name, Kind: src.Kind, Status: entity.CrawlStatusError, ErrorMessage: err.Error()}
				mu.Unlock()
				logger.Warn("source fetch failed", slog.String("source", src.Name), slog.Any("error", err))
				return nil
			}

			mu.Lock()
			results[i] = entity.CrawlResult{SourceName: src.Name, Kind: src.Kind, Status: entity.CrawlStatusOK, ItemCount: len(items)}
			fetchedCounts[i] = len(items)
			allItems = append(allItems, items...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	total := 0
	for _, c := range fetchedCounts {
		total += c
	}

	if len(allItems) > 0 {
		insertResult, err := s.store.Insert(ctx, allItems, s.params.DedupWindow)
		if err != nil {
			return results, total, fmt.Errorf("insert items: %w", err)
		}
		s.itemsTotal.Add(int64(len(insertResult.Inserted)))
		metrics.UpdateItemsTotal(int(s.itemsTotal.Load()))
	}

	return results, total, nil
}

func categoriesOf(results []entity.AnalysisResult) []string {
	seen := make(map[string]bool, len(results))
	var out []string
	for _, r := range results {
		if !seen[r.Category] {
			seen[r.Category] = true
			out = append(out, r.Category)
		}
	}
	return out
}

func (s *Service) sendAll(ctx context.Context, chatID int64, segments []string) error {
	for i, segment := range segments {
		if err := s.sender.Send(ctx, chatID, segment); err != nil {
			return fmt.Errorf("send segment %d/%d: %w", i+1, len(segments), err)
		}
	}
	return nil
}
