// Package command implements the CommandSurface: authorization, rate
// limiting, and dispatch for the small set of operator commands the
// Messenger delivers (/run, /market, /status, /help, /tokens, /start).
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"marketpulse/internal/domain/entity"
	"marketpulse/internal/infra/messenger"
	"marketpulse/internal/usecase/coordinator"
	"marketpulse/pkg/ratelimit"
)

// Messenger is the inbound/outbound boundary the command surface drives.
type Messenger interface {
	Send(ctx context.Context, chatID int64, text string) error
	ResolveUsername(ctx context.Context, name string) (int64, bool, error)
	RecvCommands(ctx context.Context) (<-chan messenger.CommandEvent, error)
}

// Coordinator is the subset of coordinator.Service the command surface
// drives directly.
type Coordinator interface {
	Trigger(trigger entity.RunTrigger, triggeredBy *int64, targetChat *int64) (*entity.ExecutionHandle, error)
	Status(runID string) (*entity.ExecutionHandle, bool)
	LastRun() *entity.ExecutionHandle
	ActiveRuns() []*entity.ExecutionHandle
}

var _ Coordinator = (*coordinator.Service)(nil)

// SnapshotProvider supplies the /market response.
type SnapshotProvider interface {
	Get(ctx context.Context, now time.Time) entity.MarketSnapshot
}

// TokenCounter reports cumulative LLM token usage for the /tokens command.
type TokenCounter interface {
	TokensUsed() (input, output int64)
}

// Params tunes authorization and rate limiting.
type Params struct {
	MaxCommandsPerWindow int           // default 120 per rolling hour
	Window               time.Duration // default 1h, the rolling window MaxCommandsPerWindow applies to
	RunCooldown          time.Duration // default 5m between /run executions
}

// DefaultParams returns the command surface's default authorization and
// rate-limit tuning.
func DefaultParams() Params {
	return Params{MaxCommandsPerWindow: 120, Window: time.Hour, RunCooldown: 5 * time.Minute}
}

const helpText = "Commands:\n" +
	"/run - trigger an analysis pass now\n" +
	"/market - current market snapshot\n" +
	"/status - active and last completed runs\n" +
	"/tokens - cumulative LLM token usage\n" +
	"/help - this message"

const startText = "marketpulse is online. Send /help for the command list."

// Service implements the CommandSurface.
type Service struct {
	messenger  Messenger
	coord      Coordinator
	snapshot   SnapshotProvider
	counters   []TokenCounter
	params     Params
	windowAlgo *ratelimit.SlidingWindowAlgorithm
	windowStore ratelimit.RateLimitStore
	cooldownStore ratelimit.RateLimitStore
	rlMetrics  ratelimit.RateLimitMetrics
	rlRegistry *prometheus.Registry
	breaker    *ratelimit.CircuitBreaker

	mu       sync.RWMutex
	byUserID map[int64]bool

	audit *resolutionAuditor
}

// NewService builds a command surface. authorized is the raw authorization
// list from config (numeric ids and/or "@username" tokens); usernames are
// resolved against messenger at construction time, per entry failures are
// logged and dropped.
func NewService(ctx context.Context, msgr Messenger, coord Coordinator, snapshot SnapshotProvider, params Params, authorized []string, counters ...TokenCounter) *Service {
	if params.MaxCommandsPerWindow <= 0 {
		params.MaxCommandsPerWindow = DefaultParams().MaxCommandsPerWindow
	}
	if params.RunCooldown <= 0 {
		params.RunCooldown = DefaultParams().RunCooldown
	}
	if params.Window <= 0 {
		params.Window = DefaultParams().Window
	}

	// Each command surface gets its own private registry rather than
	// prometheus.DefaultRegisterer: NewService can run more than once per
	// process (tests construct many), and registering the same collector
	// names twice against the default registry panics.
	rlMetrics := ratelimit.NewPrometheusMetrics(nil)
	s := &Service{
		messenger:     msgr,
		coord:         coord,
		snapshot:      snapshot,
		counters:      counters,
		params:        params,
		windowAlgo:    ratelimit.NewSlidingWindowAlgorithm(nil),
		windowStore:   ratelimit.NewInMemoryRateLimitStore(ratelimit.DefaultInMemoryStoreConfig()),
		cooldownStore: ratelimit.NewInMemoryRateLimitStore(ratelimit.DefaultInMemoryStoreConfig()),
		rlMetrics:     rlMetrics,
		rlRegistry:    rlMetrics.Registry(),
		breaker: ratelimit.NewCircuitBreaker(ratelimit.CircuitBreakerConfig{
			LimiterType: "command",
			Metrics:     rlMetrics,
		}),
		byUserID: make(map[int64]bool),
		audit:    newResolutionAuditor(),
	}
	s.loadAuthorization(ctx, authorized)
	return s
}

func (s *Service) loadAuthorization(ctx context.Context, authorized []string) {
	for _, entry := range authorized {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.HasPrefix(entry, "@") {
			name := strings.TrimPrefix(entry, "@")
			id, found, err := s.messenger.ResolveUsername(ctx, name)
			if err != nil || !found {
				slog.Warn("command surface: dropping unresolved authorized username",
					slog.String("username", name), slog.Any("error", err))
				continue
			}
			s.byUserID[id] = true
			if token, err := s.audit.record(name, id); err != nil {
				slog.Warn("command surface: failed to sign resolution audit token",
					slog.String("username", name), slog.Any("error", err))
			} else {
				slog.Info("command surface: username resolution audited",
					slog.String("username", name), slog.Int64("user_id", id), slog.String("audit_token", token))
			}
			continue
		}
		id, err := strconv.ParseInt(entry, 10, 64)
		if err != nil {
			slog.Warn("command surface: dropping malformed authorization entry", slog.String("entry", entry))
			continue
		}
		s.byUserID[id] = true
	}
	if len(s.byUserID) == 0 {
		slog.Warn("command surface: authorization set is empty, all commands will be denied")
	}
}

// MetricsRegistry exposes the command surface's rate limit metrics for
// scraping. It is a private registry distinct from the process-wide one, so
// constructing more than one Service never collides on collector names.
func (s *Service) MetricsRegistry() *prometheus.Registry {
	return s.rlRegistry
}

func (s *Service) isAuthorized(userID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byUserID[userID]
}

// Run starts the command surface's dispatch loop, blocking until ctx is
// cancelled or the messenger's command channel closes.
func (s *Service) Run(ctx context.Context) error {
	events, err := s.messenger.RecvCommands(ctx)
	if err != nil {
		return fmt.Errorf("command: start receiving: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			s.handle(ctx, event)
		}
	}
}

func (s *Service) handle(ctx context.Context, event messenger.CommandEvent) {
	decision, reason := s.authorize(ctx, event)
	slog.Info("command authorization decision",
		slog.String("command", event.Command),
		slog.Int64("user_id", event.Chat.UserID),
		slog.String("username", event.Chat.Username),
		slog.String("chat_kind", string(event.Chat.ChatKind)),
		slog.Int64("chat_id", event.Chat.ChatID),
		slog.Bool("decision", decision),
		slog.String("reason", reason))

	if !decision {
		s.reply(ctx, event.Chat.ChatID, fmt.Sprintf("denied: %s", reason))
		return
	}

	reply := s.dispatch(ctx, event)
	if reply != "" {
		s.reply(ctx, event.Chat.ChatID, reply)
	}
}

func (s *Service) authorize(ctx context.Context, event messenger.CommandEvent) (bool, string) {
	if !s.isAuthorized(event.Chat.UserID) {
		return false, "unauthorized"
	}

	windowKey := strconv.FormatInt(event.Chat.UserID, 10)
	if !s.checkLimit(ctx, windowKey, event.Command, s.windowStore, s.params.MaxCommandsPerWindow, s.params.Window) {
		return false, "rate limited"
	}

	if event.Command == "/run" {
		cooldownKey := windowKey + ":run"
		if !s.checkLimit(ctx, cooldownKey, "/run:cooldown", s.cooldownStore, 1, s.params.RunCooldown) {
			return false, "cooldown"
		}
	}

	return true, ""
}

// checkLimit runs a sliding-window check behind the circuit breaker: a run
// of store failures trips the breaker open, and an open breaker fails open
// (allows the command) rather than locking operators out because the
// limiter store is unhealthy. Every check's duration feeds the rate limit
// metrics; the allowed/denied verdict is recorded only when the limiter
// reached a decision (not on a store error or an open breaker).
func (s *Service) checkLimit(ctx context.Context, key, endpoint string, store ratelimit.RateLimitStore, limit int, window time.Duration) bool {
	start := time.Now()
	var decision *ratelimit.RateLimitDecision
	err := s.breaker.Execute(func() error {
		d, err := s.windowAlgo.IsAllowed(ctx, key, store, limit, window)
		if err != nil {
			return err
		}
		decision = d
		return nil
	})
	s.rlMetrics.RecordCheckDuration(endpoint, time.Since(start))

	if err != nil {
		slog.Warn("command surface: rate limit check failed, allowing", slog.String("endpoint", endpoint), slog.Any("error", err))
		return true
	}
	if decision == nil {
		// Circuit breaker is open: fail open instead of denying every
		// command while the limiter store recovers.
		return true
	}
	if decision.Allowed {
		s.rlMetrics.RecordAllowed("command", endpoint)
	} else {
		s.rlMetrics.RecordDenied("command", endpoint)
	}
	return decision.Allowed
}

func (s *Service) dispatch(ctx context.Context, event messenger.CommandEvent) string {
	switch event.Command {
	case "/run":
		return s.handleRun(event)
	case "/market":
		return s.handleMarket(ctx)
	case "/status":
		return s.handleStatus()
	case "/help":
		return helpText
	case "/tokens":
		return s.handleTokens()
	case "/start":
		return startText
	default:
		return fmt.Sprintf("unknown command %q, send /help", event.Command)
	}
}

func (s *Service) handleRun(event messenger.CommandEvent) string {
	chatID := event.Chat.ChatID
	userID := event.Chat.UserID
	handle, err := s.coord.Trigger(entity.TriggerManual, &userID, &chatID)
	if err != nil {
		if errors.Is(err, entity.ErrBusy) {
			return "busy: a run is already in progress"
		}
		return fmt.Sprintf("failed to start run: %v", err)
	}
	return fmt.Sprintf("run %s started", handle.RunID)
}

func (s *Service) handleMarket(ctx context.Context) string {
	snap := s.snapshot.Get(ctx, time.Now().UTC())
	if !snap.Valid {
		return "market snapshot unavailable right now"
	}
	return fmt.Sprintf("[%s] %s", snap.Origin, snap.Text)
}

func (s *Service) handleStatus() string {
	var b strings.Builder
	active := s.coord.ActiveRuns()
	if len(active) == 0 {
		b.WriteString("no active runs\n")
	}
	for _, h := range active {
		fmt.Fprintf(&b, "run %s trigger=%s stage=%s started=%s\n",
			h.RunID, h.Trigger, h.Stage, h.StartedAt.Format(time.RFC3339))
	}
	if last := s.coord.LastRun(); last != nil {
		fmt.Fprintf(&b, "last completed: %s stage=%s", last.RunID, last.Stage)
	} else {
		b.WriteString("no completed runs yet")
	}
	return b.String()
}

func (s *Service) handleTokens() string {
	var input, output int64
	for _, c := range s.counters {
		in, out := c.TokensUsed()
		input += in
		output += out
	}
	return fmt.Sprintf("tokens this session: input=%d output=%d", input, output)
}

func (s *Service) reply(ctx context.Context, chatID int64, text string) {
	if err := s.messenger.Send(ctx, chatID, text); err != nil {
		slog.Warn("command surface: reply failed", slog.Int64("chat_id", chatID), slog.Any("error", err))
	}
}
