// Package snapshot implements the MarketSnapshotProvider: a cached,
// LLM-backed short textual market-context string substituted into the
// Analyzer's prompt.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"marketpulse/internal/domain/entity"
	"marketpulse/internal/infra/llm"
)

const (
	// DefaultTTL bounds how long a live snapshot is reused before a refetch.
	DefaultTTL = 30 * time.Minute
	// DefaultTimeout bounds a single snapshot-fetch LLM call.
	DefaultTimeout = 60 * time.Second

	systemPrompt = "You are a crypto market analyst. Respond with a concise," +
		" factual snapshot of current market conditions in two or three" +
		" sentences. No speculation, no investment advice."
	userPrompt = "Summarize current crypto market conditions: overall trend," +
		" BTC/ETH price action, and any notable macro catalyst."
)

// Provider implements the three-step get(ctx) algorithm: return a cached
// live snapshot if still within TTL, otherwise call the LLM; on failure,
// fall back to the last-known snapshot marked stale.
type Provider struct {
	client  llm.Client
	model   string
	ttl     time.Duration
	timeout time.Duration

	mu   sync.Mutex
	last entity.MarketSnapshot
}

// NewProvider builds a Provider. ttl/timeout of zero use the package
// defaults.
func NewProvider(client llm.Client, model string, ttl, timeout time.Duration) *Provider {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Provider{client: client, model: model, ttl: ttl, timeout: timeout}
}

// Get returns the current market snapshot, refreshing it from the LLM if
// the cached one has aged past ttl.
func (p *Provider) Get(ctx context.Context, now time.Time) entity.MarketSnapshot {
	p.mu.Lock()
	cached := p.last
	p.mu.Unlock()

	if cached.Valid && cached.Origin == entity.SnapshotOriginLive && now.Sub(cached.FetchedAt) < p.ttl {
		return cached
	}

	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	text, err := p.client.Complete(fetchCtx, p.model, systemPrompt, userPrompt, nil)
	if err != nil {
		slog.WarnContext(ctx, "market snapshot fetch failed, falling back to cache", slog.Any("error", err))
		return p.fallback(now, cached)
	}
	if text == "" {
		slog.WarnContext(ctx, "market snapshot fetch returned empty text, falling back to cache")
		return p.fallback(now, cached)
	}

	fresh := entity.MarketSnapshot{Text: text, FetchedAt: now, Origin: entity.SnapshotOriginLive, Valid: true}
	p.mu.Lock()
	p.last = fresh
	p.mu.Unlock()
	return fresh
}

func (p *Provider) fallback(now time.Time, cached entity.MarketSnapshot) entity.MarketSnapshot {
	if !cached.Valid {
		return entity.MarketSnapshot{Text: "", FetchedAt: now, Origin: entity.SnapshotOriginFallback, Valid: false}
	}
	stale := cached
	stale.Origin = entity.SnapshotOriginCached
	return stale
}

// Describe renders a short provenance line for the /market command surface.
func Describe(s entity.MarketSnapshot) string {
	if !s.Valid {
		return "market snapshot unavailable"
	}
	return fmt.Sprintf("%s (as of %s, %s)", s.Text, s.FetchedAt.UTC().Format(time.RFC3339), s.Origin)
}
