// Package fetcher implements the pluggable ingestion sources: RSS/Atom,
// an X/Twitter CLI wrapper, and generic REST endpoints.
package fetcher

import (
	"context"
	"fmt"
	"time"

	"marketpulse/internal/domain/entity"
)

// Hints carries per-source timing context a Fetcher may use to bound its
// crawl depth. Only the X fetcher uses it (adaptive page count and fetch
// deadline); the RSS and REST fetchers ignore it.
type Hints struct {
	LatestPublishedAt *time.Time
	Now               time.Time
}

// Fetcher is implemented by each source kind's adapter.
type Fetcher interface {
	Kind() entity.SourceKind
	Validate(params map[string]any) error
	Fetch(ctx context.Context, source entity.SourceDescriptor, windowHours int, hints Hints) ([]entity.Item, error)
}

// Registry dispatches to the Fetcher registered for a source's kind.
type Registry struct {
	fetchers map[entity.SourceKind]Fetcher
}

// NewRegistry builds a Registry from the given fetchers, keyed by their own
// Kind().
func NewRegistry(fetchers ...Fetcher) *Registry {
	r := &Registry{fetchers: make(map[entity.SourceKind]Fetcher, len(fetchers))}
	for _, f := range fetchers {
		r.fetchers[f.Kind()] = f
	}
	return r
}

// Lookup returns the Fetcher for a source's kind.
func (r *Registry) Lookup(kind entity.SourceKind) (Fetcher, error) {
	f, ok := r.fetchers[kind]
	if !ok {
		return nil, fmt.Errorf("fetcher: no fetcher registered for kind %q", kind)
	}
	return f, nil
}

// Fetch validates the source against its registered Fetcher and dispatches.
func (r *Registry) Fetch(ctx context.Context, source entity.SourceDescriptor, windowHours int, hints Hints) ([]entity.Item, error) {
	f, err := r.Lookup(source.Kind)
	if err != nil {
		return nil, err
	}
	if err := f.Validate(source.KindParams); err != nil {
		return nil, fmt.Errorf("fetcher: invalid source %q: %w", source.Name, err)
	}
	return f.Fetch(ctx, source, windowHours, hints)
}
