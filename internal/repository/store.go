// Package repository defines the storage contracts consumed by the usecase
// layer. Implementations live under internal/infra/adapter/persistence.
package repository

import (
	"context"
	"time"

	"marketpulse/internal/domain/entity"
)

// InsertResult reports the outcome of an Insert batch: how many rows were
// newly inserted and which were duplicates of an existing item (by url or by
// content_hash within the dedup window).
type InsertResult struct {
	Inserted   []entity.Item
	Duplicates []entity.Item // carries the *existing* row's id/fields for duplicates
}

// PurgeResult reports how many rows were removed by Purge.
type PurgeResult struct {
	ItemsDeleted       int64
	SentRecordsDeleted int64
}

// Store is the durable, keyed storage contract for Items, watermarks, and
// the sent-item cache. Mutating operations are serialized per instance;
// readers may proceed concurrently with a single active writer.
type Store interface {
	// Insert persists candidate items, applying url and content-hash dedup.
	// Duplicates return the existing row rather than erroring. dedupWindow
	// bounds how far back content-hash matching looks.
	Insert(ctx context.Context, items []entity.Item, dedupWindow time.Duration) (InsertResult, error)

	// QueryWindow returns items with published_at in [now-hours, now],
	// ordered by published_at descending with a stable tiebreak on id.
	QueryWindow(ctx context.Context, now time.Time, hours int) ([]entity.Item, error)

	// LatestTime returns the max published_at ever inserted for
	// (sourceName, kind), or nil if the source has no watermark yet.
	LatestTime(ctx context.Context, sourceName string, kind entity.SourceKind) (*time.Time, error)

	// MarkSent idempotently records that itemIDs were sent at `at`.
	MarkSent(ctx context.Context, itemIDs []string, at time.Time) error

	// SentSummary returns a compact digest (title + time) of sent records
	// not yet older than ttl, bounded to maxChars (oldest dropped first).
	SentSummary(ctx context.Context, now time.Time, ttl time.Duration, maxChars int) (string, error)

	// Purge removes items older than retentionDays (by ingested_at) that are
	// also outside activeWindowHours (by published_at), and sent records
	// older than sentCacheTTL.
	Purge(ctx context.Context, now time.Time, retentionDays int, activeWindowHours int, sentCacheTTL time.Duration) (PurgeResult, error)

	// Close releases the underlying connection.
	Close() error
}
