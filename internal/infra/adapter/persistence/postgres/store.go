// Package postgres implements repository.Store against a Postgres database
// via database/sql and the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"marketpulse/internal/domain/entity"
	"marketpulse/internal/observability/metrics"
	"marketpulse/internal/repository"
	"marketpulse/internal/resilience/circuitbreaker"
	"marketpulse/internal/resilience/retry"
)

const (
	selectByURLQuery = `SELECT id, title, body, url, published_at, source_name, source_kind, content_hash, ingested_at
		FROM items WHERE url = $1`

	selectByContentHashQuery = `SELECT id, title, body, url, published_at, source_name, source_kind, content_hash, ingested_at
		FROM items WHERE content_hash = $1 AND ingested_at >= $2 LIMIT 1`

	insertItemQuery = `INSERT INTO items (id, title, body, url, published_at, source_name, source_kind, content_hash, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (url) DO NOTHING`

	selectWindowQuery = `SELECT id, title, body, url, published_at, source_name, source_kind, content_hash, ingested_at
		FROM items WHERE published_at >= $1 AND published_at <= $2
		ORDER BY published_at DESC, id ASC`

	selectLatestWatermarkQuery = `SELECT latest_published_at FROM watermarks WHERE source_name = $1 AND source_kind = $2`

	upsertWatermarkQuery = `INSERT INTO watermarks (source_name, source_kind, latest_published_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (source_name, source_kind) DO UPDATE SET latest_published_at = excluded.latest_published_at
		WHERE excluded.latest_published_at > watermarks.latest_published_at`

	markSentQuery = `INSERT INTO sent_records (item_id, sent_at) VALUES ($1, $2)
		ON CONFLICT (item_id) DO NOTHING`

	selectSentSummaryQuery = `SELECT i.title, s.sent_at FROM sent_records s
		JOIN items i ON i.id = s.item_id
		WHERE s.sent_at >= $1
		ORDER BY s.sent_at DESC`

	deleteOldItemsQuery = `DELETE FROM items WHERE ingested_at < $1 AND published_at < $2`

	deleteOldSentRecordsQuery = `DELETE FROM sent_records WHERE sent_at < $1`
)

// Store implements repository.Store backed by Postgres. Read paths and the
// purge sweep run behind a circuit breaker so a stalled connection pool
// fails fast instead of piling up blocked goroutines across a run's
// concurrent source fetches; writes that need a transaction go through db
// directly, since the breaker only wraps single-statement calls.
type Store struct {
	db      *sql.DB
	breaker *circuitbreaker.DBCircuitBreaker
}

// New wraps an already-open, already-migrated *sql.DB as a Store.
func New(sqlDB *sql.DB) *Store {
	return &Store{db: sqlDB, breaker: circuitbreaker.NewDBCircuitBreaker(sqlDB)}
}

var _ repository.Store = (*Store)(nil)

func scanItem(row interface{ Scan(dest ...any) error }) (entity.Item, error) {
	var it entity.Item
	var kind string
	if err := row.Scan(&it.ID, &it.Title, &it.Body, &it.URL, &it.PublishedAt, &it.SourceName, &kind, &it.ContentHash, &it.IngestedAt); err != nil {
		return entity.Item{}, err
	}
	it.SourceKind = entity.SourceKind(kind)
	return it, nil
}

// Insert persists candidate items, applying url and content-hash dedup.
func (s *Store) Insert(ctx context.Context, items []entity.Item, dedupWindow time.Duration) (repository.InsertResult, error) {
	defer func(start time.Time) { metrics.RecordDBQuery("postgres:insert", time.Since(start)) }(time.Now())

	var result repository.InsertResult
	if len(items) == 0 {
		return result, nil
	}

	var tx *sql.Tx
	err := retry.WithBackoff(ctx, retry.DBConfig(), func() error {
		var beginErr error
		tx, beginErr = s.db.BeginTx(ctx, nil)
		return beginErr
	})
	if err != nil {
		return result, fmt.Errorf("postgres: begin insert tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	for _, item := range items {
		existing, err := scanItem(tx.QueryRowContext(ctx, selectByURLQuery, item.URL))
		if err == nil {
			result.Duplicates = append(result.Duplicates, existing)
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return result, fmt.Errorf("postgres: lookup by url: %w", err)
		}

		item.IngestedAt = now
		if clamped, wasClamped := entity.ClampPublishedAt(item.PublishedAt, item.IngestedAt); wasClamped {
			slog.Warn("postgres: clamping published_at ahead of ingested_at",
				slog.String("item_id", item.ID), slog.Time("published_at", item.PublishedAt))
			item.PublishedAt = clamped
		}

		cutoff := item.IngestedAt.Add(-dedupWindow)
		existing, err = scanItem(tx.QueryRowContext(ctx, selectByContentHashQuery, item.ContentHash, cutoff))
		if err == nil {
			result.Duplicates = append(result.Duplicates, existing)
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return result, fmt.Errorf("postgres: lookup by content hash: %w", err)
		}

		if _, err := tx.ExecContext(ctx, insertItemQuery, item.ID, item.Title, item.Body, item.URL,
			item.PublishedAt, item.SourceName, string(item.SourceKind), item.ContentHash, item.IngestedAt); err != nil {
			return result, fmt.Errorf("postgres: insert item: %w", err)
		}

		if _, err := tx.ExecContext(ctx, upsertWatermarkQuery, item.SourceName, string(item.SourceKind), item.PublishedAt); err != nil {
			return result, fmt.Errorf("postgres: upsert watermark: %w", err)
		}

		result.Inserted = append(result.Inserted, item)
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("postgres: commit insert tx: %w", err)
	}
	return result, nil
}

// QueryWindow returns items published within [now-hours, now].
func (s *Store) QueryWindow(ctx context.Context, now time.Time, hours int) ([]entity.Item, error) {
	defer func(queryStart time.Time) { metrics.RecordDBQuery("postgres:query_window", time.Since(queryStart)) }(time.Now())

	start := now.Add(-time.Duration(hours) * time.Hour)
	rows, err := s.breaker.QueryContext(ctx, selectWindowQuery, start, now)
	if err != nil {
		return nil, fmt.Errorf("postgres: query window: %w", err)
	}
	defer rows.Close()

	items := make([]entity.Item, 0, 64)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan window row: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate window rows: %w", err)
	}
	return items, nil
}

// LatestTime returns the watermark for (sourceName, kind), or nil if unset.
func (s *Store) LatestTime(ctx context.Context, sourceName string, kind entity.SourceKind) (*time.Time, error) {
	var t time.Time
	err := s.breaker.QueryRowContext(ctx, selectLatestWatermarkQuery, sourceName, string(kind)).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: latest time: %w", err)
	}
	return &t, nil
}

// MarkSent idempotently records sent items.
func (s *Store) MarkSent(ctx context.Context, itemIDs []string, at time.Time) error {
	if len(itemIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin mark sent tx: %w", err)
	}
	defer tx.Rollback()

	for _, id := range itemIDs {
		if _, err := tx.ExecContext(ctx, markSentQuery, id, at); err != nil {
			return fmt.Errorf("postgres: mark sent %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit mark sent tx: %w", err)
	}
	return nil
}

// SentSummary returns a title+time digest of recent sends, bounded to maxChars.
func (s *Store) SentSummary(ctx context.Context, now time.Time, ttl time.Duration, maxChars int) (string, error) {
	cutoff := now.Add(-ttl)
	rows, err := s.breaker.QueryContext(ctx, selectSentSummaryQuery, cutoff)
	if err != nil {
		return "", fmt.Errorf("postgres: sent summary: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		var title string
		var sentAt time.Time
		if err := rows.Scan(&title, &sentAt); err != nil {
			return "", fmt.Errorf("postgres: scan sent summary row: %w", err)
		}
		line := fmt.Sprintf("- %s (%s)\n", title, sentAt.UTC().Format(time.RFC3339))
		if b.Len()+len(line) > maxChars {
			break
		}
		b.WriteString(line)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("postgres: iterate sent summary rows: %w", err)
	}
	return b.String(), nil
}

// Purge removes aged-out items and sent records.
func (s *Store) Purge(ctx context.Context, now time.Time, retentionDays int, activeWindowHours int, sentCacheTTL time.Duration) (repository.PurgeResult, error) {
	defer func(start time.Time) { metrics.RecordDBQuery("postgres:purge", time.Since(start)) }(time.Now())

	var result repository.PurgeResult

	ingestedCutoff := now.AddDate(0, 0, -retentionDays)
	publishedCutoff := now.Add(-time.Duration(activeWindowHours) * time.Hour)

	itemsRes, err := s.breaker.ExecContext(ctx, deleteOldItemsQuery, ingestedCutoff, publishedCutoff)
	if err != nil {
		return result, fmt.Errorf("postgres: purge items: %w", err)
	}
	if n, err := itemsRes.RowsAffected(); err == nil {
		result.ItemsDeleted = n
	}

	sentCutoff := now.Add(-sentCacheTTL)
	sentRes, err := s.breaker.ExecContext(ctx, deleteOldSentRecordsQuery, sentCutoff)
	if err != nil {
		return result, fmt.Errorf("postgres: purge sent records: %w", err)
	}
	if n, err := sentRes.RowsAffected(); err == nil {
		result.SentRecordsDeleted = n
	}

	return result, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
