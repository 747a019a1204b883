package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"marketpulse/internal/domain/entity"
)

func newTestItem(url string, publishedAt time.Time) entity.Item {
	return entity.NewItem("Title", "body text", url, publishedAt, "feed-a", entity.SourceKindRSS)
}

func TestStore_Insert_NewItem(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(db)
	item := newTestItem("https://example.com/a", time.Now())

	noRows := sqlmock.NewRows([]string{"id", "title", "body", "url", "published_at", "source_name", "source_kind", "content_hash", "ingested_at"})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM items WHERE url = \$1`).
		WithArgs(item.URL).
		WillReturnRows(noRows)
	mock.ExpectQuery(`SELECT .* FROM items WHERE content_hash = \$1 AND ingested_at >= \$2`).
		WithArgs(item.ContentHash, sqlmock.AnyArg()).
		WillReturnRows(noRows)
	mock.ExpectExec(`INSERT INTO items`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO watermarks`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := store.Insert(context.Background(), []entity.Item{item}, 7*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, result.Inserted, 1)
	require.Empty(t, result.Duplicates)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Insert_StampsIngestedAtAndClampsPublishedAt(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(db)
	futurePublished := time.Now().Add(2 * time.Hour) // beyond ClockSkew, must be clamped
	item := entity.NewItem("Title", "body text", "https://example.com/future", futurePublished, "feed-a", entity.SourceKindRSS)
	require.True(t, item.IngestedAt.IsZero(), "NewItem must leave IngestedAt zero")

	noRows := sqlmock.NewRows([]string{"id", "title", "body", "url", "published_at", "source_name", "source_kind", "content_hash", "ingested_at"})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM items WHERE url = \$1`).
		WithArgs(item.URL).
		WillReturnRows(noRows)
	mock.ExpectQuery(`SELECT .* FROM items WHERE content_hash = \$1 AND ingested_at >= \$2`).
		WithArgs(item.ContentHash, sqlmock.AnyArg()).
		WillReturnRows(noRows)
	mock.ExpectExec(`INSERT INTO items`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO watermarks`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	before := time.Now().UTC()
	result, err := store.Insert(context.Background(), []entity.Item{item}, 7*24*time.Hour)
	after := time.Now().UTC()
	require.NoError(t, err)
	require.Len(t, result.Inserted, 1)

	got := result.Inserted[0]
	require.False(t, got.IngestedAt.Before(before))
	require.False(t, got.IngestedAt.After(after))
	require.True(t, got.PublishedAt.Equal(got.IngestedAt), "published_at exceeding the clock-skew bound must be clamped to ingested_at")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Insert_DuplicateByURL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(db)
	item := newTestItem("https://example.com/a", time.Now())

	existingRows := sqlmock.NewRows([]string{"id", "title", "body", "url", "published_at", "source_name", "source_kind", "content_hash", "ingested_at"}).
		AddRow(item.ID, item.Title, item.Body, item.URL, item.PublishedAt, item.SourceName, string(item.SourceKind), item.ContentHash, item.IngestedAt)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .* FROM items WHERE url = \$1`).
		WithArgs(item.URL).
		WillReturnRows(existingRows)
	mock.ExpectCommit()

	result, err := store.Insert(context.Background(), []entity.Item{item}, 7*24*time.Hour)
	require.NoError(t, err)
	require.Empty(t, result.Inserted)
	require.Len(t, result.Duplicates, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LatestTime_NoWatermark(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(db)

	mock.ExpectQuery(`SELECT latest_published_at FROM watermarks WHERE source_name = \$1 AND source_kind = \$2`).
		WithArgs("feed-a", "rss").
		WillReturnRows(sqlmock.NewRows([]string{"latest_published_at"}))

	got, err := store.LatestTime(context.Background(), "feed-a", entity.SourceKindRSS)
	require.NoError(t, err)
	require.Nil(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_LatestTime_Found(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(db)
	want := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT latest_published_at FROM watermarks WHERE source_name = \$1 AND source_kind = \$2`).
		WithArgs("feed-a", "rss").
		WillReturnRows(sqlmock.NewRows([]string{"latest_published_at"}).AddRow(want))

	got, err := store.LatestTime(context.Background(), "feed-a", entity.SourceKindRSS)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.True(t, want.Equal(*got))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_QueryWindow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(db)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "title", "body", "url", "published_at", "source_name", "source_kind", "content_hash", "ingested_at"}).
		AddRow("id1", "T1", "B1", "https://example.com/1", now.Add(-time.Hour), "feed-a", "rss", "hash1", now).
		AddRow("id2", "T2", "B2", "https://example.com/2", now.Add(-2*time.Hour), "feed-a", "rss", "hash2", now)

	mock.ExpectQuery(`SELECT .* FROM items WHERE published_at >= \$1 AND published_at <= \$2`).
		WithArgs(now.Add(-6*time.Hour), now).
		WillReturnRows(rows)

	items, err := store.QueryWindow(context.Background(), now, 6)
	require.NoError(t, err)

	want := []entity.Item{
		{ID: "id1", Title: "T1", Body: "B1", URL: "https://example.com/1", PublishedAt: now.Add(-time.Hour), SourceName: "feed-a", SourceKind: entity.SourceKindRSS, ContentHash: "hash1", IngestedAt: now},
		{ID: "id2", Title: "T2", Body: "B2", URL: "https://example.com/2", PublishedAt: now.Add(-2 * time.Hour), SourceName: "feed-a", SourceKind: entity.SourceKindRSS, ContentHash: "hash2", IngestedAt: now},
	}
	if diff := cmp.Diff(want, items); diff != "" {
		t.Fatalf("QueryWindow mismatch (-want +got):\n%s", diff)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_MarkSent_Empty(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(db)
	require.NoError(t, store.MarkSent(context.Background(), nil, time.Now()))
}

func TestStore_Purge(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := New(db)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`DELETE FROM items WHERE ingested_at < \$1 AND published_at < \$2`).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM sent_records WHERE sent_at < \$1`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	result, err := store.Purge(context.Background(), now, 30, 168, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(3), result.ItemsDeleted)
	require.Equal(t, int64(2), result.SentRecordsDeleted)
	require.NoError(t, mock.ExpectationsWereMet())
}
