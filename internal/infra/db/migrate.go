// Package db owns connection setup and schema migration for both the
// Postgres and sqlite backends.
package db

import (
	"database/sql"
	"fmt"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS items (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	body         TEXT NOT NULL,
	url          TEXT NOT NULL,
	published_at TIMESTAMPTZ NOT NULL,
	source_name  TEXT NOT NULL,
	source_kind  TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	ingested_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_items_published_at ON items (published_at DESC);
CREATE INDEX IF NOT EXISTS idx_items_content_hash ON items (content_hash);
CREATE INDEX IF NOT EXISTS idx_items_source ON items (source_name, source_kind);
CREATE UNIQUE INDEX IF NOT EXISTS idx_items_url ON items (url);

CREATE TABLE IF NOT EXISTS watermarks (
	source_name         TEXT NOT NULL,
	source_kind         TEXT NOT NULL,
	latest_published_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (source_name, source_kind)
);

CREATE TABLE IF NOT EXISTS sent_records (
	item_id TEXT PRIMARY KEY,
	sent_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sent_records_sent_at ON sent_records (sent_at);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS items (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL,
	body         TEXT NOT NULL,
	url          TEXT NOT NULL UNIQUE,
	published_at TIMESTAMP NOT NULL,
	source_name  TEXT NOT NULL,
	source_kind  TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	ingested_at  TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_items_published_at ON items (published_at);
CREATE INDEX IF NOT EXISTS idx_items_content_hash ON items (content_hash);
CREATE INDEX IF NOT EXISTS idx_items_source ON items (source_name, source_kind);

CREATE TABLE IF NOT EXISTS watermarks (
	source_name         TEXT NOT NULL,
	source_kind         TEXT NOT NULL,
	latest_published_at TIMESTAMP NOT NULL,
	PRIMARY KEY (source_name, source_kind)
);

CREATE TABLE IF NOT EXISTS sent_records (
	item_id TEXT PRIMARY KEY,
	sent_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sent_records_sent_at ON sent_records (sent_at);
`

// Backend selects which schema dialect MigrateUp applies.
type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendSQLite   Backend = "sqlite"
)

// MigrateUp creates the items/watermarks/sent_records tables and their
// indexes if they do not already exist. It is safe to call on every startup.
func MigrateUp(sqlDB *sql.DB, backend Backend) error {
	var schema string
	switch backend {
	case BackendPostgres:
		schema = postgresSchema
	case BackendSQLite:
		schema = sqliteSchema
	default:
		return fmt.Errorf("db: unknown backend %q", backend)
	}

	if _, err := sqlDB.Exec(schema); err != nil {
		return fmt.Errorf("db: migrate up (%s): %w", backend, err)
	}
	return nil
}
