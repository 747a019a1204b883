package db

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
	_ "github.com/mattn/go-sqlite3"    // registers "sqlite3" driver
)

// Open opens a *sql.DB for the given backend and DSN/path, pings it, and
// applies MigrateUp before returning.
//
// For BackendPostgres, dsn is a standard postgres connection string. For
// BackendSQLite, dsn is a filesystem path (or ":memory:") passed straight to
// the sqlite3 driver.
func Open(backend Backend, dsn string) (*sql.DB, error) {
	var driver string
	switch backend {
	case BackendPostgres:
		driver = "pgx"
	case BackendSQLite:
		driver = "sqlite3"
	default:
		return nil, fmt.Errorf("db: unknown backend %q", backend)
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", backend, err)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("db: ping %s: %w", backend, err)
	}

	if backend == BackendSQLite {
		// the mattn/go-sqlite3 driver serializes writes per connection; a
		// single connection avoids "database is locked" errors under our
		// single-writer Store discipline.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := MigrateUp(sqlDB, backend); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return sqlDB, nil
}
