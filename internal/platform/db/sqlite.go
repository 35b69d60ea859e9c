package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// OpenSQLite opens a SQLite database file and applies the schema. Every
// transaction starts with BEGIN IMMEDIATE so concurrent writers serialise on
// the database write lock, and WAL keeps readers unblocked.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	params := url.Values{}
	params.Set("_busy_timeout", "10000")
	params.Set("_journal_mode", "WAL")
	params.Set("_txlock", "immediate")
	params.Set("_foreign_keys", "on")
	dsn := fmt.Sprintf("file:%s?%s", path, params.Encode())

	handle, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("platform/db: open sqlite: %w", err)
	}
	if err := handle.PingContext(ctx); err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("platform/db: ping sqlite: %w", err)
	}
	if _, err := handle.ExecContext(ctx, sqliteSchema); err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("platform/db: migrate sqlite: %w", err)
	}
	return handle, nil
}
