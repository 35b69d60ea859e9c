// Package dbtest opens a migrated PostgreSQL pool for repository tests.
package dbtest

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clipgate/clipgate/internal/platform/db"
)

// DSNEnv names the variable holding the test database DSN.
const DSNEnv = "CLIPGATE_TEST_PG_DSN"

// Postgres returns a pool on the database named by CLIPGATE_TEST_PG_DSN and
// skips the test when it is unset. Tests share the database, so each one
// must use identifiers of its own.
func Postgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv(DSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", DSNEnv)
	}
	ctx := context.Background()
	pool, err := db.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := db.MigratePostgres(ctx, pool); err != nil {
		t.Fatalf("migrate postgres: %v", err)
	}
	return pool
}
