package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// setupTestDB connects to TEST_DATABASE_URL, applies the schema and truncates
// the tables. Tests are skipped when the variable is unset.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := New(ctx, Config{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)

	require.NoError(t, db.Ping(ctx))

	schema, err := os.ReadFile(filepath.Join("..", "..", "migrations", "001_asin_availability.sql"))
	require.NoError(t, err)

	_, err = db.pool.Exec(ctx, string(schema))
	require.NoError(t, err)

	_, err = db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS products (
			asin TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	require.NoError(t, err)

	_, err = db.pool.Exec(ctx, `TRUNCATE asin_availability, availability_runs, outbox_event, products`)
	require.NoError(t, err)

	t.Cleanup(db.Close)
	return db
}
