package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"token-wallet-monitor/internal/storage/migrations"
	pgstore "token-wallet-monitor/internal/storage/postgres"
)

// setupTestDB starts PostgreSQL, applies the embedded migrations and
// returns the pool with its cleanup.
func setupTestDB(t *testing.T) (*pgstore.Pool, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("wallets"),
		tcpostgres.WithUsername("monitor"),
		tcpostgres.WithPassword("monitor"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgstore.NewPool(ctx, dsn)
	require.NoError(t, err)

	applied, err := migrations.RunPostgresMigrations(ctx, pool)
	require.NoError(t, err)
	require.Positive(t, applied)

	// A second run finds every version recorded.
	again, err := migrations.RunPostgresMigrations(ctx, pool)
	require.NoError(t, err)
	require.Zero(t, again)

	return pool, func() {
		pool.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
}

func ptr[T any](v T) *T {
	return &v
}
