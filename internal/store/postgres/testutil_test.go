package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB starts a PostgreSQL container, applies the embedded migrations
// and returns a Store over it. The returned cleanup func terminates the
// container.
func setupTestDB(t *testing.T) (*Store, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("hedgebot"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	client, err := New(ctx, ClientConfig{DSN: dsn})
	require.NoError(t, err, "failed to connect")
	require.NoError(t, client.RunMigrations(ctx), "failed to migrate")

	cleanup := func() {
		client.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
	return NewStore(client.Pool()), cleanup
}

func ptr[T any](v T) *T {
	return &v
}
