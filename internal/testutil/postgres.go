// Package testutil provides container-backed fixtures for integration tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	sqlstore "github.com/aloks98/restauth/store/sql"
)

// SetupPostgres starts a PostgreSQL container and returns a migrated store.
// The container is terminated when the test finishes. The test is skipped
// under -short or when no container runtime is reachable.
func SetupPostgres(t testing.TB) *sqlstore.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("restauth_test"),
		postgres.WithUsername("restauth"),
		postgres.WithPassword("restauth"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Skipf("PostgreSQL container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate PostgreSQL container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	s, err := sqlstore.New(&sqlstore.Config{
		Dialect:      sqlstore.PostgreSQL,
		DSN:          dsn,
		TablePrefix:  "test_",
		MaxOpenConns: 10,
	})
	if err != nil {
		t.Fatalf("failed to create SQL store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Logf("failed to close store: %v", err)
		}
	})

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return s
}
