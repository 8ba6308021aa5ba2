package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/koopa0/ragcache/db"
)

// TestDBContainer wraps a PostgreSQL test container with a connection pool.
//
// Provides an isolated PostgreSQL instance with the pgvector extension and
// the schema applied via the embedded migrations.
type TestDBContainer struct {
	Container *postgres.PostgresContainer
	Pool      *pgxpool.Pool
	ConnStr   string
}

// SetupTestDB creates a PostgreSQL container for testing with the pgvector
// extension and runs the embedded migrations.
//
// Skips the test when RAGCACHE_SKIP_DOCKER_TESTS is set or Docker is not
// reachable via the default environment.
//
// Example:
//
//	db, cleanup := testutil.SetupTestDB(t)
//	defer cleanup()
//	// Use db.Pool for queries.
func SetupTestDB(t *testing.T) (*TestDBContainer, func()) {
	t.Helper()

	if os.Getenv("RAGCACHE_SKIP_DOCKER_TESTS") != "" {
		t.Skip("RAGCACHE_SKIP_DOCKER_TESTS set - skipping container test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("ragcache_test"),
		postgres.WithUsername("ragcache_test"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("could not start PostgreSQL container (docker unavailable?): %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("Failed to get connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("Failed to create connection pool: %v", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("Failed to ping database: %v", err)
	}

	if err := db.Migrate(connStr); err != nil {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	container := &TestDBContainer{
		Container: pgContainer,
		Pool:      pool,
		ConnStr:   connStr,
	}

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(context.Background())
	}

	return container, cleanup
}
