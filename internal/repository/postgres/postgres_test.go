package postgres

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sakif/notebook-server/internal/repository"
	"github.com/sakif/notebook-server/internal/repository/repotest"
)

// startPostgres runs one container for the whole test and returns its DSN.
// Tests are skipped when no container runtime is reachable.
func startPostgres(t *testing.T) string {
	t.Helper()

	if testing.Short() || os.Getenv("SKIP_INTEGRATION") == "true" {
		t.Skip("skipping PostgreSQL integration tests")
	}
	// Checks the docker host before Run, which panics without one.
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("notebooks_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Skipf("skipping: could not start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}
	return dsn
}

func TestRepository(t *testing.T) {
	dsn := startPostgres(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	repotest.Run(t, repotest.Suite{
		New: func(t *testing.T) repository.NotebookRepository {
			ctx := context.Background()
			s, err := New(ctx, Config{DSN: dsn, MigrateOnStart: true}, logger)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			// Subtests share the database; start each from an empty table.
			if _, err := s.pool.Exec(ctx, "TRUNCATE notebooks"); err != nil {
				t.Fatalf("truncating: %v", err)
			}
			return s
		},
		KeepsCreatedAt: true,
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	dsn := startPostgres(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	s, err := New(ctx, Config{DSN: dsn, MigrateOnStart: true}, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer s.Close()

	if err := s.migrate(ctx); err != nil {
		t.Fatalf("second migrate() error = %v", err)
	}

	var n int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatalf("counting migrations: %v", err)
	}
	if n != 1 {
		t.Errorf("schema_migrations rows = %d, want 1", n)
	}
}

func TestNewRejectsBadDSN(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := New(ctx, Config{DSN: "::not a dsn::"}, logger); err == nil {
		t.Fatal("expected an error for an unparsable DSN")
	}
}
