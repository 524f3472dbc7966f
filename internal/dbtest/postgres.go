package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	_ "github.com/jackc/pgx/v5/stdlib" // Registers the "pgx" database/sql driver.
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresImage exposes the image to use for the Postgres container.
//
// See <https://hub.docker.com/_/postgres> for more images.
const PostgresImage = "docker.io/postgres:16-alpine"

// Default port of the Postgres server.
const postgresPort = nat.Port("5432/tcp")

// SetupPostgres spins up a Postgres container and returns a database handle
// connected to it through the pgx driver. The handle is closed during cleanup
// of t.
func SetupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	containerTest(t)
	ctx := context.Background()

	// Postgres restarts once after initialising its data directory, so the log line
	// appears twice before the server is ready.
	opts := containerOptions(t,
		testcontainers.WithExposedPorts(string(postgresPort)),
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "test",
		}),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
		WithWaitForExposedPort(),
	)
	container, err := testcontainers.Run(ctx, PostgresImage, opts...)
	if err != nil {
		t.Fatal("Failed to run postgres container:", err)
	}
	terminateOnCleanup(t, "postgres", container)

	endpoint, err := container.PortEndpoint(ctx, postgresPort, "")
	if err != nil {
		t.Fatal("Failed to get postgres endpoint:", err)
	}
	dsn := fmt.Sprintf("postgres://test:test@%s/test?sslmode=disable", endpoint)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatal("Failed to open postgres database:", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Error("Encountered an error during cleanup while closing the postgres database:", err)
		}
	})
	if err := retry(ctx, t, 5, 100*time.Millisecond, func() error {
		return db.PingContext(ctx)
	}); err != nil {
		t.Fatal("Failed to ping postgres:", err)
	}

	inspectOnFailure(t, container, "DSN = "+dsn)
	return db
}
