package infra

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ApplicationName tags every pooled connection so chaos only targets test
// backends.
const ApplicationName = "escrowflow-test"

// Harness owns the lifecycle of the Postgres database and pgx pool used by
// integration and stress tests.
type Harness struct {
	container *PGContainer
	pool      *pgxpool.Pool
	dsn       string
	teardown  func(context.Context) error
}

// NewHarness resolves a database in this order: overrideDSN,
// ESCROWFLOW_TEST_PG_DSN, a Docker container, a local PostgreSQL. Shared
// databases get an isolated schema.
func NewHarness(ctx context.Context, overrideDSN string) (*Harness, error) {
	var (
		container *PGContainer
		dsn       string
		err       error
		shared    bool
	)
	switch {
	case overrideDSN != "" || os.Getenv(DSNEnv) != "":
		container, dsn, err = StartPostgres16(ctx, overrideDSN)
		shared = true
	case DockerAvailable(ctx):
		container, dsn, err = StartPostgres16(ctx, "")
	default:
		container = &PGContainer{}
		dsn, err = InitLocalDatabase(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve database: %w", err)
	}

	pool, teardown, err := ApplyMigrations(ctx, dsn, shared)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	return &Harness{container: container, pool: pool, dsn: dsn, teardown: teardown}, nil
}

// Open builds a harness for t, skipping the test when no database can be
// reached. The harness is closed with the test.
func Open(t testing.TB) *Harness {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in -short mode")
	}
	ctx := context.Background()
	h, err := NewHarness(ctx, "")
	if err != nil {
		t.Skipf("no PostgreSQL available: %v", err)
	}
	t.Cleanup(func() { h.Close(context.Background()) })
	return h
}

// Pool exposes the configured pgx pool.
func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

// DSN returns the connection string for direct connections.
func (h *Harness) DSN() string {
	return h.dsn
}

// Close tears down resources.
func (h *Harness) Close(ctx context.Context) {
	if h.pool != nil {
		h.pool.Close()
	}
	if h.teardown != nil {
		_ = h.teardown(ctx)
	}
	_ = h.container.Terminate(ctx)
}

// Reset truncates mutable tables to provide a clean slate between runs.
func (h *Harness) Reset(ctx context.Context) error {
	const truncate = `TRUNCATE TABLE time_sessions, timeline_events, outbox, disputes,
		escrow_movements, escrow_accounts, contracts, credentials, users CASCADE`
	if _, err := h.pool.Exec(ctx, truncate); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}
