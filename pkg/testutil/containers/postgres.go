//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// schema is the subset of the platform schema these services touch.
const schema = `
CREATE TABLE IF NOT EXISTS plans (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	user_limit BIGINT NOT NULL DEFAULT -1,
	owner_limit BIGINT NOT NULL DEFAULT -1,
	storage_limit BIGINT NOT NULL DEFAULT -1,
	monthly_request_limit BIGINT NOT NULL DEFAULT -1
);

CREATE TABLE IF NOT EXISTS tenants (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	plan_id TEXT NOT NULL REFERENCES plans(id),
	limit_overrides JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS memberships (
	tenant_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	PRIMARY KEY (tenant_id, user_id)
);

CREATE TABLE IF NOT EXISTS stored_objects (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	size_bytes BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS tenant_usage_snapshots (
	tenant_id TEXT PRIMARY KEY,
	usage_count BIGINT NOT NULL,
	period_start TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS usage_records (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	period TEXT NOT NULL,
	period_key TEXT NOT NULL,
	start_date TIMESTAMPTZ NOT NULL,
	end_date TIMESTAMPTZ NOT NULL,
	total_calls BIGINT NOT NULL DEFAULT 0,
	synced_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	source_keys TEXT[],
	UNIQUE (tenant_id, period, period_key)
);

CREATE TABLE IF NOT EXISTS sync_cursors (
	key TEXT PRIMARY KEY,
	last_period_key TEXT NOT NULL,
	last_period_end TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// PostgresContainer wraps a testcontainers PostgreSQL instance with the
// schema applied.
type PostgresContainer struct {
	Container testcontainers.Container
	DB        *sql.DB
}

// NewPostgresContainer starts a PostgreSQL container and applies the schema.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("formgate_test"),
		tcpostgres.WithUsername("formgate"),
		tcpostgres.WithPassword("formgate"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("failed to open postgres: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("failed to ping postgres: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	if _, err := db.ExecContext(ctx, schema); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	return &PostgresContainer{Container: container, DB: db}
}

// TruncateTables empties the given tables between tests.
func (p *PostgresContainer) TruncateTables(ctx context.Context, tables ...string) error {
	for _, table := range tables {
		if _, err := p.DB.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}
	return nil
}
