package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"formgate/internal/tenant"
)

// PostgresStore persists tenants in PostgreSQL. This store is pure I/O;
// limit resolution and quota policy belong in the services.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed tenant store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, tenantID string) (*tenant.Tenant, error) {
	query := `
		SELECT t.id, t.name, t.created_at, t.limit_overrides,
		       p.name, p.user_limit, p.owner_limit, p.storage_limit, p.monthly_request_limit
		FROM tenants t
		JOIN plans p ON p.id = t.plan_id
		WHERE t.id = $1
	`
	var (
		out       tenant.Tenant
		overrides []byte
	)
	err := s.db.QueryRowContext(ctx, query, tenantID).Scan(
		&out.ID,
		&out.Name,
		&out.CreatedAt,
		&overrides,
		&out.Plan.Name,
		&out.Plan.UserLimit,
		&out.Plan.OwnerLimit,
		&out.Plan.StorageLimit,
		&out.Plan.MonthlyRequestLimit,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &out.Overrides); err != nil {
			return nil, fmt.Errorf("decode limit overrides: %w", err)
		}
	}
	return &out, nil
}

func (s *PostgresStore) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM tenants ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list tenant ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tenant id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) CountUsers(ctx context.Context, tenantID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memberships WHERE tenant_id = $1`, tenantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) StorageBytes(ctx context.Context, tenantID string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(size_bytes), 0) FROM stored_objects WHERE tenant_id = $1`, tenantID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sum storage bytes: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) SaveUsageSnapshot(ctx context.Context, snap tenant.UsageSnapshot) error {
	query := `
		INSERT INTO tenant_usage_snapshots (tenant_id, usage_count, period_start, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (tenant_id) DO UPDATE SET
			usage_count = EXCLUDED.usage_count,
			period_start = EXCLUDED.period_start,
			updated_at = NOW()
	`
	if _, err := s.db.ExecContext(ctx, query, snap.TenantID, snap.Usage, snap.PeriodStart); err != nil {
		return fmt.Errorf("save usage snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) UsageSnapshot(ctx context.Context, tenantID string) (*tenant.UsageSnapshot, error) {
	query := `
		SELECT tenant_id, usage_count, period_start, updated_at
		FROM tenant_usage_snapshots
		WHERE tenant_id = $1
	`
	var snap tenant.UsageSnapshot
	err := s.db.QueryRowContext(ctx, query, tenantID).Scan(
		&snap.TenantID, &snap.Usage, &snap.PeriodStart, &snap.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get usage snapshot: %w", err)
	}
	return &snap, nil
}

func (s *PostgresStore) ListUsageSnapshots(ctx context.Context) ([]tenant.UsageSnapshot, error) {
	query := `
		SELECT tenant_id, usage_count, period_start, updated_at
		FROM tenant_usage_snapshots
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list usage snapshots: %w", err)
	}
	defer rows.Close()

	var out []tenant.UsageSnapshot
	for rows.Next() {
		var snap tenant.UsageSnapshot
		if err := rows.Scan(&snap.TenantID, &snap.Usage, &snap.PeriodStart, &snap.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan usage snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
