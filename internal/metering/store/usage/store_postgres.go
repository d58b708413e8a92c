package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"formgate/internal/metering/models"
)

// PostgresStore persists usage records and sync cursors in PostgreSQL.
// All writes are upserts keyed on (tenant_id, period, period_key) so
// overlapping sync passes stay safe.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed usage store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetRecord(ctx context.Context, tenantID string, period models.PeriodType, periodKey string) (*models.UsageRecord, error) {
	query := `
		SELECT id, tenant_id, period, period_key, start_date, end_date, total_calls, synced_at, source_keys
		FROM usage_records
		WHERE tenant_id = $1 AND period = $2 AND period_key = $3
	`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, tenantID, string(period), periodKey))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get usage record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) UpsertRecord(ctx context.Context, rec models.UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	query := `
		INSERT INTO usage_records (id, tenant_id, period, period_key, start_date, end_date, total_calls, synced_at, source_keys)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, period, period_key) DO UPDATE SET
			total_calls = EXCLUDED.total_calls,
			synced_at = EXCLUDED.synced_at,
			source_keys = EXCLUDED.source_keys
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.TenantID,
		string(rec.Period),
		rec.PeriodKey,
		rec.StartDate,
		rec.EndDate,
		rec.TotalCalls,
		rec.SyncedAt,
		pq.Array(rec.SourceKeys),
	)
	if err != nil {
		return fmt.Errorf("upsert usage record: %w", err)
	}
	return nil
}

func (s *PostgresStore) AddDelta(ctx context.Context, tenantID string, period models.PeriodType, periodKey string, start, end time.Time, delta int64) error {
	query := `
		INSERT INTO usage_records (id, tenant_id, period, period_key, start_date, end_date, total_calls, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (tenant_id, period, period_key) DO UPDATE SET
			total_calls = usage_records.total_calls + EXCLUDED.total_calls,
			synced_at = NOW()
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.NewString(), tenantID, string(period), periodKey, start, end, delta)
	if err != nil {
		return fmt.Errorf("add usage delta: %w", err)
	}
	return nil
}

func (s *PostgresStore) SumRange(ctx context.Context, tenantID string, period models.PeriodType, from, to time.Time) (int64, error) {
	query := `
		SELECT COALESCE(SUM(total_calls), 0)
		FROM usage_records
		WHERE tenant_id = $1 AND period = $2 AND start_date >= $3 AND start_date < $4
	`
	var total int64
	err := s.db.QueryRowContext(ctx, query, tenantID, string(period), from, to).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum usage range: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) LatestRecordEnd(ctx context.Context, period models.PeriodType) (time.Time, bool, error) {
	query := `SELECT MAX(end_date) FROM usage_records WHERE period = $1`
	var latest sql.NullTime
	if err := s.db.QueryRowContext(ctx, query, string(period)).Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("latest record end: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return latest.Time, true, nil
}

func (s *PostgresStore) GetCursor(ctx context.Context, key string) (*models.SyncCursor, error) {
	query := `
		SELECT key, last_period_key, last_period_end, updated_at
		FROM sync_cursors
		WHERE key = $1
	`
	var cur models.SyncCursor
	err := s.db.QueryRowContext(ctx, query, key).Scan(
		&cur.Key, &cur.LastPeriodKey, &cur.LastPeriodEnd, &cur.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get sync cursor: %w", err)
	}
	return &cur, nil
}

func (s *PostgresStore) SaveCursor(ctx context.Context, cur models.SyncCursor) error {
	query := `
		INSERT INTO sync_cursors (key, last_period_key, last_period_end, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (key) DO UPDATE SET
			last_period_key = EXCLUDED.last_period_key,
			last_period_end = EXCLUDED.last_period_end,
			updated_at = NOW()
	`
	if _, err := s.db.ExecContext(ctx, query, cur.Key, cur.LastPeriodKey, cur.LastPeriodEnd); err != nil {
		return fmt.Errorf("save sync cursor: %w", err)
	}
	return nil
}

func scanRecord(row *sql.Row) (*models.UsageRecord, error) {
	var rec models.UsageRecord
	var sourceKeys pq.StringArray
	err := row.Scan(
		&rec.ID,
		&rec.TenantID,
		&rec.Period,
		&rec.PeriodKey,
		&rec.StartDate,
		&rec.EndDate,
		&rec.TotalCalls,
		&rec.SyncedAt,
		&sourceKeys,
	)
	if err != nil {
		return nil, err
	}
	rec.SourceKeys = sourceKeys
	return &rec, nil
}
