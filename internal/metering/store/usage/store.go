// Package usage persists the durable usage records and the sync cursor.
// Everything here is upsert-based so the sync job and the monthly reset
// sweep can be re-run or overlap safely.
package usage

import (
	"context"
	"time"

	"formgate/internal/metering/models"
)

// Store is the durable system of record for usage data.
type Store interface {
	// GetRecord returns the record for (tenantID, period, periodKey), or nil
	// if none exists.
	GetRecord(ctx context.Context, tenantID string, period models.PeriodType, periodKey string) (*models.UsageRecord, error)

	// UpsertRecord writes the record, replacing TotalCalls for the unique
	// (TenantID, Period, PeriodKey) cell.
	UpsertRecord(ctx context.Context, rec models.UsageRecord) error

	// AddDelta adds delta to the cell's TotalCalls, creating the record with
	// TotalCalls=delta when absent. The monthly rollup is maintained through
	// this so re-synced half-days stay idempotent.
	AddDelta(ctx context.Context, tenantID string, period models.PeriodType, periodKey string, start, end time.Time, delta int64) error

	// SumRange sums TotalCalls for records of the given period type whose
	// StartDate falls in [from, to).
	SumRange(ctx context.Context, tenantID string, period models.PeriodType, from, to time.Time) (int64, error)

	// LatestRecordEnd returns the greatest EndDate among records of the
	// given period type, used as the sync fallback when no cursor exists.
	LatestRecordEnd(ctx context.Context, period models.PeriodType) (time.Time, bool, error)

	// GetCursor returns the named sync cursor, or nil if it was never saved.
	GetCursor(ctx context.Context, key string) (*models.SyncCursor, error)

	// SaveCursor upserts the cursor.
	SaveCursor(ctx context.Context, cur models.SyncCursor) error
}
