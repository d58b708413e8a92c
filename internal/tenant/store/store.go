// Package store persists tenants and their monthly usage snapshots.
// Aggregate count queries live here so the quota service's DB-fallback path
// has one place to ask "how many members / bytes does this tenant have".
package store

import (
	"context"
	"errors"

	"formgate/internal/tenant"
)

// ErrNotFound is returned when a tenant does not exist.
var ErrNotFound = errors.New("tenant not found")

// Store is the tenant persistence contract.
type Store interface {
	// Get retrieves a tenant with its plan populated.
	Get(ctx context.Context, tenantID string) (*tenant.Tenant, error)

	// ListIDs returns every known tenant ID. The sync job iterates these.
	ListIDs(ctx context.Context) ([]string, error)

	// CountUsers returns the tenant's current membership count.
	CountUsers(ctx context.Context, tenantID string) (int64, error)

	// StorageBytes returns the tenant's current stored byte total.
	StorageBytes(ctx context.Context, tenantID string) (int64, error)

	// SaveUsageSnapshot upserts the tenant's monthly usage snapshot.
	SaveUsageSnapshot(ctx context.Context, snap tenant.UsageSnapshot) error

	// UsageSnapshot returns the tenant's snapshot, or nil if none is stored.
	UsageSnapshot(ctx context.Context, tenantID string) (*tenant.UsageSnapshot, error)

	// ListUsageSnapshots returns every stored snapshot. The monthly reset
	// sweep scans these for stale periods.
	ListUsageSnapshots(ctx context.Context) ([]tenant.UsageSnapshot, error)
}
