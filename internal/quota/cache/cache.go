// Package cache holds the bounded TTL/LRU caches backing request-time quota
// checks. Lookups are O(1) and never touch the database; misses fall through
// to the quota service's DB path.
package cache

import (
	"time"

	"github.com/ammario/tlru"

	"formgate/internal/quota/models"
)

// flagTTL approximates "no TTL" for exceeded flags: entries live until an
// explicit clear, a refresh, or LRU pressure evicts them.
const flagTTL = 365 * 24 * time.Hour

// Cache is the two-tier quota cache: limit snapshots (bounded, 24h TTL) and
// exceeded flags (bounded, explicit clear).
type Cache struct {
	limits    *tlru.Cache[string, models.TenantLimits]
	flags     *tlru.Cache[string, models.ExceededFlag]
	limitsTTL time.Duration
}

// New builds a Cache holding up to maxEntries per tier.
func New(maxEntries int, limitsTTL time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = 10_000
	}
	if limitsTTL <= 0 {
		limitsTTL = 24 * time.Hour
	}
	return &Cache{
		limits:    tlru.New[string](tlru.ConstantCost[models.TenantLimits], maxEntries),
		flags:     tlru.New[string](tlru.ConstantCost[models.ExceededFlag], maxEntries),
		limitsTTL: limitsTTL,
	}
}

// Limits returns the cached limit snapshot for a tenant.
func (c *Cache) Limits(tenantID string) (models.TenantLimits, bool) {
	v, _, ok := c.limits.Get(tenantID)
	return v, ok
}

// SetLimits stores a limit snapshot for the configured TTL.
func (c *Cache) SetLimits(l models.TenantLimits) {
	c.limits.Set(l.TenantID, l, c.limitsTTL)
}

// Flag returns the tenant's exceeded flag, if one is set.
func (c *Cache) Flag(tenantID string) (models.ExceededFlag, bool) {
	v, _, ok := c.flags.Get(tenantID)
	return v, ok
}

// SetFlag stores the exceeded flag until it is explicitly cleared.
func (c *Cache) SetFlag(f models.ExceededFlag) {
	c.flags.Set(f.TenantID, f, flagTTL)
}

// ClearFlag removes the tenant's exceeded flag.
func (c *Cache) ClearFlag(tenantID string) {
	c.flags.Delete(tenantID)
}

// Invalidate busts both tiers for a tenant, used when its plan changes.
func (c *Cache) Invalidate(tenantID string) {
	c.limits.Delete(tenantID)
	c.flags.Delete(tenantID)
}
