// Package tenant holds the customer-account entity consumed by the quota
// and metering services. Every durable usage and limit figure is scoped to
// one tenant.
package tenant

import "time"

// Unlimited is the sentinel meaning a limit is not enforced.
const Unlimited int64 = -1

// Limit names resolvable through Tenant.Limit.
const (
	LimitUsers           = "users"
	LimitOwners          = "owners"
	LimitStorage         = "storage"
	LimitMonthlyRequests = "monthlyRequests"
)

// Plan is a subscription plan with its per-tenant ceilings. A value of
// Unlimited (or anything negative) disables enforcement for that limit.
type Plan struct {
	Name                string `json:"name"`
	UserLimit           int64  `json:"user_limit"`
	OwnerLimit          int64  `json:"owner_limit"`
	StorageLimit        int64  `json:"storage_limit"`
	MonthlyRequestLimit int64  `json:"monthly_request_limit"`
}

// Tenant is an isolated customer account with a populated plan and optional
// per-tenant overrides that take precedence over plan values.
type Tenant struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Plan      Plan             `json:"plan"`
	Overrides map[string]int64 `json:"overrides,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Limit resolves a named limit: override first, then the plan. Unknown names
// resolve to Unlimited so new limit classes default to non-enforcement.
func (t *Tenant) Limit(name string) int64 {
	if v, ok := t.Overrides[name]; ok {
		return v
	}
	switch name {
	case LimitUsers:
		return t.Plan.UserLimit
	case LimitOwners:
		return t.Plan.OwnerLimit
	case LimitStorage:
		return t.Plan.StorageLimit
	case LimitMonthlyRequests:
		return t.Plan.MonthlyRequestLimit
	}
	return Unlimited
}

// UsageSnapshot is the persisted monthly request usage for a tenant, written
// by the quota refresh and zeroed by the monthly reset sweep.
type UsageSnapshot struct {
	TenantID    string    `json:"tenant_id"`
	Usage       int64     `json:"usage"`
	PeriodStart time.Time `json:"period_start"`
	UpdatedAt   time.Time `json:"updated_at"`
}
