package models

import (
	"time"

	"formgate/internal/tenant"
)

// TenantLimits is the cached snapshot of a tenant's effective limits,
// resolved from its plan plus overrides. A value of tenant.Unlimited means
// the limit is not enforced.
type TenantLimits struct {
	TenantID            string    `json:"tenant_id"`
	UserLimit           int64     `json:"user_limit"`
	OwnerLimit          int64     `json:"owner_limit"`
	StorageLimit        int64     `json:"storage_limit"`
	MonthlyRequestLimit int64     `json:"monthly_request_limit"`
	ComputedAt          time.Time `json:"computed_at"`
}

// ExceededFlag marks a tenant as over its monthly request quota. It carries
// everything the request guard needs to build a rejection without touching
// the database.
type ExceededFlag struct {
	TenantID  string    `json:"tenant_id"`
	Exceeded  bool      `json:"exceeded"`
	Limit     int64     `json:"limit"`
	Usage     int64     `json:"usage"`
	PeriodKey string    `json:"period_key"`
	SetAt     time.Time `json:"set_at"`
}

// CheckResult is the outcome of a limit check. All checks fail open: an
// internal error yields Allowed=true.
type CheckResult struct {
	Allowed   bool  `json:"allowed"`
	Remaining int64 `json:"remaining"`
	Limit     int64 `json:"limit"`
	Unlimited bool  `json:"unlimited"`
}

// AllowAll is the fail-open result used when a dependency is unavailable.
func AllowAll() CheckResult {
	return CheckResult{Allowed: true, Remaining: -1, Limit: tenant.Unlimited, Unlimited: true}
}

// OverQuotaResponse is the structured over-limit payload returned to
// clients, bilingual per product requirements.
type OverQuotaResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	MessageFr string    `json:"message_fr"`
	Limit     int64     `json:"limit"`
	Usage     int64     `json:"usage"`
	PeriodKey string    `json:"period_key"`
	ResetAt   time.Time `json:"reset_at"`
}
