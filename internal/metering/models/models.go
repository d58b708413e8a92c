package models

import "time"

// PeriodType distinguishes the durable usage-record granularities.
type PeriodType string

const (
	PeriodHalfDay PeriodType = "halfday"
	PeriodMonthly PeriodType = "monthly"
)

// IsValid checks if the period type is a supported enum value.
func (p PeriodType) IsValid() bool {
	return p == PeriodHalfDay || p == PeriodMonthly
}

// UsageRecord is the durable system of record for request counts, unique on
// (TenantID, Period, PeriodKey). TotalCalls never decreases except through an
// explicit monthly reset.
type UsageRecord struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	Period     PeriodType `json:"period"`
	PeriodKey  string     `json:"period_key"`
	StartDate  time.Time  `json:"start_date"`
	EndDate    time.Time  `json:"end_date"`
	TotalCalls int64      `json:"total_calls"`
	SyncedAt   time.Time  `json:"synced_at"`
	SourceKeys []string   `json:"source_keys,omitempty"`
}

// SyncCursor tracks how far the reconciliation job has drained counters.
// It advances monotonically and only after a complete pass.
type SyncCursor struct {
	Key           string    `json:"key"`
	LastPeriodKey string    `json:"last_period_key"`
	LastPeriodEnd time.Time `json:"last_period_end"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HalfDayCursor is the singleton cursor key for half-day reconciliation.
const HalfDayCursor = "halfday-sync"

// UsageStats is the combined durable + in-flight view served to callers.
type UsageStats struct {
	TenantID string    `json:"tenant_id"`
	AsOf     time.Time `json:"as_of"`
	Today    int64     `json:"today"`
	Weekly   int64     `json:"weekly"`
	Monthly  int64     `json:"monthly"`
}

// SyncReport summarizes one reconciliation pass. Errors counts cells that
// failed; they never abort the pass.
type SyncReport struct {
	Processed int      `json:"processed"`
	Saved     int      `json:"saved"`
	Errors    int      `json:"errors"`
	Deleted   int      `json:"deleted"`
	Periods   []string `json:"periods,omitempty"`
}
