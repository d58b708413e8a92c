// Package audit emits security-relevant platform events (quota breaches,
// abuse rejections, resets) to the shared audit pipeline. Emission is
// fire-and-forget: losing an audit event must never fail the operation that
// produced it.
package audit

import (
	"context"
	"time"
)

// Actions emitted by the metering and abuse subsystems.
const (
	ActionQuotaExceeded    = "quota_exceeded"
	ActionQuotaReset       = "quota_reset"
	ActionSubmissionDenied = "submission_denied"
)

// Event captures one auditable action. Keep it transport-agnostic so sinks
// can fan out.
type Event struct {
	ID         string         `json:"id"`
	Action     string         `json:"action"`
	TenantID   string         `json:"tenant_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Details    map[string]any `json:"details,omitempty"`
}

// Publisher delivers audit events to the pipeline.
type Publisher interface {
	Emit(ctx context.Context, event Event) error
	Close()
}
