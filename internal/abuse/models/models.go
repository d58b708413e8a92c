// Package models defines the submission abuse guard's domain types.
package models

import "time"

// Rejection reasons, one per gate. Reported in the verdict and on the
// rejection metric so abusive traffic patterns are visible per gate.
const (
	ReasonRateLimited = "rate_limited"
	ReasonDuplicate   = "duplicate"
	ReasonCooldown    = "cooldown"
	ReasonFingerprint = "fingerprint"
)

// Submission is everything the gates need about one inbound form post.
// The guard is a pure function of this struct plus time; it never touches
// the transport request directly.
type Submission struct {
	TenantID       string
	FormID         string
	IP             string
	UserAgent      string
	AcceptLanguage string
	Fields         map[string]any
	RawSize        int
}

// FormSettings carries the per-form knobs the guard honors.
type FormSettings struct {
	// CooldownSeconds overrides the default per-client cooldown after a
	// successful submission. Zero means use the configured default.
	CooldownSeconds int
}

// Verdict is the guard's decision for one submission.
type Verdict struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
}

// Allow is the verdict for a submission that passed every gate.
func Allow() Verdict {
	return Verdict{Allowed: true}
}

// Reject builds a rejection verdict with an optional retry hint.
func Reject(reason string, retryAfter time.Duration) Verdict {
	return Verdict{Reason: reason, RetryAfter: retryAfter}
}
