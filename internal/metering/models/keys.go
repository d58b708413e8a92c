package models

import (
	"fmt"
	"strings"
)

// SystemTenant is the synthetic tenant that accumulates platform-wide
// request counts alongside real tenants.
const SystemTenant = "system"

// Counter key namespaces. Every ephemeral key in the counter store starts
// with one of these so unrelated subsystems can never collide.
const (
	NamespaceUsage       = "usage"
	NamespaceRate        = "rate"
	NamespaceDuplicate   = "dup"
	NamespaceCooldown    = "cooldown"
	NamespaceFingerprint = "fp"
)

// SanitizeKeySegment escapes the delimiter in user-controlled key segments
// so an identifier containing ':' cannot address an adjacent bucket.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// UsageCounterKey is the ephemeral per-tenant per-half-day request counter.
func UsageCounterKey(tenantID, periodKey string) string {
	if tenantID == "" {
		tenantID = SystemTenant
	}
	return fmt.Sprintf("%s:%s:%s", NamespaceUsage, SanitizeKeySegment(tenantID), periodKey)
}

// RateKey buckets submissions per tenant+IP within a window slot.
func RateKey(tenantID, ip string, windowSlot int64) string {
	return fmt.Sprintf("%s:%s:%s:%d", NamespaceRate, SanitizeKeySegment(tenantID), SanitizeKeySegment(ip), windowSlot)
}

// DuplicateKey marks an exact submission payload for the dedup window.
func DuplicateKey(hash string) string {
	return NamespaceDuplicate + ":" + hash
}

// CooldownKey marks a client's successful submission to a form.
func CooldownKey(formID, clientID string) string {
	return fmt.Sprintf("%s:%s:%s", NamespaceCooldown, SanitizeKeySegment(formID), clientID)
}

// FingerprintKey buckets structurally identical submissions.
func FingerprintKey(hash string) string {
	return NamespaceFingerprint + ":" + hash
}
