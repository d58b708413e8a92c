// Package guard protects the anonymous public submission endpoint. Four
// gates run in fixed order and the first rejection short-circuits the rest:
// rate limiter, duplicate detector, per-client cooldown, fingerprint
// pattern limiter. Abuse prevention is security-relevant, so when the
// shared counter backend is unavailable the gates degrade to a
// process-local approximation instead of failing open.
package guard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mssola/useragent"

	"formgate/internal/abuse/clientid"
	"formgate/internal/abuse/models"
	"formgate/internal/metering/counter"
	"formgate/internal/metering/metrics"
	meteringmodels "formgate/internal/metering/models"
	"formgate/internal/platform/config"
	"formgate/pkg/platform/audit"
)

// fingerprintSizeBucket rounds payload sizes so near-identical scripted
// submissions with padded fields still collide.
const fingerprintSizeBucket = 100

// AuditPublisher emits audit events for gate rejections.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Guard struct {
	shared   counter.Store
	local    *counter.Local
	ids      *clientid.Deriver
	cfg      config.AbuseConfig
	auditPub AuditPublisher
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

type Option func(*Guard)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) {
		g.metrics = m
	}
}

func WithAuditPublisher(pub AuditPublisher) Option {
	return func(g *Guard) {
		g.auditPub = pub
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		g.now = now
		g.local = counter.NewLocal(counter.WithClock(now))
	}
}

// New builds the guard. The store is the shared counter backend, typically
// breaker-wrapped; the fingerprint gate never uses it and stays
// process-local regardless.
func New(store counter.Store, cfg config.AbuseConfig, opts ...Option) (*Guard, error) {
	if store == nil {
		return nil, fmt.Errorf("counter store is required")
	}
	g := &Guard{
		shared: store,
		local:  counter.NewLocal(),
		ids:    clientid.New(cfg.ClientIDSalt),
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Evaluate runs the gates against one submission. A rejection names the
// gate that fired and, for time-bounded gates, how long to wait.
func (g *Guard) Evaluate(ctx context.Context, sub models.Submission, settings models.FormSettings) (models.Verdict, error) {
	clientID, err := g.ids.Derive(sub.IP, sub.UserAgent, sub.AcceptLanguage)
	if err != nil {
		return models.Verdict{}, fmt.Errorf("derive client id: %w", err)
	}

	if v := g.checkRate(ctx, sub); !v.Allowed {
		return g.reject(ctx, sub, v), nil
	}
	if v := g.checkDuplicate(ctx, sub, clientID); !v.Allowed {
		return g.reject(ctx, sub, v), nil
	}
	if v := g.checkCooldown(ctx, sub, clientID); !v.Allowed {
		return g.reject(ctx, sub, v), nil
	}
	if v := g.checkFingerprint(ctx, sub, clientID); !v.Allowed {
		return g.reject(ctx, sub, v), nil
	}
	return models.Allow(), nil
}

// RecordSuccess arms the cooldown after a submission was accepted and
// stored. The marker value is the cooldown expiry so later rejections can
// report an exact Retry-After.
func (g *Guard) RecordSuccess(ctx context.Context, sub models.Submission, settings models.FormSettings) {
	clientID, err := g.ids.Derive(sub.IP, sub.UserAgent, sub.AcceptLanguage)
	if err != nil {
		g.logger.Warn("cooldown skipped", "form_id", sub.FormID, "error", err)
		return
	}

	d := g.cooldown(settings)
	key := meteringmodels.CooldownKey(sub.FormID, clientID)
	expiry := g.now().Add(d).Unix()
	if _, err := g.store().SetNX(ctx, key, expiry, d); err != nil {
		g.logger.Warn("cooldown marker write failed", "form_id", sub.FormID, "error", err)
	}
}

// checkRate enforces the fixed-window per-tenant-per-IP submission cap.
// Window-aligned slot keys make the TTL and the Retry-After hint line up
// with the window boundary.
func (g *Guard) checkRate(ctx context.Context, sub models.Submission) models.Verdict {
	windowSecs := int64(g.cfg.RateWindow / time.Second)
	if windowSecs <= 0 {
		windowSecs = 1
	}
	now := g.now().Unix()
	slot := now / windowSecs
	remaining := time.Duration((slot+1)*windowSecs-now) * time.Second

	key := meteringmodels.RateKey(sub.TenantID, sub.IP, slot)
	n, err := g.store().Incr(ctx, key, remaining)
	if err != nil {
		// Shared backend failed mid-call; count in the degraded bucket
		// rather than allowing a burst through unmetered.
		n, err = g.local.Incr(ctx, key, remaining)
		if err != nil {
			return models.Allow()
		}
	}
	if n > int64(g.cfg.RateMax) {
		return models.Reject(models.ReasonRateLimited, remaining)
	}
	return models.Allow()
}

// checkDuplicate rejects an exact resubmission of the same payload by the
// same client inside the dedup window. SetNX is the atomicity point: of
// two racing identical submissions exactly one wins.
func (g *Guard) checkDuplicate(ctx context.Context, sub models.Submission, clientID string) models.Verdict {
	key := meteringmodels.DuplicateKey(hashSubmission(sub, clientID))
	ok, err := g.store().SetNX(ctx, key, 1, g.cfg.DuplicateWindow)
	if err != nil {
		ok, err = g.local.SetNX(ctx, key, 1, g.cfg.DuplicateWindow)
		if err != nil {
			return models.Allow()
		}
	}
	if !ok {
		return models.Reject(models.ReasonDuplicate, 0)
	}
	return models.Allow()
}

// checkCooldown rejects while the client's post-success cooldown marker is
// live. The marker value is the expiry unix time, so the retry hint is
// exact even when the marker was set by another process.
func (g *Guard) checkCooldown(ctx context.Context, sub models.Submission, clientID string) models.Verdict {
	key := meteringmodels.CooldownKey(sub.FormID, clientID)
	expiry, found, err := g.store().Get(ctx, key)
	if err != nil {
		expiry, found, err = g.local.Get(ctx, key)
		if err != nil {
			return models.Allow()
		}
	}
	if !found {
		return models.Allow()
	}
	retry := time.Unix(expiry, 0).Sub(g.now())
	if retry <= 0 {
		retry = time.Second
	}
	return models.Reject(models.ReasonCooldown, retry)
}

// checkFingerprint caps structurally identical submissions per window.
// Always process-local: fingerprinting is a soft heuristic and keeping it
// off the shared backend keeps the hot path to one remote round trip.
func (g *Guard) checkFingerprint(ctx context.Context, sub models.Submission, clientID string) models.Verdict {
	key := meteringmodels.FingerprintKey(hashFingerprint(sub, clientID))
	n, err := g.local.Incr(ctx, key, g.cfg.FingerprintWindow)
	if err != nil {
		return models.Allow()
	}
	if n > int64(g.cfg.FingerprintMax) {
		return models.Reject(models.ReasonFingerprint, g.cfg.FingerprintWindow)
	}
	return models.Allow()
}

// store picks the shared backend when it is healthy and the process-local
// fallback otherwise. Degraded, not open-allow.
func (g *Guard) store() counter.Store {
	if g.shared.Enabled() {
		return g.shared
	}
	return g.local
}

func (g *Guard) cooldown(settings models.FormSettings) time.Duration {
	if settings.CooldownSeconds > 0 {
		return time.Duration(settings.CooldownSeconds) * time.Second
	}
	return g.cfg.DefaultCooldown
}

func (g *Guard) reject(ctx context.Context, sub models.Submission, v models.Verdict) models.Verdict {
	if g.metrics != nil {
		g.metrics.AbuseRejections.WithLabelValues(v.Reason).Inc()
	}
	g.logger.Info("submission rejected",
		"tenant_id", sub.TenantID,
		"form_id", sub.FormID,
		"gate", v.Reason,
		"retry_after", v.RetryAfter,
	)
	g.emitAudit(ctx, sub, v)
	return v
}

func (g *Guard) emitAudit(ctx context.Context, sub models.Submission, v models.Verdict) {
	if g.auditPub == nil {
		return
	}
	ua := useragent.New(sub.UserAgent)
	browser, version := ua.Browser()
	err := g.auditPub.Emit(ctx, audit.Event{
		Action:     audit.ActionSubmissionDenied,
		TenantID:   sub.TenantID,
		OccurredAt: g.now().UTC(),
		Details: map[string]any{
			"form_id": sub.FormID,
			"gate":    v.Reason,
			"ip":      sub.IP,
			"browser": strings.TrimSpace(browser + " " + version),
			"os":      ua.OS(),
			"bot":     ua.Bot(),
		},
	})
	if err != nil {
		g.logger.Warn("failed to emit audit event", "action", audit.ActionSubmissionDenied, "error", err)
	}
}

// hashSubmission fingerprints the exact payload. Map keys are sorted by the
// JSON encoder, so equal field sets serialize identically.
func hashSubmission(sub models.Submission, clientID string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|", sub.FormID, clientID)
	data, err := json.Marshal(sub.Fields)
	if err != nil {
		fmt.Fprintf(h, "%v", sub.Fields)
	} else {
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// hashFingerprint captures submission shape rather than content: the field
// name set plus a coarse payload size.
func hashFingerprint(sub models.Submission, clientID string) string {
	names := make([]string, 0, len(sub.Fields))
	for name := range sub.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	bucket := sub.RawSize / fingerprintSizeBucket * fingerprintSizeBucket
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%d", sub.FormID, clientID, strings.Join(names, ","), bucket)
	return hex.EncodeToString(h.Sum(nil))
}
