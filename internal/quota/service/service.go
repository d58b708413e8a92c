// Package service implements quota resolution and enforcement. Every check
// fails open: when a dependency is down the platform serves traffic and
// catches up on enforcement at the next refresh.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"formgate/internal/metering/counter"
	"formgate/internal/metering/metrics"
	"formgate/internal/metering/period"
	"formgate/internal/quota/cache"
	"formgate/internal/quota/models"
	"formgate/internal/tenant"
	tenantstore "formgate/internal/tenant/store"
	"formgate/pkg/platform/audit"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks UsageSource,AuditPublisher

// UsageSource supplies the authoritative monthly request count.
type UsageSource interface {
	MonthlyUsage(ctx context.Context, tenantID string, asOf time.Time) (int64, error)
}

// AuditPublisher emits audit events for quota state changes.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// refreshConcurrency bounds the fan-out of a full cache refresh.
const refreshConcurrency = 8

type Service struct {
	tenants  tenantstore.Store
	usage    UsageSource
	cache    *cache.Cache
	counters counter.Store
	auditPub AuditPublisher
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(pub AuditPublisher) Option {
	return func(s *Service) {
		s.auditPub = pub
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(tenants tenantstore.Store, usage UsageSource, c *cache.Cache, counters counter.Store, opts ...Option) (*Service, error) {
	if tenants == nil {
		return nil, fmt.Errorf("tenant store is required")
	}
	if usage == nil {
		return nil, fmt.Errorf("usage source is required")
	}
	if c == nil {
		return nil, fmt.Errorf("quota cache is required")
	}
	if counters == nil {
		return nil, fmt.Errorf("counter store is required")
	}

	svc := &Service{
		tenants:  tenants,
		usage:    usage,
		cache:    c,
		counters: counters,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Limits resolves a tenant's effective limits, cache-first with a 24h TTL.
// On miss the snapshot is computed from the tenant's plan plus overrides and
// cached.
func (s *Service) Limits(ctx context.Context, tenantID string) (models.TenantLimits, error) {
	if cached, ok := s.cache.Limits(tenantID); ok {
		return cached, nil
	}

	t, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return models.TenantLimits{}, fmt.Errorf("load tenant: %w", err)
	}
	limits := models.TenantLimits{
		TenantID:            tenantID,
		UserLimit:           t.Limit(tenant.LimitUsers),
		OwnerLimit:          t.Limit(tenant.LimitOwners),
		StorageLimit:        t.Limit(tenant.LimitStorage),
		MonthlyRequestLimit: t.Limit(tenant.LimitMonthlyRequests),
		ComputedAt:          s.now().UTC(),
	}
	s.cache.SetLimits(limits)
	return limits, nil
}

// CheckRequest reports whether the tenant may make another API request this
// month. Fails open on any internal error and whenever the counter backend
// is unavailable, since usage cannot be trusted without it.
func (s *Service) CheckRequest(ctx context.Context, tenantID string) models.CheckResult {
	limits, err := s.Limits(ctx, tenantID)
	if err != nil {
		return s.failOpen("request", tenantID, err)
	}
	if unlimited(limits.MonthlyRequestLimit) {
		return s.allowed("request", unlimitedResult(limits.MonthlyRequestLimit))
	}
	if !s.counters.Enabled() {
		return s.failOpen("request", tenantID, counter.ErrUnavailable)
	}

	used, err := s.usage.MonthlyUsage(ctx, tenantID, s.now())
	if err != nil {
		return s.failOpen("request", tenantID, err)
	}
	return s.verdict("request", limits.MonthlyRequestLimit, used, 1)
}

// CheckStorage reports whether the tenant can store requestedBytes more.
func (s *Service) CheckStorage(ctx context.Context, tenantID string, requestedBytes int64) models.CheckResult {
	limits, err := s.Limits(ctx, tenantID)
	if err != nil {
		return s.failOpen("storage", tenantID, err)
	}
	if unlimited(limits.StorageLimit) {
		return s.allowed("storage", unlimitedResult(limits.StorageLimit))
	}

	used, err := s.tenants.StorageBytes(ctx, tenantID)
	if err != nil {
		return s.failOpen("storage", tenantID, err)
	}
	return s.verdict("storage", limits.StorageLimit, used, requestedBytes)
}

// CheckUser reports whether the tenant can add one more member.
func (s *Service) CheckUser(ctx context.Context, tenantID string) models.CheckResult {
	limits, err := s.Limits(ctx, tenantID)
	if err != nil {
		return s.failOpen("user", tenantID, err)
	}
	if unlimited(limits.UserLimit) {
		return s.allowed("user", unlimitedResult(limits.UserLimit))
	}

	used, err := s.tenants.CountUsers(ctx, tenantID)
	if err != nil {
		return s.failOpen("user", tenantID, err)
	}
	return s.verdict("user", limits.UserLimit, used, 1)
}

// Flag returns the tenant's exceeded flag for request-time guarding.
func (s *Service) Flag(tenantID string) (models.ExceededFlag, bool) {
	return s.cache.Flag(tenantID)
}

// RefreshMonthlyFlag recomputes the tenant's monthly usage, persists the
// snapshot, and sets or clears the exceeded flag.
func (s *Service) RefreshMonthlyFlag(ctx context.Context, tenantID string) error {
	now := s.now().UTC()
	limits, err := s.Limits(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("resolve limits: %w", err)
	}

	used, err := s.usage.MonthlyUsage(ctx, tenantID, now)
	if err != nil {
		return fmt.Errorf("compute monthly usage: %w", err)
	}

	month := period.Month(now)
	if err := s.tenants.SaveUsageSnapshot(ctx, tenant.UsageSnapshot{
		TenantID:    tenantID,
		Usage:       used,
		PeriodStart: month.Start,
	}); err != nil {
		return fmt.Errorf("persist usage snapshot: %w", err)
	}

	limit := limits.MonthlyRequestLimit
	if !unlimited(limit) && used >= limit {
		_, wasSet := s.cache.Flag(tenantID)
		s.cache.SetFlag(models.ExceededFlag{
			TenantID:  tenantID,
			Exceeded:  true,
			Limit:     limit,
			Usage:     used,
			PeriodKey: month.Key,
			SetAt:     now,
		})
		if !wasSet {
			s.emitAudit(ctx, audit.ActionQuotaExceeded, tenantID, map[string]any{
				"limit":      limit,
				"usage":      used,
				"period_key": month.Key,
			})
		}
		return nil
	}

	s.cache.ClearFlag(tenantID)
	return nil
}

// Invalidate busts the tenant's cached limits and flag, forcing the next
// check to recompute from the database. Called when a plan changes.
func (s *Service) Invalidate(tenantID string) {
	s.cache.Invalidate(tenantID)
}

// RefreshAll recomputes limits and flags for every tenant. Used at cold
// start and after each sync pass.
func (s *Service) RefreshAll(ctx context.Context) error {
	ids, err := s.tenants.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshConcurrency)
	for _, tenantID := range ids {
		g.Go(func() error {
			if err := s.RefreshMonthlyFlag(ctx, tenantID); err != nil {
				s.logger.Warn("quota refresh failed", "tenant_id", tenantID, "error", err)
			}
			// Per-tenant failures don't abort the sweep.
			return nil
		})
	}
	return g.Wait()
}

func (s *Service) verdict(kind string, limit, used, requested int64) models.CheckResult {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	res := models.CheckResult{
		Allowed:   used+requested <= limit,
		Remaining: remaining,
		Limit:     limit,
	}
	outcome := "allowed"
	if !res.Allowed {
		outcome = "denied"
	}
	if s.metrics != nil {
		s.metrics.QuotaChecks.WithLabelValues(kind, outcome).Inc()
	}
	return res
}

func (s *Service) allowed(kind string, res models.CheckResult) models.CheckResult {
	if s.metrics != nil {
		s.metrics.QuotaChecks.WithLabelValues(kind, "allowed").Inc()
	}
	return res
}

func (s *Service) failOpen(kind, tenantID string, err error) models.CheckResult {
	s.logger.Warn("quota check failed open", "kind", kind, "tenant_id", tenantID, "error", err)
	if s.metrics != nil {
		s.metrics.QuotaChecks.WithLabelValues(kind, "fail_open").Inc()
	}
	return models.AllowAll()
}

func (s *Service) emitAudit(ctx context.Context, action, tenantID string, details map[string]any) {
	if s.auditPub == nil {
		return
	}
	if err := s.auditPub.Emit(ctx, audit.Event{
		Action:     action,
		TenantID:   tenantID,
		OccurredAt: s.now().UTC(),
		Details:    details,
	}); err != nil {
		s.logger.Warn("failed to emit audit event", "action", action, "error", err)
	}
}

func unlimited(limit int64) bool {
	return limit < 0
}

func unlimitedResult(limit int64) models.CheckResult {
	return models.CheckResult{Allowed: true, Remaining: -1, Limit: limit, Unlimited: true}
}
