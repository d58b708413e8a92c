// Package usage implements per-request accounting: counter increments on the
// hot path, combined durable + in-flight statistics, and the monthly rollup
// helpers the sync job and quota refresh build on.
package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"formgate/internal/metering/counter"
	"formgate/internal/metering/metrics"
	"formgate/internal/metering/models"
	"formgate/internal/metering/period"
	usagestore "formgate/internal/metering/store/usage"
	tenantstore "formgate/internal/tenant/store"
)

// FlagClearer removes a tenant's quota-exceeded flag. Implemented by the
// quota cache; kept as a local interface so this package never depends on
// quota internals.
type FlagClearer interface {
	ClearFlag(tenantID string)
}

// recordTimeout bounds the detached increment so a hung backend cannot pile
// up goroutines.
const recordTimeout = 2 * time.Second

type Service struct {
	counters counter.Store
	store    usagestore.Store
	tenants  tenantstore.Store
	flags    FlagClearer
	logger   *slog.Logger
	metrics  *metrics.Metrics

	counterTTL time.Duration
	verbose    bool
	now        func() time.Time
	wg         sync.WaitGroup
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

func WithFlagClearer(flags FlagClearer) Option {
	return func(s *Service) {
		s.flags = flags
	}
}

func WithCounterTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.counterTTL = ttl
		}
	}
}

// WithVerbose logs every successful increment at debug level. Off by
// default; hot-path noise.
func WithVerbose(v bool) Option {
	return func(s *Service) {
		s.verbose = v
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(counters counter.Store, store usagestore.Store, tenants tenantstore.Store, opts ...Option) (*Service, error) {
	if counters == nil {
		return nil, fmt.Errorf("counter store is required")
	}
	if store == nil {
		return nil, fmt.Errorf("usage store is required")
	}
	if tenants == nil {
		return nil, fmt.Errorf("tenant store is required")
	}

	svc := &Service{
		counters:   counters,
		store:      store,
		tenants:    tenants,
		logger:     slog.Default(),
		counterTTL: 72 * time.Hour,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// RecordRequest counts one request against the tenant's current half-day
// bucket and the platform-wide system bucket. It detaches from the caller:
// the increment happens on its own goroutine with its own deadline, and
// failures are logged, never surfaced. A request must not slow down or fail
// because metering is degraded.
func (s *Service) RecordRequest(tenantID string) {
	now := s.now()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()

		key := period.HalfDay(now).Key
		s.incr(ctx, models.UsageCounterKey(tenantID, key))
		if tenantID != models.SystemTenant {
			s.incr(ctx, models.UsageCounterKey(models.SystemTenant, key))
		}
	}()
}

func (s *Service) incr(ctx context.Context, key string) {
	v, err := s.counters.Incr(ctx, key, s.counterTTL)
	if err != nil {
		if !errors.Is(err, counter.ErrUnavailable) {
			s.logger.Warn("usage increment failed", "key", key, "error", err)
		}
		return
	}
	if s.verbose {
		s.logger.Debug("usage incremented", "key", key, "value", v)
	}
	if s.metrics != nil {
		s.metrics.RequestsRecorded.Inc()
	}
}

// Wait blocks until all detached increments have finished. Shutdown hook.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Stats returns the tenant's usage as of the given instant: durable range
// sums plus whatever sits in the current half-day counter.
func (s *Service) Stats(ctx context.Context, tenantID string, asOf time.Time) (*models.UsageStats, error) {
	asOf = asOf.UTC()
	day := period.Day(asOf)
	week := period.Week(asOf)

	today, err := s.store.SumRange(ctx, tenantID, models.PeriodHalfDay, day.Start, day.EndExclusive)
	if err != nil {
		return nil, fmt.Errorf("sum today: %w", err)
	}
	weekly, err := s.store.SumRange(ctx, tenantID, models.PeriodHalfDay, week.Start, week.EndExclusive)
	if err != nil {
		return nil, fmt.Errorf("sum week: %w", err)
	}
	monthly, err := s.durableMonthly(ctx, tenantID, asOf)
	if err != nil {
		return nil, err
	}

	inflight := s.inflight(ctx, tenantID, asOf)
	return &models.UsageStats{
		TenantID: tenantID,
		AsOf:     asOf,
		Today:    today + inflight,
		Weekly:   weekly + inflight,
		Monthly:  monthly + inflight,
	}, nil
}

// MonthlyUsage returns the tenant's request count for the month containing
// asOf, durable rollup plus the in-flight counter. The quota refresh uses
// this as the authoritative figure.
func (s *Service) MonthlyUsage(ctx context.Context, tenantID string, asOf time.Time) (int64, error) {
	durable, err := s.durableMonthly(ctx, tenantID, asOf)
	if err != nil {
		return 0, err
	}
	return durable + s.inflight(ctx, tenantID, asOf), nil
}

// durableMonthly prefers the precomputed monthly record and falls back to
// summing half-day records across the month. Both paths agree as long as the
// sync job has no pending gaps.
func (s *Service) durableMonthly(ctx context.Context, tenantID string, asOf time.Time) (int64, error) {
	month := period.Month(asOf)
	rec, err := s.store.GetRecord(ctx, tenantID, models.PeriodMonthly, month.Key)
	if err != nil {
		return 0, fmt.Errorf("get monthly record: %w", err)
	}
	if rec != nil {
		return rec.TotalCalls, nil
	}
	total, err := s.store.SumRange(ctx, tenantID, models.PeriodHalfDay, month.Start, month.EndExclusive)
	if err != nil {
		return 0, fmt.Errorf("sum month: %w", err)
	}
	return total, nil
}

// inflight reads the current half-day counter. An unavailable backend reads
// as zero: metering degrades, requests keep flowing.
func (s *Service) inflight(ctx context.Context, tenantID string, asOf time.Time) int64 {
	key := models.UsageCounterKey(tenantID, period.HalfDay(asOf).Key)
	v, ok, err := s.counters.Get(ctx, key)
	if err != nil || !ok {
		return 0
	}
	return v
}

// IncrementMonthly adds delta to the tenant's monthly rollup record. Deltas
// of zero or less are skipped, which is what keeps re-synced half-day
// periods idempotent.
func (s *Service) IncrementMonthly(ctx context.Context, tenantID string, periodStart time.Time, delta int64) error {
	if delta <= 0 {
		return nil
	}
	month := period.Month(periodStart)
	if err := s.store.AddDelta(ctx, tenantID, models.PeriodMonthly, month.Key, month.Start, month.EndExclusive, delta); err != nil {
		return fmt.Errorf("increment monthly usage: %w", err)
	}
	return nil
}

// ResetMonthlyIfNeeded zeroes every usage snapshot that predates the current
// month and clears the matching exceeded flags. Concurrent invocations and
// races with in-flight increments are acceptable: writes are last-write-wins
// and the next quota refresh recomputes the truth.
func (s *Service) ResetMonthlyIfNeeded(ctx context.Context, now time.Time) (int, error) {
	monthStart := period.Month(now).Start
	snaps, err := s.tenants.ListUsageSnapshots(ctx)
	if err != nil {
		return 0, fmt.Errorf("list usage snapshots: %w", err)
	}

	reset := 0
	for _, snap := range snaps {
		if !snap.PeriodStart.Before(monthStart) {
			continue
		}
		snap.Usage = 0
		snap.PeriodStart = monthStart
		if err := s.tenants.SaveUsageSnapshot(ctx, snap); err != nil {
			s.logger.Error("monthly usage reset failed", "tenant_id", snap.TenantID, "error", err)
			continue
		}
		if s.flags != nil {
			s.flags.ClearFlag(snap.TenantID)
		}
		reset++
	}
	if reset > 0 {
		s.logger.Info("monthly usage reset", "tenants", reset, "month_start", monthStart)
	}
	return reset, nil
}
