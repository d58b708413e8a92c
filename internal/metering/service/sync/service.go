// Package sync migrates ephemeral half-day counters into the durable store.
// The counter store only retains data for a bounded TTL, so every period
// between the cursor and the target must be drained before it expires;
// skipped periods are unrecoverable.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"formgate/internal/metering/counter"
	"formgate/internal/metering/metrics"
	"formgate/internal/metering/models"
	"formgate/internal/metering/period"
	usagesvc "formgate/internal/metering/service/usage"
	usagestore "formgate/internal/metering/store/usage"
	tenantstore "formgate/internal/tenant/store"
)

// FlagRefresher recomputes quota flags after a pass touches tenants.
// Implemented by the quota service; local interface keeps the dependency
// pointing in one direction.
type FlagRefresher interface {
	RefreshMonthlyFlag(ctx context.Context, tenantID string) error
	RefreshAll(ctx context.Context) error
}

// Options control one reconciliation pass.
type Options struct {
	// Force re-processes the most recent closed period even when the cursor
	// says it is already synced.
	Force bool
	// IncludeCurrent also drains the still-open half-day. The cursor never
	// advances into an open period.
	IncludeCurrent bool
}

type Service struct {
	counters counter.Store
	store    usagestore.Store
	tenants  tenantstore.Store
	usage    *usagesvc.Service
	flags    FlagRefresher
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	group singleflight.Group
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

func WithFlagRefresher(flags FlagRefresher) Option {
	return func(s *Service) {
		s.flags = flags
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(counters counter.Store, store usagestore.Store, tenants tenantstore.Store, usage *usagesvc.Service, opts ...Option) (*Service, error) {
	if counters == nil {
		return nil, fmt.Errorf("counter store is required")
	}
	if store == nil {
		return nil, fmt.Errorf("usage store is required")
	}
	if tenants == nil {
		return nil, fmt.Errorf("tenant store is required")
	}
	if usage == nil {
		return nil, fmt.Errorf("usage service is required")
	}

	svc := &Service{
		counters: counters,
		store:    store,
		tenants:  tenants,
		usage:    usage,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// PendingPeriods enumerates every half-day window strictly after the cursor
// up to the one containing target. When no cursor exists it falls back to
// the latest durable record's end date; when that is also unknown, only the
// target's window is pending.
func (s *Service) PendingPeriods(ctx context.Context, target time.Time, opts Options) ([]period.Window, error) {
	cur, err := s.store.GetCursor(ctx, models.HalfDayCursor)
	if err != nil {
		return nil, fmt.Errorf("get sync cursor: %w", err)
	}

	var pending []period.Window
	switch {
	case cur != nil:
		last, err := period.HalfDayFromKey(cur.LastPeriodKey)
		if err != nil {
			return nil, fmt.Errorf("corrupt sync cursor %q: %w", cur.LastPeriodKey, err)
		}
		pending = period.HalfDaysBetween(last.Start, target)
	default:
		latestEnd, ok, err := s.store.LatestRecordEnd(ctx, models.PeriodHalfDay)
		if err != nil {
			return nil, fmt.Errorf("latest record end: %w", err)
		}
		if ok {
			// EndDate is the window's exclusive end; step inside it so
			// enumeration starts at the next window.
			pending = period.HalfDaysBetween(latestEnd.Add(-time.Nanosecond), target)
		} else {
			pending = []period.Window{period.HalfDay(target)}
		}
	}

	if !opts.IncludeCurrent {
		open := period.HalfDay(s.now())
		filtered := pending[:0]
		for _, w := range pending {
			if w.Start.Equal(open.Start) || w.Start.After(open.Start) {
				continue
			}
			filtered = append(filtered, w)
		}
		pending = filtered
	}

	if len(pending) == 0 && opts.Force {
		pending = []period.Window{period.PreviousHalfDay(s.now())}
	}
	return pending, nil
}

// SyncHalfDay drains pending half-day counters into durable records.
// Overlapping invocations, forced or scheduled, share one pass through
// singleflight; the upsert+delta logic is idempotent per period, so a crash
// mid-pass only means periods are reprocessed next run. Per-cell errors are
// counted and logged, never abort the batch.
func (s *Service) SyncHalfDay(ctx context.Context, opts Options) (*models.SyncReport, error) {
	v, err, _ := s.group.Do("halfday", func() (any, error) {
		return s.runPass(ctx, opts)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.SyncReport), nil
}

func (s *Service) runPass(ctx context.Context, opts Options) (*models.SyncReport, error) {
	tracer := otel.Tracer("formgate/metering")
	ctx, span := tracer.Start(ctx, "metering.sync", trace.WithAttributes(
		attribute.Bool("sync.forced", opts.Force),
		attribute.Bool("sync.include_current", opts.IncludeCurrent),
	))
	defer span.End()

	now := s.now()
	pending, err := s.PendingPeriods(ctx, now, opts)
	if err != nil {
		return nil, err
	}

	report := &models.SyncReport{}
	if len(pending) == 0 {
		return report, nil
	}

	tenantIDs, err := s.tenants.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	tenantIDs = append(tenantIDs, models.SystemTenant)

	touched := make(map[string]struct{})
	for _, w := range pending {
		report.Periods = append(report.Periods, w.Key)
		for _, tenantID := range tenantIDs {
			savedBefore := report.Saved
			if err := s.syncCell(ctx, tenantID, w, report); err != nil {
				report.Errors++
				s.logger.Warn("usage sync cell failed",
					"tenant_id", tenantID, "period", w.Key, "error", err)
				continue
			}
			if report.Saved > savedBefore {
				touched[tenantID] = struct{}{}
			}
		}
	}

	// The cursor only advances when the pass was complete: every cell read
	// and persisted. Otherwise expired counters could be skipped for good.
	if report.Errors == 0 {
		if last, ok := lastClosed(pending, now); ok {
			cur := models.SyncCursor{
				Key:           models.HalfDayCursor,
				LastPeriodKey: last.Key,
				LastPeriodEnd: last.EndExclusive,
			}
			if err := s.store.SaveCursor(ctx, cur); err != nil {
				return nil, fmt.Errorf("save sync cursor: %w", err)
			}
		}
	}

	for tenantID := range touched {
		if s.flags == nil || tenantID == models.SystemTenant {
			continue
		}
		if err := s.flags.RefreshMonthlyFlag(ctx, tenantID); err != nil {
			s.logger.Warn("quota flag refresh failed", "tenant_id", tenantID, "error", err)
		}
	}

	if s.metrics != nil {
		s.metrics.SyncPasses.Inc()
		s.metrics.SyncRecordsSaved.Add(float64(report.Saved))
		s.metrics.SyncErrors.Add(float64(report.Errors))
	}
	span.SetAttributes(
		attribute.Int("sync.processed", report.Processed),
		attribute.Int("sync.saved", report.Saved),
		attribute.Int("sync.errors", report.Errors),
		attribute.Int("sync.deleted", report.Deleted),
	)
	s.logger.Info("usage sync pass complete",
		"periods", len(pending),
		"processed", report.Processed,
		"saved", report.Saved,
		"errors", report.Errors,
		"deleted", report.Deleted,
	)
	return report, nil
}

// syncCell migrates one (tenant, period) counter. The durable total is
// overwritten with the counter value and the positive delta versus the
// previous total is applied to the monthly rollup, which keeps reprocessing
// idempotent. Totals never decrease here; a counter that reads lower than
// the stored total (a restart after a partial sync) is left alone.
// A still-open window is drained read-only: its counter keeps accumulating
// until the window closes, so deleting it mid-window would drop every
// increment that lands after the pass.
func (s *Service) syncCell(ctx context.Context, tenantID string, w period.Window, report *models.SyncReport) error {
	key := models.UsageCounterKey(tenantID, w.Key)
	val, ok, err := s.counters.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read counter: %w", err)
	}
	report.Processed++
	if !ok || val <= 0 {
		return nil
	}

	prev, err := s.store.GetRecord(ctx, tenantID, models.PeriodHalfDay, w.Key)
	if err != nil {
		return fmt.Errorf("read previous record: %w", err)
	}
	var prevTotal int64
	if prev != nil {
		prevTotal = prev.TotalCalls
	}

	if delta := val - prevTotal; delta > 0 {
		rec := models.UsageRecord{
			TenantID:   tenantID,
			Period:     models.PeriodHalfDay,
			PeriodKey:  w.Key,
			StartDate:  w.Start,
			EndDate:    w.EndExclusive,
			TotalCalls: val,
			SyncedAt:   s.now().UTC(),
			SourceKeys: []string{key},
		}
		if err := s.store.UpsertRecord(ctx, rec); err != nil {
			return fmt.Errorf("upsert record: %w", err)
		}
		if err := s.usage.IncrementMonthly(ctx, tenantID, w.Start, delta); err != nil {
			return fmt.Errorf("roll up monthly: %w", err)
		}
		report.Saved++
	}

	if w.EndExclusive.After(s.now()) {
		return nil
	}
	n, err := s.counters.Del(ctx, key)
	if err != nil {
		return fmt.Errorf("delete migrated counter: %w", err)
	}
	report.Deleted += int(n)
	return nil
}

// RunScheduled performs one sync pass, sweeps stale monthly snapshots, and
// refreshes the whole quota cache. Intended for external invocation roughly
// twice daily; safely re-invocable.
func (s *Service) RunScheduled(ctx context.Context) (*models.SyncReport, error) {
	report, err := s.SyncHalfDay(ctx, Options{})
	if err != nil {
		return nil, err
	}
	if _, err := s.usage.ResetMonthlyIfNeeded(ctx, s.now()); err != nil {
		s.logger.Error("monthly reset sweep failed", "error", err)
	}
	if s.flags != nil {
		if err := s.flags.RefreshAll(ctx); err != nil {
			s.logger.Error("full quota cache refresh failed", "error", err)
		}
	}
	return report, nil
}

// lastClosed returns the latest pending window that has fully elapsed.
func lastClosed(pending []period.Window, now time.Time) (period.Window, bool) {
	for i := len(pending) - 1; i >= 0; i-- {
		if !pending[i].EndExclusive.After(now) {
			return pending[i], true
		}
	}
	return period.Window{}, false
}
