package sync

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formgate/internal/metering/counter"
	"formgate/internal/metering/models"
	"formgate/internal/metering/period"
	usagesvc "formgate/internal/metering/service/usage"
	usagestore "formgate/internal/metering/store/usage"
	"formgate/internal/tenant"
	tenantstore "formgate/internal/tenant/store"
)

type flagRefresherStub struct {
	refreshed  []string
	refreshAll int
}

func (f *flagRefresherStub) RefreshMonthlyFlag(_ context.Context, tenantID string) error {
	f.refreshed = append(f.refreshed, tenantID)
	return nil
}

func (f *flagRefresherStub) RefreshAll(context.Context) error {
	f.refreshAll++
	return nil
}

type fixture struct {
	counters *counter.Local
	store    *usagestore.MemoryStore
	tenants  *tenantstore.MemoryStore
	flags    *flagRefresherStub
	svc      *Service
	now      time.Time
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	f := &fixture{
		counters: counter.NewLocal(),
		store:    usagestore.NewMemory(),
		tenants:  tenantstore.NewMemory(),
		flags:    &flagRefresherStub{},
		now:      now,
	}
	f.tenants.Put(&tenant.Tenant{
		ID:   "t1",
		Plan: tenant.Plan{Name: "basic", MonthlyRequestLimit: 3},
	})

	clock := func() time.Time { return f.now }
	usage, err := usagesvc.New(f.counters, f.store, f.tenants, usagesvc.WithClock(clock))
	require.NoError(t, err)
	f.svc, err = New(f.counters, f.store, f.tenants, usage,
		WithClock(clock), WithFlagRefresher(f.flags))
	require.NoError(t, err)
	return f
}

func (f *fixture) incrN(t *testing.T, tenantID, periodKey string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := f.counters.Incr(context.Background(), models.UsageCounterKey(tenantID, periodKey), 72*time.Hour)
		require.NoError(t, err)
	}
}

func TestPendingPeriodsFromCursor(t *testing.T) {
	ctx := context.Background()
	// Inside the 2025-01-11T12 window; P0 = 2025-01-10T00.
	now := time.Date(2025, time.January, 11, 13, 0, 0, 0, time.UTC)
	f := newFixture(t, now)

	p0, err := period.HalfDayFromKey("2025-01-10T00")
	require.NoError(t, err)
	require.NoError(t, f.store.SaveCursor(ctx, models.SyncCursor{
		Key:           models.HalfDayCursor,
		LastPeriodKey: p0.Key,
		LastPeriodEnd: p0.EndExclusive,
	}))

	pending, err := f.svc.PendingPeriods(ctx, now, Options{})
	require.NoError(t, err)

	// Exactly the closed windows after the cursor, in order, with the open
	// window excluded.
	keys := make([]string, len(pending))
	for i, w := range pending {
		keys[i] = w.Key
	}
	assert.Equal(t, []string{"2025-01-10T12", "2025-01-11T00"}, keys)

	// IncludeCurrent adds the still-open window at the end.
	pending, err = f.svc.PendingPeriods(ctx, now, Options{IncludeCurrent: true})
	require.NoError(t, err)
	assert.Equal(t, "2025-01-11T12", pending[len(pending)-1].Key)
}

func TestPendingPeriodsWithoutCursor(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, time.January, 11, 13, 0, 0, 0, time.UTC)
	f := newFixture(t, now)

	// No cursor, no records: only the target's window is pending, and it is
	// open, so a plain pass sees nothing.
	pending, err := f.svc.PendingPeriods(ctx, now, Options{})
	require.NoError(t, err)
	assert.Empty(t, pending)

	// Force falls back to the most recent closed window.
	pending, err = f.svc.PendingPeriods(ctx, now, Options{Force: true})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "2025-01-11T00", pending[0].Key)
}

func TestSyncHalfDayMigratesCounters(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, time.January, 10, 13, 0, 0, 0, time.UTC)
	f := newFixture(t, now)

	// Four requests landed in the closed morning window. t1's limit is 3.
	f.incrN(t, "t1", "2025-01-10T00", 4)

	report, err := f.svc.SyncHalfDay(ctx, Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Saved)
	assert.Equal(t, 0, report.Errors)
	assert.Equal(t, 1, report.Deleted)

	// Durable half-day record carries the counter value.
	rec, err := f.store.GetRecord(ctx, "t1", models.PeriodHalfDay, "2025-01-10T00")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(4), rec.TotalCalls)

	// Monthly rollup got the delta.
	monthly, err := f.store.GetRecord(ctx, "t1", models.PeriodMonthly, "2025-01")
	require.NoError(t, err)
	require.NotNil(t, monthly)
	assert.Equal(t, int64(4), monthly.TotalCalls)

	// The migrated counter is gone and the touched tenant's flag was
	// refreshed, which is where the over-limit state gets set.
	_, ok, err := f.counters.Get(ctx, models.UsageCounterKey("t1", "2025-01-10T00"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"t1"}, f.flags.refreshed)

	// Cursor advanced through the synced window.
	cur, err := f.store.GetCursor(ctx, models.HalfDayCursor)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "2025-01-10T00", cur.LastPeriodKey)
}

func TestSyncIsIdempotentAndMonotonic(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, time.January, 10, 13, 0, 0, 0, time.UTC)
	f := newFixture(t, now)

	f.incrN(t, "t1", "2025-01-10T00", 4)
	_, err := f.svc.SyncHalfDay(ctx, Options{Force: true})
	require.NoError(t, err)

	// A counter reappearing with a smaller value (restart after a partial
	// sync) must not shrink the durable total or inflate the rollup.
	f.incrN(t, "t1", "2025-01-10T00", 2)
	report, err := f.svc.SyncHalfDay(ctx, Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Saved)

	rec, err := f.store.GetRecord(ctx, "t1", models.PeriodHalfDay, "2025-01-10T00")
	require.NoError(t, err)
	assert.Equal(t, int64(4), rec.TotalCalls)
	monthly, err := f.store.GetRecord(ctx, "t1", models.PeriodMonthly, "2025-01")
	require.NoError(t, err)
	assert.Equal(t, int64(4), monthly.TotalCalls)

	// A larger value (late increments drained after a crash) applies only
	// the positive delta.
	f.incrN(t, "t1", "2025-01-10T00", 7)
	report, err = f.svc.SyncHalfDay(ctx, Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Saved)

	rec, err = f.store.GetRecord(ctx, "t1", models.PeriodHalfDay, "2025-01-10T00")
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.TotalCalls)
	monthly, err = f.store.GetRecord(ctx, "t1", models.PeriodMonthly, "2025-01")
	require.NoError(t, err)
	assert.Equal(t, int64(7), monthly.TotalCalls)
}

func TestSyncBackfillsGaps(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, time.January, 11, 13, 0, 0, 0, time.UTC)
	f := newFixture(t, now)

	p0, err := period.HalfDayFromKey("2025-01-10T00")
	require.NoError(t, err)
	require.NoError(t, f.store.SaveCursor(ctx, models.SyncCursor{
		Key:           models.HalfDayCursor,
		LastPeriodKey: p0.Key,
		LastPeriodEnd: p0.EndExclusive,
	}))

	// Counters accumulated across two missed windows.
	f.incrN(t, "t1", "2025-01-10T12", 2)
	f.incrN(t, "t1", "2025-01-11T00", 3)

	report, err := f.svc.SyncHalfDay(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-10T12", "2025-01-11T00"}, report.Periods)
	assert.Equal(t, 2, report.Saved)

	monthly, err := f.store.GetRecord(ctx, "t1", models.PeriodMonthly, "2025-01")
	require.NoError(t, err)
	assert.Equal(t, int64(5), monthly.TotalCalls)

	cur, err := f.store.GetCursor(ctx, models.HalfDayCursor)
	require.NoError(t, err)
	assert.Equal(t, "2025-01-11T00", cur.LastPeriodKey)
}

func TestIncludeCurrentDrainIsReadOnly(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, time.January, 11, 13, 0, 0, 0, time.UTC)
	f := newFixture(t, now)

	open := period.HalfDay(now)
	f.incrN(t, "t1", open.Key, 5)

	// Draining the open window previews its total but must leave the
	// counter in place.
	report, err := f.svc.SyncHalfDay(ctx, Options{IncludeCurrent: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Saved)
	assert.Equal(t, 0, report.Deleted)

	// Increments landing later in the same window keep accumulating on the
	// surviving counter.
	f.incrN(t, "t1", open.Key, 3)

	// Once the window closes, a regular pass credits the full count and
	// retires the counter.
	f.now = open.EndExclusive.Add(time.Hour)
	report, err = f.svc.SyncHalfDay(ctx, Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Saved)
	assert.Equal(t, 1, report.Deleted)

	rec, err := f.store.GetRecord(ctx, "t1", models.PeriodHalfDay, open.Key)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(8), rec.TotalCalls)

	monthly, err := f.store.GetRecord(ctx, "t1", models.PeriodMonthly, "2025-01")
	require.NoError(t, err)
	require.NotNil(t, monthly)
	assert.Equal(t, int64(8), monthly.TotalCalls)
}

// failingGetStore wraps a Local and fails reads for one tenant's keys.
type failingGetStore struct {
	*counter.Local
	failPrefix string
}

func (f *failingGetStore) Get(ctx context.Context, key string) (int64, bool, error) {
	if strings.HasPrefix(key, f.failPrefix) {
		return 0, false, counter.ErrUnavailable
	}
	return f.Local.Get(ctx, key)
}

func TestCursorHeldBackOnErrors(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, time.January, 10, 13, 0, 0, 0, time.UTC)
	f := newFixture(t, now)

	failing := &failingGetStore{Local: f.counters, failPrefix: "usage:t1:"}
	clock := func() time.Time { return f.now }
	usage, err := usagesvc.New(failing, f.store, f.tenants, usagesvc.WithClock(clock))
	require.NoError(t, err)
	svc, err := New(failing, f.store, f.tenants, usage, WithClock(clock))
	require.NoError(t, err)

	f.incrN(t, "t1", "2025-01-10T00", 4)

	report, err := svc.SyncHalfDay(ctx, Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errors)

	// An incomplete pass must not advance the cursor, or the unread counter
	// would be skipped forever.
	cur, err := f.store.GetCursor(ctx, models.HalfDayCursor)
	require.NoError(t, err)
	assert.Nil(t, cur)
}

func TestRunScheduled(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, time.February, 1, 0, 30, 0, 0, time.UTC)
	f := newFixture(t, now)

	// Stale January snapshot should be swept by the scheduled run.
	require.NoError(t, f.tenants.SaveUsageSnapshot(ctx, tenant.UsageSnapshot{
		TenantID:    "t1",
		Usage:       9000,
		PeriodStart: time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
	}))

	_, err := f.svc.RunScheduled(ctx)
	require.NoError(t, err)

	snap, err := f.tenants.UsageSnapshot(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Usage)
	assert.Equal(t, 1, f.flags.refreshAll)
}
