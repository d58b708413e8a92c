package httptransport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	abusemodels "formgate/internal/abuse/models"
	meteringmodels "formgate/internal/metering/models"
	syncsvc "formgate/internal/metering/service/sync"
	quotamw "formgate/internal/quota/middleware"
	quotamodels "formgate/internal/quota/models"
)

type stubUsage struct {
	stats meteringmodels.UsageStats
}

func (s *stubUsage) Stats(_ context.Context, tenantID string, asOf time.Time) (*meteringmodels.UsageStats, error) {
	out := s.stats
	out.TenantID = tenantID
	out.AsOf = asOf
	return &out, nil
}

type stubLimits struct {
	limits quotamodels.TenantLimits
	err    error
}

func (s *stubLimits) Limits(context.Context, string) (quotamodels.TenantLimits, error) {
	return s.limits, s.err
}

type stubSyncer struct {
	report    meteringmodels.SyncReport
	lastOpts  syncsvc.Options
	scheduled int
}

func (s *stubSyncer) SyncHalfDay(_ context.Context, opts syncsvc.Options) (*meteringmodels.SyncReport, error) {
	s.lastOpts = opts
	return &s.report, nil
}

func (s *stubSyncer) RunScheduled(context.Context) (*meteringmodels.SyncReport, error) {
	s.scheduled++
	return &s.report, nil
}

type stubGuard struct {
	verdict   abusemodels.Verdict
	successes int
}

func (s *stubGuard) Evaluate(context.Context, abusemodels.Submission, abusemodels.FormSettings) (abusemodels.Verdict, error) {
	return s.verdict, nil
}

func (s *stubGuard) RecordSuccess(context.Context, abusemodels.Submission, abusemodels.FormSettings) {
	s.successes++
}

type stubRecorder struct {
	tenants []string
}

func (s *stubRecorder) RecordRequest(tenantID string) {
	s.tenants = append(s.tenants, tenantID)
}

type stubFlags map[string]quotamodels.ExceededFlag

func (m stubFlags) Flag(tenantID string) (quotamodels.ExceededFlag, bool) {
	f, ok := m[tenantID]
	return f, ok
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDeps() (Deps, *stubSyncer, *stubGuard, *stubRecorder) {
	syncer := &stubSyncer{report: meteringmodels.SyncReport{Processed: 2, Saved: 1}}
	guard := &stubGuard{verdict: abusemodels.Allow()}
	recorder := &stubRecorder{}
	deps := Deps{
		Usage:      &stubUsage{stats: meteringmodels.UsageStats{Monthly: 42}},
		Limits:     &stubLimits{limits: quotamodels.TenantLimits{TenantID: "t1", MonthlyRequestLimit: 100}},
		Sync:       syncer,
		Abuse:      guard,
		Recorder:   recorder,
		SyncSecret: "hunter2",
		Logger:     discardLogger(),
	}
	return deps, syncer, guard, recorder
}

func TestSyncEndpointAuth(t *testing.T) {
	deps, syncer, _, _ := testDeps()
	router := NewRouter(deps)

	t.Run("missing token is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/internal/sync", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong token is rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/internal/sync", nil)
		req.Header.Set("X-Sync-Token", "guess")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token runs a pass", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/internal/sync?force=true", nil)
		req.Header.Set("X-Sync-Token", "hunter2")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var report meteringmodels.SyncReport
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.Equal(t, 1, report.Saved)
		assert.True(t, syncer.lastOpts.Force)
	})

	t.Run("scheduled runs the full sweep", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/internal/sync?scheduled=true", nil)
		req.Header.Set("X-Sync-Token", "hunter2")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, syncer.scheduled)
	})
}

func TestSyncEndpointDisabledWithoutSecret(t *testing.T) {
	deps, _, _, _ := testDeps()
	deps.SyncSecret = ""
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodPost, "/internal/sync", nil)
	req.Header.Set("X-Sync-Token", "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUsageEndpoint(t *testing.T) {
	deps, _, _, _ := testDeps()
	router := NewRouter(deps)

	req := httptest.NewRequest(http.MethodGet, "/tenants/t1/usage", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var stats meteringmodels.UsageStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, "t1", stats.TenantID)
	assert.Equal(t, int64(42), stats.Monthly)
}

func TestSubmissionEndpoint(t *testing.T) {
	payload := `{"email":"a@example.com","message":"hi"}`

	t.Run("accepted submission is counted and cooled down", func(t *testing.T) {
		deps, _, guard, recorder := testDeps()
		router := NewRouter(deps)

		req := httptest.NewRequest(http.MethodPost, "/forms/contact/submissions", strings.NewReader(payload))
		req.Header.Set("X-Tenant-ID", "t1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, []string{"t1"}, recorder.tenants)
		assert.Equal(t, 1, guard.successes)
	})

	t.Run("duplicate reads as a conflict", func(t *testing.T) {
		deps, _, guard, recorder := testDeps()
		guard.verdict = abusemodels.Reject(abusemodels.ReasonDuplicate, 0)
		router := NewRouter(deps)

		req := httptest.NewRequest(http.MethodPost, "/forms/contact/submissions", strings.NewReader(payload))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Empty(t, recorder.tenants)
		assert.Zero(t, guard.successes)
	})

	t.Run("rate limited carries a retry hint", func(t *testing.T) {
		deps, _, guard, _ := testDeps()
		guard.verdict = abusemodels.Reject(abusemodels.ReasonRateLimited, 42*time.Second)
		router := NewRouter(deps)

		req := httptest.NewRequest(http.MethodPost, "/forms/contact/submissions", strings.NewReader(payload))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "42", rec.Header().Get("Retry-After"))
	})

	t.Run("malformed body is rejected before the gates", func(t *testing.T) {
		deps, _, _, recorder := testDeps()
		router := NewRouter(deps)

		req := httptest.NewRequest(http.MethodPost, "/forms/contact/submissions", strings.NewReader("not json"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, recorder.tenants)
	})
}

func TestQuotaGuardWiredIntoRouter(t *testing.T) {
	deps, _, _, _ := testDeps()
	flags := stubFlags{"t1": {TenantID: "t1", Exceeded: true, Limit: 100, Usage: 120, PeriodKey: "2025-01"}}
	deps.QuotaGuard = quotamw.New(flags, HeaderTenantResolver, discardLogger())
	router := NewRouter(deps)

	// Flagged tenant is cut off at the middleware.
	req := httptest.NewRequest(http.MethodPost, "/forms/contact/submissions", strings.NewReader(`{}`))
	req.Header.Set("X-Tenant-ID", "t1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Health stays reachable for everyone.
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Tenant-ID", "t1")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
