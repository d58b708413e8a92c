package middleware

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formgate/internal/quota/models"
)

type flagMap map[string]models.ExceededFlag

func (m flagMap) Flag(tenantID string) (models.ExceededFlag, bool) {
	f, ok := m[tenantID]
	return f, ok
}

func headerResolver(r *http.Request) string {
	return r.Header.Get("X-Tenant-ID")
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func newGuard(flags FlagSource, opts ...Option) *Guard {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(flags, headerResolver, logger, opts...)
}

func doRequest(g *Guard, path, tenantID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if tenantID != "" {
		req.Header.Set("X-Tenant-ID", tenantID)
	}
	rec := httptest.NewRecorder()
	g.Handler(okHandler()).ServeHTTP(rec, req)
	return rec
}

func TestGuardPassesUnflaggedTenants(t *testing.T) {
	g := newGuard(flagMap{})
	rec := doRequest(g, "/forms", "t1")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGuardRejectsFlaggedTenant(t *testing.T) {
	now := time.Date(2025, time.January, 15, 10, 0, 0, 0, time.UTC)
	flags := flagMap{"t1": {
		TenantID:  "t1",
		Exceeded:  true,
		Limit:     100,
		Usage:     150,
		PeriodKey: "2025-01",
	}}
	g := newGuard(flags, WithClock(func() time.Time { return now }))

	rec := doRequest(g, "/forms", "t1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	var body models.OverQuotaResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "monthly_quota_exceeded", body.Error)
	assert.NotEmpty(t, body.Message)
	assert.NotEmpty(t, body.MessageFr)
	assert.Equal(t, int64(100), body.Limit)
	assert.Equal(t, int64(150), body.Usage)
	assert.Equal(t, "2025-01", body.PeriodKey)
	assert.Equal(t, time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC), body.ResetAt.UTC())

	retryAfter, err := http.ParseTime(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Equal(t, body.ResetAt.UTC(), retryAfter.UTC())

	// Other tenants are unaffected.
	rec = doRequest(g, "/forms", "t2")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGuardAllowListedPathsStayReachable(t *testing.T) {
	flags := flagMap{"t1": {TenantID: "t1", Exceeded: true}}
	g := newGuard(flags)

	// The limits view is served at /tenants/{tenantID}/limits; the default
	// allow-list must cover the parameterized shape.
	for _, path := range []string{"/healthz", "/metrics", "/tenants/t1/limits", "/billing/upgrade"} {
		rec := doRequest(g, path, "t1")
		assert.Equal(t, http.StatusOK, rec.Code, "path %s should bypass the guard", path)
	}

	// The wildcard covers one segment only; sibling tenant routes are still
	// guarded.
	for _, path := range []string{"/tenants/t1/usage", "/tenants"} {
		rec := doRequest(g, path, "t1")
		assert.Equal(t, http.StatusTooManyRequests, rec.Code, "path %s should stay guarded", path)
	}
}

func TestGuardIsNoOpWithoutTenant(t *testing.T) {
	flags := flagMap{"t1": {TenantID: "t1", Exceeded: true}}
	g := newGuard(flags)

	// Unauthenticated requests resolve to no tenant and pass through.
	rec := doRequest(g, "/forms", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
