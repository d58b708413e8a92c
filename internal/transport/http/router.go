// Package httptransport is the thin HTTP layer. Handlers delegate to the
// domain services and carry no business logic of their own.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	quotamw "formgate/internal/quota/middleware"
)

// tenantHeader carries the tenant resolved by the upstream authentication
// layer. This service trusts it as-is; authn is an external collaborator.
const tenantHeader = "X-Tenant-ID"

// Deps bundles everything the router mounts. Fields are interfaces defined
// next to the handlers that consume them.
type Deps struct {
	Usage        UsageReader
	Limits       LimitsReader
	Sync         Syncer
	Abuse        AbuseGuard
	Recorder     RequestRecorder
	QuotaGuard   *quotamw.Guard
	FormSettings FormSettingsSource
	SyncSecret   string
	Logger       *slog.Logger
}

// HeaderTenantResolver reads the authenticated tenant from the request.
func HeaderTenantResolver(r *http.Request) string {
	return r.Header.Get(tenantHeader)
}

// NewRouter mounts the exposed surface: the public submission endpoint,
// tenant usage/limit views, the operator sync trigger, and the probes.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if deps.QuotaGuard != nil {
		r.Use(deps.QuotaGuard.Handler)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	newUsageHandler(deps.Usage, deps.Limits, deps.Logger).Register(r)
	newSyncHandler(deps.Sync, deps.SyncSecret, deps.Logger).Register(r)
	newSubmissionHandler(deps.Abuse, deps.Recorder, deps.FormSettings, deps.Logger).Register(r)
	return r
}
