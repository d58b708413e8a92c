// Package middleware contains the request guard that short-circuits
// over-quota tenants before their requests reach handlers.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"formgate/internal/metering/period"
	"formgate/internal/quota/models"
	"formgate/pkg/platform/httputil"
)

// FlagSource looks up a tenant's cached exceeded flag. The lookup must be
// O(1); the guard never touches the database.
type FlagSource interface {
	Flag(tenantID string) (models.ExceededFlag, bool)
}

// TenantResolver extracts the tenant ID for a request. Authentication is an
// external collaborator; the guard only consumes its result.
type TenantResolver func(r *http.Request) string

// defaultAllowList names paths that must stay reachable for over-quota
// tenants: health probes, viewing one's limits, and upgrading the plan that
// caused the rejection. An entry without a "*" matches as a prefix; "*"
// matches exactly one path segment.
var defaultAllowList = []string{
	"/healthz",
	"/metrics",
	"/tenants/*/limits",
	"/billing/upgrade",
}

type Guard struct {
	flags     FlagSource
	resolve   TenantResolver
	logger    *slog.Logger
	allowList []string
	now       func() time.Time
}

type Option func(*Guard)

func WithAllowList(paths []string) Option {
	return func(g *Guard) {
		g.allowList = paths
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		g.now = now
	}
}

func New(flags FlagSource, resolve TenantResolver, logger *slog.Logger, opts ...Option) *Guard {
	g := &Guard{
		flags:     flags,
		resolve:   resolve,
		logger:    logger,
		allowList: defaultAllowList,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Handler is the chi middleware. A request from a flagged tenant gets a
// structured over-quota response; everything else passes through. When the
// flag lookup is unavailable the guard is a no-op.
func (g *Guard) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.flags == nil || g.isAllowListed(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		tenantID := g.resolve(r)
		if tenantID == "" {
			next.ServeHTTP(w, r)
			return
		}

		flag, ok := g.flags.Flag(tenantID)
		if !ok || !flag.Exceeded {
			next.ServeHTTP(w, r)
			return
		}

		g.reject(w, flag)
	})
}

func (g *Guard) isAllowListed(path string) bool {
	for _, pattern := range g.allowList {
		if matchPath(pattern, path) {
			return true
		}
	}
	return false
}

// matchPath matches a request path against an allow-list entry. Plain
// entries match as prefixes; entries containing "*" are compared segment by
// segment, with "*" standing in for exactly one segment, so
// "/tenants/*/limits" covers "/tenants/t1/limits" but not
// "/tenants/t1/usage".
func matchPath(pattern, path string) bool {
	if !strings.Contains(pattern, "*") {
		return strings.HasPrefix(path, pattern)
	}
	want := strings.Split(strings.Trim(pattern, "/"), "/")
	got := strings.Split(strings.Trim(path, "/"), "/")
	if len(got) < len(want) {
		return false
	}
	for i, seg := range want {
		if seg != "*" && seg != got[i] {
			return false
		}
	}
	return true
}

func (g *Guard) reject(w http.ResponseWriter, flag models.ExceededFlag) {
	resetAt := period.NextMonthStart(g.now())
	w.Header().Set("Retry-After", resetAt.UTC().Format(http.TimeFormat))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.OverQuotaResponse{
		Error:     "monthly_quota_exceeded",
		Message:   "Your monthly API request quota has been reached. Upgrade your plan or wait for the next billing period.",
		MessageFr: "Votre quota mensuel de requêtes API est atteint. Mettez à niveau votre forfait ou attendez la prochaine période de facturation.",
		Limit:     flag.Limit,
		Usage:     flag.Usage,
		PeriodKey: flag.PeriodKey,
		ResetAt:   resetAt,
	})
}
