package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	meteringmodels "formgate/internal/metering/models"
	quotamodels "formgate/internal/quota/models"
	"formgate/pkg/platform/httputil"
)

// UsageReader supplies combined durable + in-flight usage statistics.
type UsageReader interface {
	Stats(ctx context.Context, tenantID string, asOf time.Time) (*meteringmodels.UsageStats, error)
}

// LimitsReader resolves a tenant's effective limits.
type LimitsReader interface {
	Limits(ctx context.Context, tenantID string) (quotamodels.TenantLimits, error)
}

type usageHandler struct {
	usage  UsageReader
	limits LimitsReader
	logger *slog.Logger
}

func newUsageHandler(usage UsageReader, limits LimitsReader, logger *slog.Logger) *usageHandler {
	return &usageHandler{usage: usage, limits: limits, logger: logger}
}

func (h *usageHandler) Register(r chi.Router) {
	r.Get("/tenants/{tenantID}/usage", h.handleUsage)
	r.Get("/tenants/{tenantID}/limits", h.handleLimits)
}

func (h *usageHandler) handleUsage(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	stats, err := h.usage.Stats(r.Context(), tenantID, time.Now().UTC())
	if err != nil {
		h.logger.Error("usage stats failed", "tenant_id", tenantID, "error", err)
		httputil.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *usageHandler) handleLimits(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	limits, err := h.limits.Limits(r.Context(), tenantID)
	if err != nil {
		h.logger.Warn("limits lookup failed", "tenant_id", tenantID, "error", err)
		httputil.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "tenant_not_found"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, limits)
}
