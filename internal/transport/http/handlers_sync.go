package httptransport

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"formgate/internal/metering/models"
	syncsvc "formgate/internal/metering/service/sync"
	"formgate/pkg/platform/httputil"
)

// syncTokenHeader authenticates the external scheduler. The value is a
// shared secret; there is no per-operator identity here.
const syncTokenHeader = "X-Sync-Token"

// Syncer triggers reconciliation passes.
type Syncer interface {
	SyncHalfDay(ctx context.Context, opts syncsvc.Options) (*models.SyncReport, error)
	RunScheduled(ctx context.Context) (*models.SyncReport, error)
}

type syncHandler struct {
	sync   Syncer
	secret string
	logger *slog.Logger
}

func newSyncHandler(sync Syncer, secret string, logger *slog.Logger) *syncHandler {
	return &syncHandler{sync: sync, secret: secret, logger: logger}
}

func (h *syncHandler) Register(r chi.Router) {
	r.Post("/internal/sync", h.handleSync)
}

// handleSync runs one pass and returns its report. `scheduled=true` runs the
// full scheduled sweep (sync + monthly reset + cache refresh); `force` and
// `include_current` map to the pass options.
func (h *syncHandler) handleSync(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		httputil.WriteJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_sync_token"})
		return
	}

	q := r.URL.Query()
	var (
		report *models.SyncReport
		err    error
	)
	if q.Get("scheduled") == "true" {
		report, err = h.sync.RunScheduled(r.Context())
	} else {
		report, err = h.sync.SyncHalfDay(r.Context(), syncsvc.Options{
			Force:          q.Get("force") == "true",
			IncludeCurrent: q.Get("include_current") == "true",
		})
	}
	if err != nil {
		h.logger.Error("sync pass failed", "error", err)
		httputil.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "sync_failed"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

// authorized compares the presented token in constant time. Hashing first
// keeps the comparison length-independent.
func (h *syncHandler) authorized(r *http.Request) bool {
	if h.secret == "" {
		return false
	}
	want := sha256.Sum256([]byte(h.secret))
	got := sha256.Sum256([]byte(r.Header.Get(syncTokenHeader)))
	return subtle.ConstantTimeCompare(want[:], got[:]) == 1
}
