package httptransport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	abusemodels "formgate/internal/abuse/models"
	"formgate/pkg/platform/httputil"
)

// maxSubmissionBytes caps the accepted payload. Anything larger is rejected
// before the gates run.
const maxSubmissionBytes = 1 << 20

// AbuseGuard evaluates the submission gates and arms the post-success
// cooldown.
type AbuseGuard interface {
	Evaluate(ctx context.Context, sub abusemodels.Submission, settings abusemodels.FormSettings) (abusemodels.Verdict, error)
	RecordSuccess(ctx context.Context, sub abusemodels.Submission, settings abusemodels.FormSettings)
}

// RequestRecorder counts one accepted request against the tenant.
type RequestRecorder interface {
	RecordRequest(tenantID string)
}

// FormSettingsSource resolves per-form gate settings; the form entity lives
// in the wider platform, so this stays a lookup function.
type FormSettingsSource func(formID string) abusemodels.FormSettings

type submissionHandler struct {
	abuse    AbuseGuard
	recorder RequestRecorder
	settings FormSettingsSource
	logger   *slog.Logger
}

func newSubmissionHandler(abuse AbuseGuard, recorder RequestRecorder, settings FormSettingsSource, logger *slog.Logger) *submissionHandler {
	if settings == nil {
		settings = func(string) abusemodels.FormSettings { return abusemodels.FormSettings{} }
	}
	return &submissionHandler{abuse: abuse, recorder: recorder, settings: settings, logger: logger}
}

func (h *submissionHandler) Register(r chi.Router) {
	r.Post("/forms/{formID}/submissions", h.handleSubmit)
}

func (h *submissionHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	formID := chi.URLParam(r, "formID")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSubmissionBytes+1))
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable_body"})
		return
	}
	if len(body) > maxSubmissionBytes {
		httputil.WriteJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload_too_large"})
		return
	}

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_json"})
		return
	}

	sub := abusemodels.Submission{
		TenantID:       HeaderTenantResolver(r),
		FormID:         formID,
		IP:             httputil.ClientIP(r),
		UserAgent:      r.UserAgent(),
		AcceptLanguage: r.Header.Get("Accept-Language"),
		Fields:         fields,
		RawSize:        len(body),
	}
	settings := h.settings(formID)

	verdict, err := h.abuse.Evaluate(r.Context(), sub, settings)
	if err != nil {
		// Gate evaluation itself failing is not a reason to drop user data.
		h.logger.Error("abuse evaluation failed", "form_id", formID, "error", err)
		verdict = abusemodels.Allow()
	}
	if !verdict.Allowed {
		h.reject(w, verdict)
		return
	}

	if h.recorder != nil {
		h.recorder.RecordRequest(sub.TenantID)
	}
	h.abuse.RecordSuccess(r.Context(), sub, settings)
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"form_id": formID,
	})
}

// reject maps gate verdicts to responses: duplicates read as a conflict,
// everything else as rate limiting with a retry hint when one is known.
func (h *submissionHandler) reject(w http.ResponseWriter, v abusemodels.Verdict) {
	status := http.StatusTooManyRequests
	if v.Reason == abusemodels.ReasonDuplicate {
		status = http.StatusConflict
	}

	resp := map[string]any{"error": v.Reason}
	if v.RetryAfter > 0 {
		secs := int(math.Ceil(v.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		resp["retry_after_seconds"] = secs
	}
	httputil.WriteJSON(w, status, resp)
}
