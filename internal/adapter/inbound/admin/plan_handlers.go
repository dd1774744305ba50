package admin

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/clinicore/actiongate/internal/domain/action"
	"github.com/clinicore/actiongate/internal/domain/tool"
	"github.com/clinicore/actiongate/internal/service"
)

type planRequest struct {
	Plan           *action.ActionPlan `json:"plan"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
}

// handleExecutePlan submits a plan for execution.
// POST /admin/api/v1/plans/execute
func (h *AdminAPIHandler) handleExecutePlan(w http.ResponseWriter, r *http.Request) {
	h.submitPlan(w, r, tool.ModeExecute)
}

// handleSimulatePlan dry-runs a plan. Nothing is committed and no approval
// is needed.
// POST /admin/api/v1/plans/simulate
func (h *AdminAPIHandler) handleSimulatePlan(w http.ResponseWriter, r *http.Request) {
	h.submitPlan(w, r, tool.ModeSimulate)
}

func (h *AdminAPIHandler) submitPlan(w http.ResponseWriter, r *http.Request, mode tool.Mode) {
	if !h.requireGovernance(w) {
		return
	}
	var req planRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	res, err := h.governance.Submit(r.Context(), req.Plan, mode, service.SubmitOptions{
		IdempotencyKey: req.IdempotencyKey,
	})
	if errors.Is(err, service.ErrInvalidPlan) {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.requestLogger(r).Error("plan submission failed", "mode", mode, "error", err)
		h.respondError(w, http.StatusInternalServerError, "plan submission failed")
		return
	}

	if res.Status == service.SubmitRateLimited && res.RetryAfterMs > 0 {
		secs := int(math.Ceil(float64(res.RetryAfterMs) / 1000))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	h.respondJSON(w, submitStatusCode(res.Status), res)
}

// submitStatusCode maps a submission outcome to its HTTP status. An executed
// plan is 200 whatever the executor reported; the body carries the detail.
func submitStatusCode(s service.SubmitStatus) int {
	switch s {
	case service.SubmitPendingApproval:
		return http.StatusAccepted
	case service.SubmitRateLimited:
		return http.StatusTooManyRequests
	case service.SubmitBlocked:
		return http.StatusLocked
	case service.SubmitRejected:
		return http.StatusConflict
	default:
		return http.StatusOK
	}
}
