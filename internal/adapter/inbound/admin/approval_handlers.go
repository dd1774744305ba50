package admin

import (
	"errors"
	"net/http"

	"github.com/clinicore/actiongate/internal/domain/action"
	"github.com/clinicore/actiongate/internal/domain/approval"
	"github.com/clinicore/actiongate/internal/domain/killswitch"
	"github.com/clinicore/actiongate/internal/service"
)

type approveRequest struct {
	ApproverID string             `json:"approver_id"`
	Token      string             `json:"token"`
	Plan       *action.ActionPlan `json:"plan,omitempty"`
}

type rejectRequest struct {
	RejectorID string `json:"rejector_id"`
	Reason     string `json:"reason"`
}

func (h *AdminAPIHandler) requireGovernance(w http.ResponseWriter) bool {
	if h.governance == nil {
		h.respondError(w, http.StatusNotFound, "governance service not configured")
		return false
	}
	return true
}

// handleListApprovals returns the pending queue, optionally for one tenant.
// GET /admin/api/v1/approvals?tenant_id=
func (h *AdminAPIHandler) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	if !h.requireGovernance(w) {
		return
	}
	pending := h.governance.PendingApprovals(r.URL.Query().Get("tenant_id"))
	if pending == nil {
		pending = []approval.PendingApproval{}
	}
	h.respondJSON(w, http.StatusOK, pending)
}

// handleGetApproval returns the approval record of one action.
// GET /admin/api/v1/approvals/{id}
func (h *AdminAPIHandler) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	if !h.requireGovernance(w) {
		return
	}
	rec, ok := h.governance.ApprovalRecord(h.pathParam(r, "id"))
	if !ok {
		h.respondError(w, http.StatusNotFound, "approval not found")
		return
	}
	h.respondJSON(w, http.StatusOK, rec)
}

// handleApproveRequest validates a token and, when it holds, runs the plan.
// A refused token is a 409 carrying the decision and its error type.
// POST /admin/api/v1/approvals/{id}/approve
func (h *AdminAPIHandler) handleApproveRequest(w http.ResponseWriter, r *http.Request) {
	if !h.requireGovernance(w) {
		return
	}
	var req approveRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.ApproverID == "" || req.Token == "" {
		h.respondError(w, http.StatusBadRequest, "approver_id and token are required")
		return
	}

	id := h.pathParam(r, "id")
	res, err := h.governance.Approve(r.Context(), id, req.ApproverID, req.Token, req.Plan)
	switch {
	case errors.Is(err, service.ErrNoPendingPlan):
		h.respondError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, killswitch.ErrBlocked):
		h.respondError(w, http.StatusLocked, err.Error())
		return
	case errors.Is(err, service.ErrExecutionNotPermitted):
		h.respondError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.requestLogger(r).Error("approve failed", "action_id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "approval failed")
		return
	}

	status := http.StatusOK
	if res.Approval.Status != approval.StatusApproved {
		status = http.StatusConflict
	}
	h.respondJSON(w, status, res)
}

// handleRejectRequest rejects a pending action with a reason.
// POST /admin/api/v1/approvals/{id}/reject
func (h *AdminAPIHandler) handleRejectRequest(w http.ResponseWriter, r *http.Request) {
	if !h.requireGovernance(w) {
		return
	}
	var req rejectRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.RejectorID == "" {
		h.respondError(w, http.StatusBadRequest, "rejector_id is required")
		return
	}

	d, err := h.governance.Reject(h.pathParam(r, "id"), req.RejectorID, req.Reason)
	switch {
	case errors.Is(err, approval.ErrUnknownAction):
		h.respondError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, approval.ErrNotPending):
		h.respondError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, d)
}
