package admin

import (
	"net/http"

	"github.com/clinicore/actiongate/internal/domain/killswitch"
)

// activateRequest is the body of every kill switch activation.
type activateRequest struct {
	ActivatedBy string `json:"activated_by"`
	Reason      string `json:"reason"`
}

// deactivateRequest is the optional body of a deactivation.
type deactivateRequest struct {
	DeactivatedBy string `json:"deactivated_by"`
}

type killSwitchListResponse struct {
	AnyActive bool               `json:"any_active"`
	Active    []killswitch.State `json:"active"`
}

type deactivateResponse struct {
	Deactivated bool `json:"deactivated"`
}

type checkResponse struct {
	Blocked bool              `json:"blocked"`
	State   *killswitch.State `json:"state,omitempty"`
}

func (h *AdminAPIHandler) requireKillSwitch(w http.ResponseWriter) bool {
	if h.killSwitch == nil {
		h.respondError(w, http.StatusNotFound, "kill switch not configured")
		return false
	}
	return true
}

// readActivation decodes and checks an activation body. Both fields are
// required so every stop is attributable.
func (h *AdminAPIHandler) readActivation(w http.ResponseWriter, r *http.Request) (activateRequest, bool) {
	var req activateRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return req, false
	}
	if req.ActivatedBy == "" || req.Reason == "" {
		h.respondError(w, http.StatusBadRequest, "activated_by and reason are required")
		return req, false
	}
	return req, true
}

func (h *AdminAPIHandler) readDeactivator(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req deactivateRequest
	if err := h.readOptionalJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return "", false
	}
	if req.DeactivatedBy == "" {
		req.DeactivatedBy = "admin-api"
	}
	return req.DeactivatedBy, true
}

// handleListKillSwitches lists every active stop.
// GET /admin/api/v1/killswitch
func (h *AdminAPIHandler) handleListKillSwitches(w http.ResponseWriter, r *http.Request) {
	if !h.requireKillSwitch(w) {
		return
	}
	active := h.killSwitch.GetAllActive()
	if active == nil {
		active = []killswitch.State{}
	}
	h.respondJSON(w, http.StatusOK, killSwitchListResponse{AnyActive: len(active) > 0, Active: active})
}

// handleCheckKillSwitch reports whether a tenant/capability pair is blocked.
// GET /admin/api/v1/killswitch/check?tenant_id=&capability=
func (h *AdminAPIHandler) handleCheckKillSwitch(w http.ResponseWriter, r *http.Request) {
	if !h.requireKillSwitch(w) {
		return
	}
	q := r.URL.Query()
	state, blocked := h.killSwitch.Check(q.Get("tenant_id"), q.Get("capability"))
	resp := checkResponse{Blocked: blocked}
	if blocked {
		resp.State = &state
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// handleActivateGlobal stops every tenant.
// POST /admin/api/v1/killswitch/global
func (h *AdminAPIHandler) handleActivateGlobal(w http.ResponseWriter, r *http.Request) {
	if !h.requireKillSwitch(w) {
		return
	}
	req, ok := h.readActivation(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, h.killSwitch.ActivateGlobal(req.ActivatedBy, req.Reason))
}

// handleDeactivateGlobal lifts the global stop.
// DELETE /admin/api/v1/killswitch/global
func (h *AdminAPIHandler) handleDeactivateGlobal(w http.ResponseWriter, r *http.Request) {
	if !h.requireKillSwitch(w) {
		return
	}
	by, ok := h.readDeactivator(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, deactivateResponse{Deactivated: h.killSwitch.DeactivateGlobal(by)})
}

// handleActivateTenant stops one tenant.
// POST /admin/api/v1/killswitch/tenants/{id}
func (h *AdminAPIHandler) handleActivateTenant(w http.ResponseWriter, r *http.Request) {
	if !h.requireKillSwitch(w) {
		return
	}
	req, ok := h.readActivation(w, r)
	if !ok {
		return
	}
	state, err := h.killSwitch.ActivateTenant(h.pathParam(r, "id"), req.ActivatedBy, req.Reason)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, state)
}

// handleDeactivateTenant lifts a tenant stop.
// DELETE /admin/api/v1/killswitch/tenants/{id}
func (h *AdminAPIHandler) handleDeactivateTenant(w http.ResponseWriter, r *http.Request) {
	if !h.requireKillSwitch(w) {
		return
	}
	by, ok := h.readDeactivator(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, deactivateResponse{Deactivated: h.killSwitch.DeactivateTenant(h.pathParam(r, "id"), by)})
}

// handleActivateCapability stops one capability for every tenant.
// POST /admin/api/v1/killswitch/capabilities/{cap}
func (h *AdminAPIHandler) handleActivateCapability(w http.ResponseWriter, r *http.Request) {
	if !h.requireKillSwitch(w) {
		return
	}
	req, ok := h.readActivation(w, r)
	if !ok {
		return
	}
	state, err := h.killSwitch.ActivateCapability(h.pathParam(r, "cap"), req.ActivatedBy, req.Reason)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, state)
}

// handleDeactivateCapability lifts a capability stop.
// DELETE /admin/api/v1/killswitch/capabilities/{cap}
func (h *AdminAPIHandler) handleDeactivateCapability(w http.ResponseWriter, r *http.Request) {
	if !h.requireKillSwitch(w) {
		return
	}
	by, ok := h.readDeactivator(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, deactivateResponse{Deactivated: h.killSwitch.DeactivateCapability(h.pathParam(r, "cap"), by)})
}

// handleDeactivateAll lifts every stop.
// DELETE /admin/api/v1/killswitch
func (h *AdminAPIHandler) handleDeactivateAll(w http.ResponseWriter, r *http.Request) {
	if !h.requireKillSwitch(w) {
		return
	}
	by, ok := h.readDeactivator(w, r)
	if !ok {
		return
	}
	h.killSwitch.DeactivateAll(by)
	h.respondJSON(w, http.StatusOK, killSwitchListResponse{Active: []killswitch.State{}})
}
