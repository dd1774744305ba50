package admin

import (
	"net/http"

	"github.com/clinicore/actiongate/internal/domain/tool"
)

// toolResponse is a catalog entry as operators see it.
type toolResponse struct {
	tool.Definition
	Allowed bool `json:"allowed"`
	// InferredRisk is the name-based guess; it differs from risk_level when a
	// declaration looks understated.
	InferredRisk tool.RiskLevel `json:"inferred_risk"`
}

type allowlistRequest struct {
	Allowed *bool `json:"allowed"`
}

func (h *AdminAPIHandler) toToolResponse(def tool.Definition) toolResponse {
	return toolResponse{
		Definition:   def,
		Allowed:      h.tools.IsAllowed(def.ID),
		InferredRisk: tool.InferRiskLevel(def.ID),
	}
}

// handleListTools returns every registered tool, sorted by id.
// GET /admin/api/v1/tools
func (h *AdminAPIHandler) handleListTools(w http.ResponseWriter, r *http.Request) {
	if h.tools == nil {
		h.respondJSON(w, http.StatusOK, []toolResponse{})
		return
	}
	defs := h.tools.List()
	out := make([]toolResponse, len(defs))
	for i, def := range defs {
		out[i] = h.toToolResponse(def)
	}
	h.respondJSON(w, http.StatusOK, out)
}

// handleGetTool returns one tool.
// GET /admin/api/v1/tools/{id}
func (h *AdminAPIHandler) handleGetTool(w http.ResponseWriter, r *http.Request) {
	if h.tools == nil {
		h.respondError(w, http.StatusNotFound, "tool not found")
		return
	}
	def, ok := h.tools.Get(h.pathParam(r, "id"))
	if !ok {
		h.respondError(w, http.StatusNotFound, "tool not found")
		return
	}
	h.respondJSON(w, http.StatusOK, h.toToolResponse(def))
}

// handleSetAllowlist adds a registered tool to, or removes it from, the
// allowlist.
// PUT /admin/api/v1/tools/{id}/allowlist
func (h *AdminAPIHandler) handleSetAllowlist(w http.ResponseWriter, r *http.Request) {
	if h.tools == nil {
		h.respondError(w, http.StatusNotFound, "tool not found")
		return
	}
	id := h.pathParam(r, "id")
	def, ok := h.tools.Get(id)
	if !ok {
		h.respondError(w, http.StatusNotFound, "tool not found")
		return
	}
	var req allowlistRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Allowed == nil {
		h.respondError(w, http.StatusBadRequest, "allowed is required")
		return
	}
	h.tools.SetAllowed(id, *req.Allowed)
	h.respondJSON(w, http.StatusOK, h.toToolResponse(def))
}
