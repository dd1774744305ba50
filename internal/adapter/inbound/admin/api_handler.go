// Package admin provides the JSON control API for operators: kill switch,
// approvals, tool allowlist and plan submission.
package admin

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/clinicore/actiongate/internal/adapter/outbound/telemetry"
	"github.com/clinicore/actiongate/internal/ctxkey"
	"github.com/clinicore/actiongate/internal/domain/killswitch"
	"github.com/clinicore/actiongate/internal/domain/ratelimit"
	"github.com/clinicore/actiongate/internal/domain/tool"
	"github.com/clinicore/actiongate/internal/service"
)

// maxBodyBytes caps request bodies; plans are small.
const maxBodyBytes = 1 << 20

// AdminAPIHandler provides JSON API endpoints for the admin interface.
type AdminAPIHandler struct {
	governance *service.GovernanceService
	killSwitch *killswitch.KillSwitch
	tools      *tool.Registry
	metrics    *telemetry.Metrics

	apiKeyHash  string
	limiter     ratelimit.RateLimiter
	clientLimit ratelimit.RateLimitConfig

	buildInfo *BuildInfo
	logger    *slog.Logger
	startTime time.Time
}

// AdminAPIOption configures an AdminAPIHandler dependency.
type AdminAPIOption func(*AdminAPIHandler)

// WithGovernanceService sets the plan submission and approval service.
func WithGovernanceService(s *service.GovernanceService) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.governance = s }
}

// WithKillSwitch sets the kill switch.
func WithKillSwitch(ks *killswitch.KillSwitch) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.killSwitch = ks }
}

// WithToolRegistry sets the tool catalog.
func WithToolRegistry(r *tool.Registry) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.tools = r }
}

// WithMetrics records request counts and durations.
func WithMetrics(m *telemetry.Metrics) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.metrics = m }
}

// WithAPIKeyHash accepts remote requests bearing a key that matches this
// argon2id hash. Empty means localhost only.
func WithAPIKeyHash(hash string) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.apiKeyHash = hash }
}

// WithClientRateLimit throttles remote callers per address.
func WithClientRateLimit(l ratelimit.RateLimiter, cfg ratelimit.RateLimitConfig) AdminAPIOption {
	return func(h *AdminAPIHandler) {
		h.limiter = l
		h.clientLimit = cfg
	}
}

// WithAPILogger sets the logger.
func WithAPILogger(l *slog.Logger) AdminAPIOption {
	return func(h *AdminAPIHandler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithBuildInfo sets the build version information.
func WithBuildInfo(info *BuildInfo) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.buildInfo = info }
}

// WithStartTime sets the server start time for uptime calculation.
func WithStartTime(t time.Time) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.startTime = t }
}

// NewAdminAPIHandler creates a new AdminAPIHandler with the given options.
func NewAdminAPIHandler(opts ...AdminAPIOption) *AdminAPIHandler {
	h := &AdminAPIHandler{
		logger:    slog.Default(),
		startTime: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns an http.Handler with all admin API routes registered.
// /health is public; everything under /admin/api/ requires localhost or a
// valid API key.
func (h *AdminAPIHandler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.handleHealth)

	protectedMux := http.NewServeMux()

	// Kill switch.
	protectedMux.HandleFunc("GET /admin/api/v1/killswitch", h.handleListKillSwitches)
	protectedMux.HandleFunc("DELETE /admin/api/v1/killswitch", h.handleDeactivateAll)
	protectedMux.HandleFunc("GET /admin/api/v1/killswitch/check", h.handleCheckKillSwitch)
	protectedMux.HandleFunc("POST /admin/api/v1/killswitch/global", h.handleActivateGlobal)
	protectedMux.HandleFunc("DELETE /admin/api/v1/killswitch/global", h.handleDeactivateGlobal)
	protectedMux.HandleFunc("POST /admin/api/v1/killswitch/tenants/{id}", h.handleActivateTenant)
	protectedMux.HandleFunc("DELETE /admin/api/v1/killswitch/tenants/{id}", h.handleDeactivateTenant)
	protectedMux.HandleFunc("POST /admin/api/v1/killswitch/capabilities/{cap}", h.handleActivateCapability)
	protectedMux.HandleFunc("DELETE /admin/api/v1/killswitch/capabilities/{cap}", h.handleDeactivateCapability)

	// Approvals.
	protectedMux.HandleFunc("GET /admin/api/v1/approvals", h.handleListApprovals)
	protectedMux.HandleFunc("GET /admin/api/v1/approvals/{id}", h.handleGetApproval)
	protectedMux.HandleFunc("POST /admin/api/v1/approvals/{id}/approve", h.handleApproveRequest)
	protectedMux.HandleFunc("POST /admin/api/v1/approvals/{id}/reject", h.handleRejectRequest)

	// Tool catalog.
	protectedMux.HandleFunc("GET /admin/api/v1/tools", h.handleListTools)
	protectedMux.HandleFunc("GET /admin/api/v1/tools/{id}", h.handleGetTool)
	protectedMux.HandleFunc("PUT /admin/api/v1/tools/{id}/allowlist", h.handleSetAllowlist)

	// Plans.
	protectedMux.HandleFunc("POST /admin/api/v1/plans/execute", h.handleExecutePlan)
	protectedMux.HandleFunc("POST /admin/api/v1/plans/simulate", h.handleSimulatePlan)

	protectedMux.HandleFunc("GET /admin/api/v1/system", h.handleSystemInfo)

	mux.Handle("/admin/api/", h.adminAuthMiddleware(protectedMux))

	var handler http.Handler = mux
	if h.limiter != nil {
		handler = h.apiRateLimitMiddleware(handler)
	}
	if h.metrics != nil {
		handler = MetricsMiddleware(h.metrics)(handler)
	}
	return securityHeadersMiddleware(handler)
}

// --- JSON helper methods ---

// respondJSON writes a JSON response with the given status code and data.
func (h *AdminAPIHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a JSON error response with the given status code and message.
func (h *AdminAPIHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// readJSON decodes the request body into v, rejecting unknown fields.
func (h *AdminAPIHandler) readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// readOptionalJSON decodes the body when there is one.
func (h *AdminAPIHandler) readOptionalJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	if err := h.readJSON(w, r, v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// requestLogger prefers the request-scoped logger set by the transport.
func (h *AdminAPIHandler) requestLogger(r *http.Request) *slog.Logger {
	if l, ok := r.Context().Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return l
	}
	return h.logger
}

// pathParam extracts a named path parameter from the request URL.
func (h *AdminAPIHandler) pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
