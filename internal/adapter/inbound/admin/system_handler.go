package admin

import (
	"net/http"
	"runtime"
	"time"
)

// BuildInfo holds build-time version information.
// Injected via WithBuildInfo so the package does not import cmd.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// SystemInfoResponse is the JSON response for GET /admin/api/v1/system.
type SystemInfoResponse struct {
	Version          string `json:"version"`
	Commit           string `json:"commit"`
	BuildDate        string `json:"build_date"`
	GoVersion        string `json:"go_version"`
	OS               string `json:"os"`
	Arch             string `json:"arch"`
	Uptime           string `json:"uptime"`
	UptimeSec        int64  `json:"uptime_seconds"`
	Tools            int    `json:"tools"`
	PendingApprovals int    `json:"pending_approvals"`
	KillSwitchActive bool   `json:"kill_switch_active"`
}

type healthResponse struct {
	Status           string `json:"status"`
	KillSwitchActive bool   `json:"kill_switch_active"`
}

// handleSystemInfo returns version, uptime and governance counters.
func (h *AdminAPIHandler) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)

	resp := SystemInfoResponse{
		Version:   "dev",
		Commit:    "none",
		BuildDate: "unknown",
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		Uptime:    uptime.Truncate(time.Second).String(),
		UptimeSec: int64(uptime.Seconds()),
	}
	if h.buildInfo != nil {
		resp.Version = h.buildInfo.Version
		resp.Commit = h.buildInfo.Commit
		resp.BuildDate = h.buildInfo.BuildDate
	}
	if h.tools != nil {
		resp.Tools = len(h.tools.List())
	}
	if h.governance != nil {
		resp.PendingApprovals = len(h.governance.PendingApprovals(""))
	}
	if h.killSwitch != nil {
		resp.KillSwitchActive = h.killSwitch.IsAnyActive()
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// handleHealth is the unauthenticated liveness check. An active stop is
// reported but does not make the process unhealthy.
func (h *AdminAPIHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if h.killSwitch != nil {
		resp.KillSwitchActive = h.killSwitch.IsAnyActive()
	}
	h.respondJSON(w, http.StatusOK, resp)
}
