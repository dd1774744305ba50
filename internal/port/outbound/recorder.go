package outbound

import "time"

// Stage names a latency measurement point.
type Stage string

const (
	StageInference Stage = "inference"
	StageIntent    Stage = "intent"
	StagePlanning  Stage = "planning"
	StageExecution Stage = "execution"
)

// Event names an outcome worth counting or alerting on.
type Event string

const (
	EventApprovalGranted   Event = "approval_granted"
	EventApprovalRejected  Event = "approval_rejected"
	EventAutoApproved      Event = "auto_approved"
	EventRateLimited       Event = "rate_limited"
	EventQuotaRejected     Event = "quota_rejected"
	EventKillSwitchBlocked Event = "kill_switch_blocked"
	EventPlanExecuted      Event = "plan_executed"
)

// EventRecorder receives latency and outcome events. The core only writes
// to it. outcome is a low-cardinality label such as an execution status or
// a rejection reason.
type EventRecorder interface {
	RecordLatency(stage Stage, outcome string, d time.Duration)
	RecordEvent(event Event, outcome string)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RecordLatency(Stage, string, time.Duration) {}
func (NopRecorder) RecordEvent(Event, string)                  {}

var _ EventRecorder = NopRecorder{}
