package action

import (
	"time"

	"github.com/clinicore/actiongate/internal/domain/tool"
)

// ExecutionStatus is the terminal state of one ExecutePlan call.
type ExecutionStatus string

const (
	StatusIdempotentDuplicate ExecutionStatus = "IDEMPOTENT_DUPLICATE"
	StatusPhaseBlocked        ExecutionStatus = "PHASE_BLOCKED"
	StatusApprovalRequired    ExecutionStatus = "APPROVAL_REQUIRED"
	StatusSuccess             ExecutionStatus = "SUCCESS"
	StatusPartialSuccess      ExecutionStatus = "PARTIAL_SUCCESS"
	StatusFailed              ExecutionStatus = "FAILED"
	StatusRolledBack          ExecutionStatus = "ROLLED_BACK"
	StatusError               ExecutionStatus = "ERROR"
)

// Cacheable reports whether results with this status are kept for idempotency.
func (s ExecutionStatus) Cacheable() bool {
	return s == StatusSuccess || s == StatusPartialSuccess
}

// StepStatus is the outcome of a single step.
type StepStatus string

const (
	StepSucceeded  StepStatus = "succeeded"
	StepPartial    StepStatus = "partial"
	StepSkipped    StepStatus = "skipped"
	StepFailed     StepStatus = "failed"
	StepBlocked    StepStatus = "blocked"
	StepRolledBack StepStatus = "rolled_back"
)

// StepExecutionResult records one step.
type StepExecutionResult struct {
	StepNumber       int            `json:"stepNumber"`
	ToolName         string         `json:"toolName"`
	Status           StepStatus     `json:"status"`
	Success          bool           `json:"success"`
	Mode             tool.Mode      `json:"mode"`
	Data             map[string]any `json:"data,omitempty"`
	Error            string         `json:"error,omitempty"`
	ExecutionTimeMs  int64          `json:"executionTimeMs"`
	RollbackExecuted bool           `json:"rollbackExecuted"`
	RollbackError    string         `json:"rollbackError,omitempty"`
}

// ExecutionResult is the envelope returned by every ExecutePlan call and the
// unit stored in the idempotency cache.
type ExecutionResult struct {
	Status               ExecutionStatus       `json:"status"`
	PlanID               string                `json:"planId"`
	RequestID            string                `json:"requestId"`
	IdempotencyKey       string                `json:"idempotencyKey"`
	Mode                 tool.Mode             `json:"mode"`
	StepResults          []StepExecutionResult `json:"stepResults"`
	ErrorMessage         string                `json:"errorMessage,omitempty"`
	TotalExecutionTimeMs int64                 `json:"totalExecutionTimeMs"`
	ExecutedAt           time.Time             `json:"executedAt"`
	StepsSucceeded       int                   `json:"stepsSucceeded"`
	StepsFailed          int                   `json:"stepsFailed"`
	StepsRolledBack      int                   `json:"stepsRolledBack"`

	// OriginalRequestID is set on IDEMPOTENT_DUPLICATE results to the
	// request that produced the cached steps.
	OriginalRequestID string `json:"originalRequestId,omitempty"`
}

// tally recomputes the step counters. A compensated step counts as
// rolled back, not succeeded.
func (r *ExecutionResult) tally() {
	r.StepsSucceeded, r.StepsFailed, r.StepsRolledBack = 0, 0, 0
	for _, s := range r.StepResults {
		switch {
		case s.Status == StepRolledBack:
			r.StepsRolledBack++
		case s.Success:
			r.StepsSucceeded++
		default:
			r.StepsFailed++
		}
	}
}

// clone copies the result deeply enough to be cached independently.
func (r *ExecutionResult) clone() *ExecutionResult {
	out := *r
	out.StepResults = append([]StepExecutionResult(nil), r.StepResults...)
	return &out
}
