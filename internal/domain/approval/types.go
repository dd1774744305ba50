package approval

import (
	"errors"
	"time"

	"github.com/clinicore/actiongate/internal/domain/tool"
)

// Status is the approval state of one action.
type Status string

const (
	StatusPending      Status = "PENDING_APPROVAL"
	StatusApproved     Status = "APPROVED"
	StatusRejected     Status = "REJECTED"
	StatusAutoApproved Status = "AUTO_APPROVED"
)

// ErrorType discriminates why a token failed validation.
type ErrorType string

const (
	ErrorTypeNone             ErrorType = ""
	ErrorTypeAlreadyUsed      ErrorType = "already_used"
	ErrorTypeExpired          ErrorType = "expired"
	ErrorTypeInvalidSignature ErrorType = "invalid_signature"
	ErrorTypePlanDrift        ErrorType = "plan_drift"
	ErrorTypeActionMismatch   ErrorType = "action_mismatch"
	ErrorTypeMalformed        ErrorType = "malformed"
	ErrorTypeNotPending       ErrorType = "not_pending"
)

// Gate errors for programmer mistakes; token problems never error.
var (
	ErrUnknownAction   = errors.New("unknown action")
	ErrDuplicateAction = errors.New("action already evaluated")
	ErrNotPending      = errors.New("action is not pending approval")
)

// Plan is anything with a deterministic content hash.
type Plan interface {
	ContentHash() string
}

// ValidationResult is the outcome of a token check.
type ValidationResult struct {
	Valid     bool      `json:"valid"`
	ErrorType ErrorType `json:"error_type,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Decision is what the gate returns from Evaluate, Approve and Reject.
type Decision struct {
	ActionID         string         `json:"action_id"`
	Status           Status         `json:"status"`
	RequiresApproval bool           `json:"requires_approval"`
	RiskLevel        tool.RiskLevel `json:"risk_level,omitempty"`
	Token            *Token         `json:"-"`
	EncodedToken     string         `json:"token,omitempty"`
	ApprovedBy       string         `json:"approved_by,omitempty"`
	RejectedBy       string         `json:"rejected_by,omitempty"`
	Reason           string         `json:"reason,omitempty"`
	ErrorType        ErrorType      `json:"error_type,omitempty"`
}

// PendingApproval is one queued item awaiting a human decision.
type PendingApproval struct {
	ActionID    string         `json:"action_id"`
	TenantID    string         `json:"tenant_id"`
	RequestedBy string         `json:"requested_by"`
	RiskLevel   tool.RiskLevel `json:"risk_level"`
	PlanHash    string         `json:"plan_hash"`
	TokenID     string         `json:"token_id"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
}

// Record is the full audit view of one action's approval history.
type Record struct {
	ActionID    string         `json:"action_id"`
	TenantID    string         `json:"tenant_id"`
	RequestedBy string         `json:"requested_by"`
	RiskLevel   tool.RiskLevel `json:"risk_level"`
	PlanHash    string         `json:"plan_hash"`
	Status      Status         `json:"status"`
	TokenID     string         `json:"token_id,omitempty"`
	ApprovedBy  string         `json:"approved_by,omitempty"`
	RejectedBy  string         `json:"rejected_by,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at,omitempty"`
	DecidedAt   time.Time      `json:"decided_at,omitempty"`
}

// RequiresApproval is true only for high and critical risk.
func RequiresApproval(risk tool.RiskLevel) bool {
	return risk == tool.RiskLevelHigh || risk == tool.RiskLevelCritical
}
