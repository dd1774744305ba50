// Package tool contains the Tool Registry: the catalog of allowlisted,
// schema-versioned operations and the only path from a proposed action to a
// real side effect.
package tool

import (
	"context"
)

// RiskLevel represents the business risk of invoking a tool.
type RiskLevel string

const (
	// RiskLevelLow indicates read-only, informational operations.
	// Examples: get_patient_summary, generate_sales_report.
	RiskLevelLow RiskLevel = "low"

	// RiskLevelMedium indicates reversible writes with a narrow blast radius.
	// Examples: schedule_appointment, send_appointment_reminder.
	RiskLevelMedium RiskLevel = "medium"

	// RiskLevelHigh indicates writes that change operational state.
	// Examples: update_device_status.
	RiskLevelHigh RiskLevel = "high"

	// RiskLevelCritical indicates destructive or financial operations.
	// Examples: void_invoice.
	RiskLevelCritical RiskLevel = "critical"
)

// IsValid returns true if the risk level is a known valid level.
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskLevelLow, RiskLevelMedium, RiskLevelHigh, RiskLevelCritical:
		return true
	default:
		return false
	}
}

// Rank orders risk levels from 0 (low) to 3 (critical). Unknown levels rank -1.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLevelLow:
		return 0
	case RiskLevelMedium:
		return 1
	case RiskLevelHigh:
		return 2
	case RiskLevelCritical:
		return 3
	default:
		return -1
	}
}

// MaxRisk returns the higher of two risk levels.
func MaxRisk(a, b RiskLevel) RiskLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Category groups tools by the kind of effect they have.
type Category string

const (
	CategoryRead         Category = "read"
	CategoryConfig       Category = "config"
	CategoryReport       Category = "report"
	CategoryNotification Category = "notification"
	CategoryAdmin        Category = "admin"
)

// IsValid returns true if the category is known.
func (c Category) IsValid() bool {
	switch c {
	case CategoryRead, CategoryConfig, CategoryReport, CategoryNotification, CategoryAdmin:
		return true
	default:
		return false
	}
}

// ParamType is the declared JSON type of a tool parameter.
type ParamType string

const (
	ParamTypeString  ParamType = "string"
	ParamTypeInteger ParamType = "integer"
	ParamTypeBoolean ParamType = "boolean"
	ParamTypeArray   ParamType = "array"
	ParamTypeObject  ParamType = "object"
)

// IsValid returns true if the parameter type is supported.
func (p ParamType) IsValid() bool {
	switch p {
	case ParamTypeString, ParamTypeInteger, ParamTypeBoolean, ParamTypeArray, ParamTypeObject:
		return true
	default:
		return false
	}
}

// Mode selects whether a call commits its effects.
type Mode string

const (
	// ModeExecute performs the real side effect.
	ModeExecute Mode = "execute"
	// ModeSimulate performs a dry run whose effects are discarded.
	ModeSimulate Mode = "simulate"
)

// IsValid returns true if the mode is known.
func (m Mode) IsValid() bool {
	return m == ModeExecute || m == ModeSimulate
}

// ParamSpec declares one tool parameter.
type ParamSpec struct {
	Name        string    `json:"name" yaml:"name"`
	Type        ParamType `json:"type" yaml:"type"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool      `json:"required" yaml:"required"`
	Default     any       `json:"default,omitempty" yaml:"default,omitempty"`
	Enum        []any     `json:"enum,omitempty" yaml:"enum,omitempty"`
}

// Definition is the published contract of a tool.
// It is immutable once registered; only its allowlist membership can change.
type Definition struct {
	ID                  string      `json:"tool_id"`
	Name                string      `json:"name"`
	Description         string      `json:"description"`
	Category            Category    `json:"category"`
	RiskLevel           RiskLevel   `json:"risk_level"`
	SchemaVersion       string      `json:"schema_version"`
	Parameters          []ParamSpec `json:"parameters"`
	Returns             string      `json:"returns,omitempty"`
	RequiresApproval    bool        `json:"requires_approval"`
	RequiresPermissions []string    `json:"requires_permissions,omitempty"`

	// NonTransactional marks tools whose effects escape the reversible
	// persistence scope (outbound messages, third-party calls). Simulate mode
	// never invokes them.
	NonTransactional bool `json:"non_transactional"`

	// SchemaHash is computed at registration; any value set by the caller is ignored.
	SchemaHash string `json:"schema_hash"`
}

// Clone returns a deep-enough copy of the definition for handing out of the registry.
func (d Definition) Clone() Definition {
	out := d
	out.Parameters = make([]ParamSpec, len(d.Parameters))
	for i, p := range d.Parameters {
		out.Parameters[i] = p
		if p.Enum != nil {
			out.Parameters[i].Enum = append([]any(nil), p.Enum...)
		}
	}
	if d.RequiresPermissions != nil {
		out.RequiresPermissions = append([]string(nil), d.RequiresPermissions...)
	}
	return out
}

// ExecutionResult is what a handler reports for one invocation.
type ExecutionResult struct {
	// Success is false for a hard failure.
	Success bool `json:"success"`
	// Partial marks a call that completed without applying everything it was asked to.
	Partial bool           `json:"partial,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
	Mode    Mode           `json:"mode"`
	// ExecutionTimeMs is always set by the registry.
	ExecutionTimeMs int64 `json:"execution_time_ms"`
}

// Handler performs the side effect of a tool.
// Returning an error is equivalent to returning a failed result.
type Handler interface {
	Handle(ctx context.Context, params map[string]any, mode Mode) (*ExecutionResult, error)
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, params map[string]any, mode Mode) (*ExecutionResult, error)

// Handle calls f(ctx, params, mode).
func (f HandlerFunc) Handle(ctx context.Context, params map[string]any, mode Mode) (*ExecutionResult, error) {
	return f(ctx, params, mode)
}

// Compile-time check.
var _ Handler = HandlerFunc(nil)
