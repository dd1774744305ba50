package tool

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors matched by the typed control-plane errors below.
var (
	ErrToolNotAllowed = errors.New("tool not allowed")
	ErrToolNotFound   = errors.New("tool not found")
	ErrSchemaDrift    = errors.New("tool schema drift")
	ErrValidation     = errors.New("tool parameter validation failed")
)

// NotAllowedError is returned when a tool is not on the allowlist.
type NotAllowedError struct {
	ToolID string
}

func (e *NotAllowedError) Error() string {
	return fmt.Sprintf("tool %q is not allowlisted", e.ToolID)
}

// Is reports whether target is ErrToolNotAllowed.
func (e *NotAllowedError) Is(target error) bool { return target == ErrToolNotAllowed }

// NotFoundError is returned when an allowlisted tool id has no registration.
type NotFoundError struct {
	ToolID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tool %q is not registered", e.ToolID)
}

// Is reports whether target is ErrToolNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrToolNotFound }

// SchemaDriftError is returned when the caller pinned a schema version that
// no longer matches the live definition.
type SchemaDriftError struct {
	ToolID   string
	Expected string
	Actual   string
}

func (e *SchemaDriftError) Error() string {
	return fmt.Sprintf("tool %q schema drift: expected version %s, live version %s", e.ToolID, e.Expected, e.Actual)
}

// Is reports whether target is ErrSchemaDrift.
func (e *SchemaDriftError) Is(target error) bool { return target == ErrSchemaDrift }

// ViolationKind classifies a single parameter violation.
type ViolationKind string

const (
	ViolationMissing ViolationKind = "missing_required"
	ViolationType    ViolationKind = "type_mismatch"
	ViolationEnum    ViolationKind = "enum_violation"
	ViolationUnknown ViolationKind = "unknown_parameter"
	ViolationOther   ViolationKind = "invalid"
)

// Violation describes one invalid parameter.
type Violation struct {
	Parameter string        `json:"parameter"`
	Kind      ViolationKind `json:"kind"`
	Message   string        `json:"message"`
}

// ValidationError carries every violation found for one call.
type ValidationError struct {
	ToolID     string
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = fmt.Sprintf("%s: %s", v.Parameter, v.Message)
	}
	return fmt.Sprintf("tool %q: invalid parameters: %s", e.ToolID, strings.Join(parts, "; "))
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }
