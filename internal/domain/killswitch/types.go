// Package killswitch provides the three-scope emergency stop consulted at
// every action entry point.
package killswitch

import (
	"errors"
	"fmt"
	"time"
)

// Scope is the blast radius of a kill switch.
type Scope string

const (
	ScopeGlobal     Scope = "global"
	ScopeTenant     Scope = "tenant"
	ScopeCapability Scope = "capability"
)

// CapabilityAll is the reserved capability that, when active, blocks every capability.
const CapabilityAll = "ALL"

// ErrBlocked is matched by *BlockedError.
var ErrBlocked = errors.New("kill switch active")

// State is one kill switch's activation record.
type State struct {
	Active      bool      `json:"active"`
	Scope       Scope     `json:"scope"`
	TargetID    string    `json:"target_id,omitempty"`
	ActivatedBy string    `json:"activated_by"`
	ActivatedAt time.Time `json:"activated_at"`
	Reason      string    `json:"reason"`
}

// BlockedError is returned by RequireNotBlocked.
type BlockedError struct {
	Scope    Scope
	TargetID string
	Reason   string
}

func (e *BlockedError) Error() string {
	if e.TargetID == "" {
		return fmt.Sprintf("kill switch active (scope=%s): %s", e.Scope, e.Reason)
	}
	return fmt.Sprintf("kill switch active (scope=%s, target=%s): %s", e.Scope, e.TargetID, e.Reason)
}

// Is reports whether target is ErrBlocked.
func (e *BlockedError) Is(target error) bool { return target == ErrBlocked }
