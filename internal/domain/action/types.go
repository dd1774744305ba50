// Package action defines action plans and the Executor that runs them:
// at most once per idempotency key, gated by deployment phase, approval and
// kill switch, with reverse-order compensation on failure.
package action

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// RollbackProcedure names the tool call that compensates a step.
type RollbackProcedure struct {
	ToolName   string         `json:"tool_name" yaml:"tool_name"`
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// ActionStep is one tool invocation in a plan.
type ActionStep struct {
	StepNumber        int                `json:"step_number" yaml:"step_number"`
	ToolName          string             `json:"tool_name" yaml:"tool_name"`
	Parameters        map[string]any     `json:"parameters" yaml:"parameters"`
	RollbackProcedure *RollbackProcedure `json:"rollback_procedure,omitempty" yaml:"rollback_procedure,omitempty"`
}

// ActionPlan is an ordered sequence of steps proposed by an upstream planner.
type ActionPlan struct {
	PlanID             string            `json:"plan_id" yaml:"plan_id"`
	PlanHash           string            `json:"plan_hash" yaml:"plan_hash"`
	TenantID           string            `json:"tenant_id" yaml:"tenant_id"`
	UserID             string            `json:"user_id" yaml:"user_id"`
	Steps              []ActionStep      `json:"steps" yaml:"steps"`
	ToolSchemaVersions map[string]string `json:"tool_schema_versions,omitempty" yaml:"tool_schema_versions,omitempty"`
	RequiresApproval   bool              `json:"requires_approval" yaml:"requires_approval"`
}

// ComputePlanHash returns the SHA-256 of the canonical JSON encoding of the
// ordered steps. Map keys are sorted by encoding/json, and integers and
// integral floats encode identically, so a plan hashes the same before and
// after a JSON round trip.
func ComputePlanHash(steps []ActionStep) string {
	b, err := json.Marshal(steps)
	if err != nil {
		// Parameters that cannot be encoded still get a stable, distinct hash.
		b = []byte(fmt.Sprintf("%#v", steps))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ContentHash returns the hash of the plan's steps.
func (p ActionPlan) ContentHash() string {
	return ComputePlanHash(p.Steps)
}

// DeriveIdempotencyKey is the default key for a plan when the caller supplies none.
func DeriveIdempotencyKey(planHash, tenantID, userID string) string {
	sum := sha256.Sum256([]byte(planHash + ":" + tenantID + ":" + userID))
	return hex.EncodeToString(sum[:])
}

// Validate checks the structural requirements the executor relies on.
func (p *ActionPlan) Validate() error {
	if p.TenantID == "" {
		return errors.New("plan tenant_id is required")
	}
	if len(p.Steps) == 0 {
		return errors.New("plan has no steps")
	}
	for i, s := range p.Steps {
		if s.ToolName == "" {
			return fmt.Errorf("step %d: tool_name is required", i+1)
		}
		if s.RollbackProcedure != nil && s.RollbackProcedure.ToolName == "" {
			return fmt.Errorf("step %d: rollback procedure has no tool_name", i+1)
		}
	}
	if p.PlanHash != "" && p.PlanHash != p.ContentHash() {
		return fmt.Errorf("plan_hash %s does not match plan content", p.PlanHash)
	}
	return nil
}
