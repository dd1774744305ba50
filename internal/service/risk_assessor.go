// Package service contains application services.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/clinicore/actiongate/internal/clock"
	"github.com/clinicore/actiongate/internal/domain/action"
	"github.com/clinicore/actiongate/internal/domain/tool"
	"github.com/clinicore/actiongate/internal/port/outbound"
)

// ToolCatalog resolves tool definitions by id.
type ToolCatalog interface {
	Get(toolID string) (tool.Definition, bool)
}

// RiskAssessment explains how a plan's risk level was reached.
type RiskAssessment struct {
	Level       tool.RiskLevel            `json:"level"`
	BaseLevel   tool.RiskLevel            `json:"base_level"`
	Escalations []outbound.RiskEscalation `json:"escalations,omitempty"`
	Reasons     []string                  `json:"reasons,omitempty"`
}

// RiskAssessor rates a plan: the highest declared risk of its tools, raised
// by any matching escalation rule. It fails closed: an unknown tool or a rule
// that cannot be evaluated makes the plan critical.
type RiskAssessor struct {
	tools  ToolCatalog
	rules  outbound.RiskRuleEvaluator
	clock  clock.Clock
	logger *slog.Logger
}

// NewRiskAssessor creates a RiskAssessor. rules may be nil.
func NewRiskAssessor(tools ToolCatalog, rules outbound.RiskRuleEvaluator, c clock.Clock, logger *slog.Logger) *RiskAssessor {
	if c == nil {
		c = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RiskAssessor{tools: tools, rules: rules, clock: c, logger: logger}
}

// Assess returns the risk of plan.
func (a *RiskAssessor) Assess(ctx context.Context, plan *action.ActionPlan) RiskAssessment {
	out := RiskAssessment{Level: tool.RiskLevelLow}
	facts := outbound.RiskFacts{
		TenantID:    plan.TenantID,
		UserID:      plan.UserID,
		PlanID:      plan.PlanID,
		RequestTime: a.clock.Now(),
	}

	for _, step := range plan.Steps {
		def, ok := a.tools.Get(step.ToolName)
		if !ok {
			out.Level = tool.RiskLevelCritical
			out.Reasons = append(out.Reasons, fmt.Sprintf("unknown tool %s", step.ToolName))
			facts.Steps = append(facts.Steps, outbound.RiskStep{ToolName: step.ToolName, Parameters: step.Parameters})
			continue
		}
		out.Level = tool.MaxRisk(out.Level, def.RiskLevel)
		if def.RequiresApproval {
			out.Level = tool.MaxRisk(out.Level, tool.RiskLevelHigh)
			out.Reasons = append(out.Reasons, fmt.Sprintf("tool %s requires approval", def.ID))
		}
		facts.Steps = append(facts.Steps, outbound.RiskStep{
			ToolName:   step.ToolName,
			Category:   def.Category,
			RiskLevel:  def.RiskLevel,
			Parameters: step.Parameters,
		})
	}
	if plan.RequiresApproval {
		out.Level = tool.MaxRisk(out.Level, tool.RiskLevelHigh)
		out.Reasons = append(out.Reasons, "plan requires approval")
	}
	out.BaseLevel = out.Level
	facts.MaxRisk = out.Level

	if a.rules == nil {
		return out
	}
	escalations, err := a.rules.Escalations(ctx, facts)
	if err != nil {
		a.logger.Warn("risk rule evaluation failed, treating plan as critical",
			"plan_id", plan.PlanID,
			"tenant_id", plan.TenantID,
			"error", err,
		)
		out.Level = tool.RiskLevelCritical
		out.Reasons = append(out.Reasons, "risk rules could not be evaluated")
	}
	for _, esc := range escalations {
		out.Level = tool.MaxRisk(out.Level, esc.Level)
		out.Escalations = append(out.Escalations, esc)
	}
	return out
}
