package outbound

import (
	"context"
	"time"

	"github.com/clinicore/actiongate/internal/domain/tool"
)

// RiskStep is the view of one plan step that risk rules can inspect.
type RiskStep struct {
	ToolName   string
	Category   tool.Category
	RiskLevel  tool.RiskLevel
	Parameters map[string]any
}

// RiskFacts describes a plan to an escalation rule set.
type RiskFacts struct {
	TenantID    string
	UserID      string
	PlanID      string
	Steps       []RiskStep
	MaxRisk     tool.RiskLevel
	RequestTime time.Time
}

// RiskEscalation is a rule that matched and the level it raises the plan to.
type RiskEscalation struct {
	Rule  string
	Level tool.RiskLevel
}

// RiskRuleEvaluator returns every escalation rule that matches the facts.
type RiskRuleEvaluator interface {
	Escalations(ctx context.Context, facts RiskFacts) ([]RiskEscalation, error)
}
