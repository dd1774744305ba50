package cel

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"

	"github.com/clinicore/actiongate/internal/domain/tool"
	"github.com/clinicore/actiongate/internal/port/outbound"
)

// Rule raises a plan to Level when Condition holds.
type Rule struct {
	Name      string
	Condition string
	Level     tool.RiskLevel
}

type compiledRule struct {
	Rule
	prg cel.Program
}

// RuleSet is an ordered list of compiled escalation rules.
type RuleSet struct {
	evaluator *Evaluator
	rules     []compiledRule
	logger    *slog.Logger
}

// Compile-time check that RuleSet implements outbound.RiskRuleEvaluator.
var _ outbound.RiskRuleEvaluator = (*RuleSet)(nil)

// NewRuleSet validates and compiles every rule. Any invalid rule fails the
// whole set so a typo never silently disables escalation.
func NewRuleSet(rules []Rule, logger *slog.Logger) (*RuleSet, error) {
	if logger == nil {
		logger = slog.Default()
	}
	eval, err := NewEvaluator()
	if err != nil {
		return nil, err
	}

	rs := &RuleSet{evaluator: eval, logger: logger}
	seen := make(map[string]struct{}, len(rules))
	for i, r := range rules {
		if r.Name == "" {
			return nil, fmt.Errorf("risk rule %d: name is required", i)
		}
		if _, dup := seen[r.Name]; dup {
			return nil, fmt.Errorf("risk rule %q: duplicate name", r.Name)
		}
		seen[r.Name] = struct{}{}
		if !r.Level.IsValid() {
			return nil, fmt.Errorf("risk rule %q: invalid level %q", r.Name, r.Level)
		}
		prg, err := eval.Compile(r.Condition)
		if err != nil {
			return nil, fmt.Errorf("risk rule %q: %w", r.Name, err)
		}
		rs.rules = append(rs.rules, compiledRule{Rule: r, prg: prg})
	}
	return rs, nil
}

// Len reports the number of compiled rules.
func (rs *RuleSet) Len() int { return len(rs.rules) }

// Escalations evaluates every rule and returns those that matched, in rule
// order. The first evaluation error aborts and is returned; callers decide
// whether to fail closed.
func (rs *RuleSet) Escalations(ctx context.Context, facts outbound.RiskFacts) ([]outbound.RiskEscalation, error) {
	if len(rs.rules) == 0 {
		return nil, nil
	}
	activation := BuildActivation(facts)

	var matched []outbound.RiskEscalation
	for _, r := range rs.rules {
		ok, err := rs.evaluator.Evaluate(ctx, r.prg, activation)
		if err != nil {
			return matched, fmt.Errorf("risk rule %q: %w", r.Name, err)
		}
		if !ok {
			continue
		}
		rs.logger.Debug("risk rule matched",
			"rule", r.Name,
			"level", r.Level,
			"plan_id", facts.PlanID,
			"tenant_id", facts.TenantID,
		)
		matched = append(matched, outbound.RiskEscalation{Rule: r.Name, Level: r.Level})
	}
	return matched, nil
}
