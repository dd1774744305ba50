// Package cel evaluates risk escalation rules written in CEL against an
// action plan.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
)

// Limits on a single rule condition.
const (
	maxExpressionLength = 1024
	maxNestingDepth     = 50
	maxCostBudget       = 100_000
	evalTimeout         = 5 * time.Second
	// comprehension iterations between context checks
	interruptCheckFreq = 100
)

// Evaluator compiles rule conditions in the risk environment and runs them
// under a cost budget and a deadline.
type Evaluator struct {
	env *cel.Env
}

// NewEvaluator creates an Evaluator over NewRiskEnvironment.
func NewEvaluator() (*Evaluator, error) {
	env, err := NewRiskEnvironment()
	if err != nil {
		return nil, fmt.Errorf("risk environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Compile checks the size limits of expr, type-checks it and returns a
// program. The condition must be boolean (or dyn, checked at runtime).
func (e *Evaluator) Compile(expr string) (cel.Program, error) {
	switch {
	case expr == "":
		return nil, errors.New("expression is empty")
	case len(expr) > maxExpressionLength:
		return nil, fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if depth := nestingDepth(expr); depth > maxNestingDepth {
		return nil, fmt.Errorf("expression nesting too deep: %d levels (max %d)", depth, maxNestingDepth)
	}

	ast, iss := e.env.Compile(expr)
	if err := iss.Err(); err != nil {
		return nil, fmt.Errorf("invalid CEL expression: %w", err)
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("invalid CEL expression: must return bool, got %s", out)
	}
	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("build program: %w", err)
	}
	return prg, nil
}

// ValidateExpression reports whether expr would compile.
func (e *Evaluator) ValidateExpression(expr string) error {
	_, err := e.Compile(expr)
	return err
}

// nestingDepth is the deepest bracket nesting in expr. It does not parse
// string literals; a bracket inside quotes counts too.
func nestingDepth(expr string) int {
	depth, deepest := 0, 0
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			deepest = max(deepest, depth)
		case ')', ']', '}':
			depth--
		}
	}
	return deepest
}

// Evaluate runs prg against an activation from BuildActivation.
func (e *Evaluator) Evaluate(ctx context.Context, prg cel.Program, activation map[string]any) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	val, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}
	matched, ok := val.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition returned %T, not bool", val.Value())
	}
	return matched, nil
}
