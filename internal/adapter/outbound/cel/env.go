package cel

import (
	"path/filepath"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/google/cel-go/ext"

	"github.com/clinicore/actiongate/internal/domain/tool"
	"github.com/clinicore/actiongate/internal/port/outbound"
)

// NewRiskEnvironment creates the CEL environment risk rules are compiled in.
//
// Variables:
//   - tenant_id, user_id, plan_id: string
//   - tools, categories: list(string), one entry per step in plan order
//   - step_count: int
//   - max_risk: string, max_risk_rank: int (low=0 .. critical=3, unknown -1)
//   - steps: list(map) with tool_name, category, risk_level, parameters
//   - request_time: timestamp
//
// Functions: glob(pattern, name), param(map, key), risk_rank(level).
func NewRiskEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("tenant_id", cel.StringType),
		cel.Variable("user_id", cel.StringType),
		cel.Variable("plan_id", cel.StringType),
		cel.Variable("tools", cel.ListType(cel.StringType)),
		cel.Variable("categories", cel.ListType(cel.StringType)),
		cel.Variable("step_count", cel.IntType),
		cel.Variable("max_risk", cel.StringType),
		cel.Variable("max_risk_rank", cel.IntType),
		cel.Variable("steps", cel.ListType(cel.MapType(cel.StringType, cel.DynType))),
		cel.Variable("request_time", cel.TimestampType),

		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p, _ := pattern.Value().(string)
					n, _ := name.Value().(string)
					matched, _ := filepath.Match(p, n)
					return types.Bool(matched)
				}),
			),
		),

		// param returns null instead of failing when the key is absent.
		cel.Function("param",
			cel.Overload("param_map_string",
				[]*cel.Type{cel.MapType(cel.StringType, cel.DynType), cel.StringType},
				cel.DynType,
				cel.BinaryBinding(func(mapVal, keyVal ref.Val) ref.Val {
					m, ok := mapVal.(traits.Mapper)
					if !ok {
						return types.NullValue
					}
					if v, found := m.Find(keyVal); found {
						return v
					}
					return types.NullValue
				}),
			),
		),

		cel.Function("risk_rank",
			cel.Overload("risk_rank_string",
				[]*cel.Type{cel.StringType},
				cel.IntType,
				cel.UnaryBinding(func(level ref.Val) ref.Val {
					s, _ := level.Value().(string)
					return types.Int(tool.RiskLevel(s).Rank())
				}),
			),
		),
	)
}

// BuildActivation creates the variable bindings for one plan.
func BuildActivation(facts outbound.RiskFacts) map[string]any {
	tools := make([]string, 0, len(facts.Steps))
	categories := make([]string, 0, len(facts.Steps))
	steps := make([]map[string]any, 0, len(facts.Steps))
	for _, s := range facts.Steps {
		params := s.Parameters
		if params == nil {
			params = map[string]any{}
		}
		tools = append(tools, s.ToolName)
		categories = append(categories, string(s.Category))
		steps = append(steps, map[string]any{
			"tool_name":  s.ToolName,
			"category":   string(s.Category),
			"risk_level": string(s.RiskLevel),
			"parameters": params,
		})
	}

	requestTime := facts.RequestTime
	if requestTime.IsZero() {
		requestTime = time.Now().UTC()
	}

	return map[string]any{
		"tenant_id":     facts.TenantID,
		"user_id":       facts.UserID,
		"plan_id":       facts.PlanID,
		"tools":         tools,
		"categories":    categories,
		"step_count":    int64(len(facts.Steps)),
		"max_risk":      string(facts.MaxRisk),
		"max_risk_rank": int64(facts.MaxRisk.Rank()),
		"steps":         steps,
		"request_time":  requestTime,
	}
}
