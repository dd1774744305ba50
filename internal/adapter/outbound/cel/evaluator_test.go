package cel

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/clinicore/actiongate/internal/domain/tool"
	"github.com/clinicore/actiongate/internal/port/outbound"
)

func voidFacts() outbound.RiskFacts {
	return outbound.RiskFacts{
		TenantID: "clinic-1",
		UserID:   "u-7",
		PlanID:   "plan-1",
		Steps: []outbound.RiskStep{
			{ToolName: "get_patient_summary", Category: tool.CategoryRead, RiskLevel: tool.RiskLevelLow,
				Parameters: map[string]any{"patient_id": "pat-001"}},
			{ToolName: "void_invoice", Category: tool.CategoryAdmin, RiskLevel: tool.RiskLevelCritical,
				Parameters: map[string]any{"invoice_id": "inv-001", "amount_cents": 250000}},
		},
		MaxRisk:     tool.RiskLevelCritical,
		RequestTime: time.Date(2026, 3, 2, 22, 15, 0, 0, time.UTC),
	}
}

func TestCompile_ValidExpression(t *testing.T) {
	t.Parallel()
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	prg, err := eval.Compile(`"void_invoice" in tools`)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if prg == nil {
		t.Fatal("Compile() returned nil program")
	}
}

func TestCompile_RejectsNonBool(t *testing.T) {
	t.Parallel()
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}
	if _, err := eval.Compile(`step_count + 1`); err == nil {
		t.Fatal("Compile() expected error for int expression")
	}
}

func TestValidateExpression(t *testing.T) {
	t.Parallel()
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	tests := []struct {
		name    string
		expr    string
		wantErr string
	}{
		{"membership", `"void_invoice" in tools`, ""},
		{"glob over tools", `tools.exists(t, glob("void_*", t))`, ""},
		{"param lookup", `steps.exists(s, param(s.parameters, "amount_cents") != null)`, ""},
		{"rank", `max_risk_rank >= risk_rank("high")`, ""},
		{"time", `request_time.getHours("UTC") >= 20`, ""},
		{"empty", ``, "empty"},
		{"too long", strings.Repeat("a", maxExpressionLength+1), "too long"},
		{"too deep", strings.Repeat("(", maxNestingDepth+1) + "true" + strings.Repeat(")", maxNestingDepth+1), "nesting"},
		{"unknown variable", `session_id == "x"`, "invalid CEL"},
		{"syntax", `this is not valid CEL !!!`, "invalid CEL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := eval.ValidateExpression(tt.expr)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("ValidateExpression(%q) error: %v", tt.expr, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("ValidateExpression(%q) error = %v, want containing %q", tt.expr, err, tt.wantErr)
			}
		})
	}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}
	activation := BuildActivation(voidFacts())

	tests := []struct {
		expr string
		want bool
	}{
		{`"void_invoice" in tools`, true},
		{`"update_device_status" in tools`, false},
		{`step_count == 2`, true},
		{`"admin" in categories && tenant_id == "clinic-1"`, true},
		{`steps.exists(s, s.tool_name == "void_invoice" && param(s.parameters, "amount_cents") > 100000)`, true},
		{`steps.exists(s, param(s.parameters, "missing") != null)`, false},
		{`max_risk == "critical" && max_risk_rank == 3`, true},
		{`request_time.getHours("UTC") >= 20`, true},
		{`tools.exists(t, glob("get_*", t))`, true},
		{`user_id.startsWith("svc-")`, false},
	}
	for _, tt := range tests {
		prg, err := eval.Compile(tt.expr)
		if err != nil {
			t.Fatalf("Compile(%q) error: %v", tt.expr, err)
		}
		got, err := eval.Evaluate(context.Background(), prg, activation)
		if err != nil {
			t.Fatalf("Evaluate(%q) error: %v", tt.expr, err)
		}
		if got != tt.want {
			t.Errorf("Evaluate(%q) = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestEvaluate_CanceledContext(t *testing.T) {
	t.Parallel()
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}
	prg, err := eval.Compile(`tools.all(a, tools.all(b, a != "" || b != ""))`)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}

	facts := voidFacts()
	for i := 0; i < 300; i++ {
		facts.Steps = append(facts.Steps, outbound.RiskStep{ToolName: "get_patient_summary"})
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := eval.Evaluate(ctx, prg, BuildActivation(facts)); err == nil {
		t.Fatal("Evaluate() expected error on canceled context")
	}
}

func TestBuildActivation_Defaults(t *testing.T) {
	t.Parallel()
	act := BuildActivation(outbound.RiskFacts{
		Steps: []outbound.RiskStep{{ToolName: "x"}},
	})

	steps := act["steps"].([]map[string]any)
	if params, ok := steps[0]["parameters"].(map[string]any); !ok || params == nil {
		t.Fatalf("parameters = %#v, want empty map", steps[0]["parameters"])
	}
	if ts, ok := act["request_time"].(time.Time); !ok || ts.IsZero() {
		t.Fatalf("request_time = %#v, want non-zero", act["request_time"])
	}
	if act["max_risk_rank"].(int64) != -1 {
		t.Errorf("max_risk_rank = %v, want -1", act["max_risk_rank"])
	}
}
