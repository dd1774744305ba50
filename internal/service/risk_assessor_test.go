package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clinicore/actiongate/internal/adapter/outbound/cel"
	"github.com/clinicore/actiongate/internal/clock"
	"github.com/clinicore/actiongate/internal/domain/action"
	"github.com/clinicore/actiongate/internal/domain/tool"
	"github.com/clinicore/actiongate/internal/port/outbound"
)

type failingRules struct{}

func (failingRules) Escalations(context.Context, outbound.RiskFacts) ([]outbound.RiskEscalation, error) {
	return nil, errors.New("no such key: reason")
}

func TestRiskAssessor_BaseLevel(t *testing.T) {
	t.Parallel()
	reg := newTestCatalog(t, &calls{})
	a := NewRiskAssessor(reg, nil, nil, discard)

	flagged := testPlan("p", "read_chart")
	flagged.RequiresApproval = true

	tests := []struct {
		name string
		plan func() *action.ActionPlan
		want tool.RiskLevel
	}{
		{"read only", func() *action.ActionPlan { return testPlan("p", "read_chart") }, tool.RiskLevelLow},
		{"max of steps", func() *action.ActionPlan { return testPlan("p", "read_chart", "flag_device", "book_slot") }, tool.RiskLevelHigh},
		{"critical tool", func() *action.ActionPlan { return testPlan("p", "void_bill") }, tool.RiskLevelCritical},
		{"unknown tool", func() *action.ActionPlan { return testPlan("p", "drop_tables") }, tool.RiskLevelCritical},
		{"plan flag", func() *action.ActionPlan { return flagged }, tool.RiskLevelHigh},
	}
	for _, tt := range tests {
		got := a.Assess(context.Background(), tt.plan())
		if got.Level != tt.want {
			t.Errorf("%s: Level = %s, want %s (reasons %v)", tt.name, got.Level, tt.want, got.Reasons)
		}
		if got.BaseLevel != got.Level {
			t.Errorf("%s: BaseLevel = %s, want %s without rules", tt.name, got.BaseLevel, got.Level)
		}
	}
}

func TestRiskAssessor_CELEscalation(t *testing.T) {
	t.Parallel()
	reg := newTestCatalog(t, &calls{})
	rules, err := cel.NewRuleSet([]cel.Rule{
		{Name: "bulk-booking", Level: tool.RiskLevelHigh,
			Condition: `tools.filter(t, t == "book_slot").size() >= 3`},
		{Name: "night-shift", Level: tool.RiskLevelCritical,
			Condition: `"config" in categories && request_time.getHours("UTC") < 6`},
	}, discard)
	if err != nil {
		t.Fatalf("NewRuleSet: %v", err)
	}
	mc := clock.NewManual(time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC))
	a := NewRiskAssessor(reg, rules, mc, discard)

	got := a.Assess(context.Background(), testPlan("p", "book_slot", "book_slot", "book_slot"))
	if got.BaseLevel != tool.RiskLevelMedium || got.Level != tool.RiskLevelHigh {
		t.Fatalf("Assess = %+v, want medium raised to high", got)
	}
	if len(got.Escalations) != 1 || got.Escalations[0].Rule != "bulk-booking" {
		t.Errorf("Escalations = %+v", got.Escalations)
	}

	mc.Set(time.Date(2026, 5, 5, 3, 0, 0, 0, time.UTC))
	got = a.Assess(context.Background(), testPlan("p", "book_slot"))
	if got.Level != tool.RiskLevelCritical {
		t.Errorf("night booking Level = %s, want critical", got.Level)
	}

	got = a.Assess(context.Background(), testPlan("p", "read_chart"))
	if got.Level != tool.RiskLevelLow || len(got.Escalations) != 0 {
		t.Errorf("night read = %+v, want low without escalation", got)
	}
}

func TestRiskAssessor_RuleErrorFailsClosed(t *testing.T) {
	t.Parallel()
	reg := newTestCatalog(t, &calls{})
	a := NewRiskAssessor(reg, failingRules{}, nil, discard)

	got := a.Assess(context.Background(), testPlan("p", "read_chart"))
	if got.Level != tool.RiskLevelCritical {
		t.Errorf("Level = %s, want critical on rule failure", got.Level)
	}
	if got.BaseLevel != tool.RiskLevelLow {
		t.Errorf("BaseLevel = %s, want low", got.BaseLevel)
	}
}
