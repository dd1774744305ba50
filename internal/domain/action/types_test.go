package action

import (
	"encoding/json"
	"testing"
)

func TestComputePlanHash_StableAcrossJSONRoundTrip(t *testing.T) {
	t.Parallel()

	steps := []ActionStep{
		{StepNumber: 1, ToolName: "schedule_appointment", Parameters: map[string]any{"patient_id": "p-1", "duration_minutes": 30}},
		{StepNumber: 2, ToolName: "send_appointment_reminder", Parameters: map[string]any{"channel": "sms"},
			RollbackProcedure: &RollbackProcedure{ToolName: "cancel_appointment"}},
	}
	before := ComputePlanHash(steps)

	b, err := json.Marshal(steps)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded []ActionStep
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if after := ComputePlanHash(decoded); after != before {
		t.Errorf("hash changed across round trip: %s vs %s", before, after)
	}
}

func TestComputePlanHash_Sensitivity(t *testing.T) {
	t.Parallel()

	base := []ActionStep{
		{StepNumber: 1, ToolName: "a", Parameters: map[string]any{"x": 1}},
		{StepNumber: 2, ToolName: "b"},
	}
	reordered := []ActionStep{base[1], base[0]}
	changedParam := []ActionStep{
		{StepNumber: 1, ToolName: "a", Parameters: map[string]any{"x": 2}},
		base[1],
	}

	h := ComputePlanHash(base)
	if h == ComputePlanHash(reordered) {
		t.Error("reordering steps did not change the hash")
	}
	if h == ComputePlanHash(changedParam) {
		t.Error("changing a parameter did not change the hash")
	}
	if len(h) != 64 {
		t.Errorf("len(hash) = %d, want 64 hex chars", len(h))
	}
}

func TestDeriveIdempotencyKey(t *testing.T) {
	t.Parallel()

	k := DeriveIdempotencyKey("h", "t1", "u1")
	if k != DeriveIdempotencyKey("h", "t1", "u1") {
		t.Error("key is not deterministic")
	}
	if k == DeriveIdempotencyKey("h", "t2", "u1") || k == DeriveIdempotencyKey("h", "t1", "u2") {
		t.Error("key does not depend on tenant and user")
	}
}

func TestActionPlan_ContentHashIgnoresMetadata(t *testing.T) {
	t.Parallel()

	p := ActionPlan{PlanID: "a", TenantID: "t", Steps: []ActionStep{{StepNumber: 1, ToolName: "x"}}}
	q := p
	q.PlanID = "b"
	q.RequiresApproval = true
	if p.ContentHash() != q.ContentHash() {
		t.Error("plan metadata changed the content hash")
	}

	p.PlanHash = p.ContentHash()
	if err := p.Validate(); err != nil {
		t.Errorf("Validate with matching hash: %v", err)
	}
}

func TestPhase_Allows(t *testing.T) {
	t.Parallel()

	if PhaseShadow.Allows("execute") || PhasePilot.Allows("execute") {
		t.Error("execute allowed before production")
	}
	if !PhaseProduction.Allows("execute") {
		t.Error("execute not allowed in production")
	}
	for _, p := range []Phase{PhaseShadow, PhasePilot, PhaseProduction} {
		if !p.Allows("simulate") {
			t.Errorf("simulate not allowed in %s", p)
		}
	}
	if Phase("beta").IsValid() {
		t.Error("unknown phase reported valid")
	}
}
