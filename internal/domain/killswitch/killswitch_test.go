package killswitch

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/clinicore/actiongate/internal/clock"
)

func TestKillSwitch_NothingActive(t *testing.T) {
	t.Parallel()

	k := New()
	if _, blocked := k.Check("tenant-1", "ai_actions"); blocked {
		t.Error("fresh kill switch should not block")
	}
	if k.IsAnyActive() {
		t.Error("IsAnyActive() should be false")
	}
	if err := k.RequireNotBlocked("tenant-1", "ai_actions"); err != nil {
		t.Errorf("RequireNotBlocked() = %v, want nil", err)
	}
	if got := k.GetAllActive(); len(got) != 0 {
		t.Errorf("GetAllActive() = %v, want empty", got)
	}
}

func TestKillSwitch_GlobalBlocksEverything(t *testing.T) {
	t.Parallel()

	k := New()
	k.ActivateGlobal("ops@clinic", "data breach drill")

	queries := []struct{ tenant, capability string }{
		{"", ""},
		{"tenant-1", ""},
		{"tenant-2", "ai_actions"},
		{"", "ocr"},
	}
	for _, q := range queries {
		st, blocked := k.Check(q.tenant, q.capability)
		if !blocked {
			t.Errorf("Check(%q, %q) not blocked under global stop", q.tenant, q.capability)
			continue
		}
		if st.Scope != ScopeGlobal {
			t.Errorf("Check(%q, %q) scope = %s, want global", q.tenant, q.capability, st.Scope)
		}
	}
}

func TestKillSwitch_TenantIsolation(t *testing.T) {
	t.Parallel()

	k := New()
	if _, err := k.ActivateTenant("tenant-1", "ops", "billing dispute"); err != nil {
		t.Fatal(err)
	}

	st, blocked := k.Check("tenant-1", "ai_actions")
	if !blocked || st.Scope != ScopeTenant || st.TargetID != "tenant-1" {
		t.Errorf("tenant-1 should be blocked by its tenant stop, got %+v blocked=%v", st, blocked)
	}
	if _, blocked := k.Check("tenant-2", "ai_actions"); blocked {
		t.Error("tenant-2 must not be blocked by tenant-1's stop")
	}
}

func TestKillSwitch_CapabilityAllPropagates(t *testing.T) {
	t.Parallel()

	k := New()
	if _, err := k.ActivateCapability(CapabilityAll, "ops", "model regression"); err != nil {
		t.Fatal(err)
	}

	for _, capability := range []string{"read", "config", "notification", "admin"} {
		st, blocked := k.Check("tenant-1", capability)
		if !blocked {
			t.Errorf("capability %q should be blocked by ALL", capability)
		}
		if st.TargetID != CapabilityAll {
			t.Errorf("capability %q blocked by %q, want ALL", capability, st.TargetID)
		}
	}
	if _, blocked := k.Check("tenant-1", ""); blocked {
		t.Error("a check without capability should not be blocked by a capability stop")
	}
}

func TestKillSwitch_SingleCapability(t *testing.T) {
	t.Parallel()

	k := New()
	if _, err := k.ActivateCapability("notification", "ops", "sms provider outage"); err != nil {
		t.Fatal(err)
	}
	if _, blocked := k.Check("tenant-1", "notification"); !blocked {
		t.Error("notification should be blocked")
	}
	if _, blocked := k.Check("tenant-1", "read"); blocked {
		t.Error("read should not be blocked")
	}
}

func TestKillSwitch_Priority(t *testing.T) {
	t.Parallel()

	k := New()
	_, _ = k.ActivateCapability("config", "ops", "capability reason")
	_, _ = k.ActivateTenant("tenant-1", "ops", "tenant reason")

	st, _ := k.Check("tenant-1", "config")
	if st.Scope != ScopeTenant || st.Reason != "tenant reason" {
		t.Errorf("tenant stop should win over capability stop, got %+v", st)
	}

	k.ActivateGlobal("ops", "global reason")
	st, _ = k.Check("tenant-1", "config")
	if st.Scope != ScopeGlobal || st.Reason != "global reason" {
		t.Errorf("global stop should win, got %+v", st)
	}

	k.DeactivateGlobal("ops")
	st, _ = k.Check("tenant-2", "config")
	if st.Scope != ScopeCapability {
		t.Errorf("tenant-2 should fall through to capability stop, got %+v", st)
	}
}

func TestKillSwitch_RequireNotBlocked_TypedError(t *testing.T) {
	t.Parallel()

	k := New()
	_, _ = k.ActivateTenant("tenant-9", "ops", "suspicious volume")

	err := k.RequireNotBlocked("tenant-9", "config")
	var blocked *BlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected *BlockedError, got %v", err)
	}
	if !errors.Is(err, ErrBlocked) {
		t.Error("error should match ErrBlocked")
	}
	if blocked.Scope != ScopeTenant || blocked.TargetID != "tenant-9" || blocked.Reason != "suspicious volume" {
		t.Errorf("BlockedError = %+v", blocked)
	}
}

func TestKillSwitch_Deactivate(t *testing.T) {
	t.Parallel()

	k := New()
	_, _ = k.ActivateTenant("tenant-1", "ops", "r")
	_, _ = k.ActivateCapability("ocr", "ops", "r")

	if !k.DeactivateTenant("tenant-1", "ops") {
		t.Error("DeactivateTenant should report it was active")
	}
	if k.DeactivateTenant("tenant-1", "ops") {
		t.Error("second DeactivateTenant should report false")
	}
	if !k.DeactivateCapability("ocr", "ops") {
		t.Error("DeactivateCapability should report it was active")
	}
	if k.DeactivateGlobal("ops") {
		t.Error("DeactivateGlobal on inactive switch should report false")
	}
	if k.IsAnyActive() {
		t.Error("nothing should be active")
	}
}

func TestKillSwitch_ActivateRequiresTarget(t *testing.T) {
	t.Parallel()

	k := New()
	if _, err := k.ActivateTenant("", "ops", "r"); err == nil {
		t.Error("expected error for empty tenant")
	}
	if _, err := k.ActivateCapability("", "ops", "r"); err == nil {
		t.Error("expected error for empty capability")
	}
}

func TestKillSwitch_BulkOperations(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	k := New(WithClock(clock.NewManual(now)))

	k.ActivateGlobal("ops", "g")
	_, _ = k.ActivateTenant("tenant-b", "ops", "t")
	_, _ = k.ActivateTenant("tenant-a", "ops", "t")
	_, _ = k.ActivateCapability("ocr", "ops", "c")

	active := k.GetAllActive()
	if len(active) != 4 {
		t.Fatalf("GetAllActive() len = %d, want 4", len(active))
	}
	if active[0].Scope != ScopeGlobal {
		t.Errorf("first active state should be global, got %s", active[0].Scope)
	}
	if active[1].TargetID != "tenant-a" || active[2].TargetID != "tenant-b" {
		t.Errorf("tenants not ordered: %s, %s", active[1].TargetID, active[2].TargetID)
	}
	if !active[3].ActivatedAt.Equal(now) {
		t.Errorf("ActivatedAt = %v, want %v", active[3].ActivatedAt, now)
	}

	// Mutating the returned copy must not affect internal state.
	active[0].Active = false
	if _, blocked := k.Check("", ""); !blocked {
		t.Error("returned states must be copies")
	}

	k.DeactivateAll("ops")
	if k.IsAnyActive() {
		t.Error("IsAnyActive() should be false after DeactivateAll")
	}
	if len(k.GetAllActive()) != 0 {
		t.Error("GetAllActive() should be empty after DeactivateAll")
	}
}

func TestKillSwitch_FailureThreshold(t *testing.T) {
	t.Parallel()

	mc := clock.NewManual(time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC))
	k := New(WithClock(mc), WithFailureThreshold(3, 10*time.Minute))

	if k.RecordFailure("tenant-1") || k.RecordFailure("tenant-1") {
		t.Fatal("should not trip before threshold")
	}
	if !k.RecordFailure("tenant-1") {
		t.Fatal("third failure should trip the tenant switch")
	}

	st, blocked := k.Check("tenant-1", "")
	if !blocked {
		t.Fatal("tenant should be blocked after tripping")
	}
	if st.ActivatedBy != FailureThresholdActor {
		t.Errorf("ActivatedBy = %q, want %q", st.ActivatedBy, FailureThresholdActor)
	}
	if _, blocked := k.Check("tenant-2", ""); blocked {
		t.Error("other tenants must not be affected")
	}
}

func TestKillSwitch_FailureThreshold_WindowExpires(t *testing.T) {
	t.Parallel()

	mc := clock.NewManual(time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC))
	k := New(WithClock(mc), WithFailureThreshold(2, time.Minute))

	k.RecordFailure("tenant-1")
	mc.Advance(2 * time.Minute)
	if k.RecordFailure("tenant-1") {
		t.Error("old failure outside the window should not count")
	}
	if k.IsAnyActive() {
		t.Error("nothing should be active")
	}
}

func TestKillSwitch_FailureThreshold_Disabled(t *testing.T) {
	t.Parallel()

	k := New()
	for i := 0; i < 100; i++ {
		if k.RecordFailure("tenant-1") {
			t.Fatal("threshold disabled, should never trip")
		}
	}
}

func TestKillSwitch_Concurrent(t *testing.T) {
	t.Parallel()

	k := New(WithFailureThreshold(50, time.Hour))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(4)
		tenant := fmt.Sprintf("tenant-%d", i%5)
		go func() {
			defer wg.Done()
			_, _ = k.ActivateTenant(tenant, "ops", "load")
		}()
		go func() {
			defer wg.Done()
			_ = k.RequireNotBlocked(tenant, "config")
		}()
		go func() {
			defer wg.Done()
			k.RecordFailure("tenant-x")
		}()
		go func() {
			defer wg.Done()
			_ = k.GetAllActive()
			_ = k.IsAnyActive()
		}()
	}
	wg.Wait()

	if _, blocked := k.Check("tenant-x", ""); !blocked {
		t.Error("tenant-x should have tripped after 50 failures")
	}
}
