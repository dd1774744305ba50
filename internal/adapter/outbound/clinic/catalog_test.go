package clinic

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/clinicore/actiongate/internal/adapter/outbound/memory"
	"github.com/clinicore/actiongate/internal/adapter/outbound/sqlite"
	"github.com/clinicore/actiongate/internal/clock"
	"github.com/clinicore/actiongate/internal/ctxkey"
	"github.com/clinicore/actiongate/internal/domain/action"
	"github.com/clinicore/actiongate/internal/domain/tool"
)

const tenant = "clinic-1"

var (
	quiet = slog.New(slog.NewTextHandler(io.Discard, nil))
	now   = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
)

// recordingNotifier captures reminders instead of sending them.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []Reminder
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, r Reminder) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, r)
	return nil
}

type fixture struct {
	db       *sqlite.DB
	registry *tool.Registry
	notifier *recordingNotifier
}

func newFixture(t *testing.T, disabled ...string) *fixture {
	t.Helper()
	db, err := sqlite.Open(sqlite.MemoryPath, quiet)
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.SeedDemo(context.Background(), tenant, now); err != nil {
		t.Fatalf("SeedDemo: %v", err)
	}

	n := &recordingNotifier{}
	c := New(db, WithNotifier(n), WithClock(clock.NewManual(now)), WithLogger(quiet))
	r := tool.NewRegistry(tool.WithLogger(quiet))
	if err := c.RegisterAll(r, disabled...); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	return &fixture{db: db, registry: r, notifier: n}
}

func tenantCtx(id string) context.Context {
	return context.WithValue(context.Background(), ctxkey.TenantIDKey{}, id)
}

func (f *fixture) run(t *testing.T, ctx context.Context, id string, params map[string]any, mode tool.Mode) *tool.ExecutionResult {
	t.Helper()
	res, err := f.registry.ExecuteTool(ctx, id, params, mode, "")
	if err != nil {
		t.Fatalf("ExecuteTool(%s): %v", id, err)
	}
	return res
}

func (f *fixture) count(t *testing.T, query string, args ...any) int {
	t.Helper()
	var n int
	if err := f.db.SQLDB().QueryRow(query, args...).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestRegisterAll_CatalogShape(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ToolVoidInvoice)

	defs := f.registry.List()
	if len(defs) != 7 {
		t.Fatalf("registered %d tools, want 7", len(defs))
	}
	if f.registry.IsAllowed(ToolVoidInvoice) {
		t.Error("disabled tool is allowlisted")
	}
	if _, err := f.registry.ExecuteTool(tenantCtx(tenant), ToolVoidInvoice, map[string]any{"invoice_id": "x", "reason": "y"}, tool.ModeExecute, ""); !errors.Is(err, tool.ErrToolNotAllowed) {
		t.Errorf("disabled tool error = %v, want ErrToolNotAllowed", err)
	}

	want := map[string]tool.RiskLevel{
		ToolGetPatientSummary:       tool.RiskLevelLow,
		ToolScheduleAppointment:     tool.RiskLevelMedium,
		ToolUpdateDeviceStatus:      tool.RiskLevelHigh,
		ToolVoidInvoice:             tool.RiskLevelCritical,
		ToolSendAppointmentReminder: tool.RiskLevelMedium,
		ToolGenerateSalesReport:     tool.RiskLevelLow,
	}
	for id, risk := range want {
		def, ok := f.registry.Get(id)
		if !ok {
			t.Fatalf("tool %s not registered", id)
		}
		if def.RiskLevel != risk {
			t.Errorf("%s risk = %s, want %s", id, def.RiskLevel, risk)
		}
		if def.SchemaHash == "" {
			t.Errorf("%s has no schema hash", id)
		}
	}
	if def, _ := f.registry.Get(ToolSendAppointmentReminder); !def.NonTransactional {
		t.Error("reminder tool not marked non-transactional")
	}
}

func TestGetPatientSummary(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res := f.run(t, tenantCtx(tenant), ToolGetPatientSummary, map[string]any{"patient_id": tenant + ":pat-001"}, tool.ModeExecute)
	if !res.Success {
		t.Fatalf("Success = false: %s", res.Error)
	}
	if res.Data["full_name"] != "Ada Moreau" || res.Data["active_devices"] != 1 || res.Data["open_invoices"] != 1 {
		t.Errorf("Data = %+v", res.Data)
	}

	// Another tenant cannot read it.
	other := f.run(t, tenantCtx("clinic-2"), ToolGetPatientSummary, map[string]any{"patient_id": tenant + ":pat-001"}, tool.ModeExecute)
	if other.Success {
		t.Error("patient visible across tenants")
	}

	noTenant := f.run(t, context.Background(), ToolGetPatientSummary, map[string]any{"patient_id": tenant + ":pat-001"}, tool.ModeExecute)
	if noTenant.Success {
		t.Error("call without tenant succeeded")
	}
}

func TestScheduleAndCancelAppointment(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := tenantCtx(tenant)

	params := map[string]any{
		"appointment_id": "appt-1",
		"patient_id":     tenant + ":pat-001",
		"starts_at":      "2026-05-10T09:00:00Z",
	}
	res := f.run(t, ctx, ToolScheduleAppointment, params, tool.ModeExecute)
	if !res.Success {
		t.Fatalf("schedule failed: %s", res.Error)
	}
	if res.Data["duration_minutes"] != 30 {
		t.Errorf("duration_minutes = %v, want default 30", res.Data["duration_minutes"])
	}

	clash := map[string]any{"patient_id": tenant + ":pat-002", "starts_at": "2026-05-10T09:00:00Z"}
	if res := f.run(t, ctx, ToolScheduleAppointment, clash, tool.ModeExecute); res.Success {
		t.Error("double booking succeeded")
	}

	if res := f.run(t, ctx, ToolCancelAppointment, map[string]any{"appointment_id": "appt-1"}, tool.ModeExecute); !res.Success {
		t.Fatalf("cancel failed: %s", res.Error)
	}
	if res := f.run(t, ctx, ToolCancelAppointment, map[string]any{"appointment_id": "appt-1"}, tool.ModeExecute); res.Success {
		t.Error("cancelling twice succeeded")
	}
	if n := f.count(t, `SELECT COUNT(*) FROM appointments WHERE status = 'cancelled'`); n != 1 {
		t.Errorf("cancelled appointments = %d, want 1", n)
	}
}

func TestScheduleAppointment_Validation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := tenantCtx(tenant)

	bad := []map[string]any{
		{"patient_id": tenant + ":pat-001", "starts_at": "tomorrow"},
		{"patient_id": "nobody", "starts_at": "2026-05-10T09:00:00Z"},
		{"patient_id": tenant + ":pat-001", "starts_at": "2026-05-10T09:00:00Z", "duration_minutes": 0},
	}
	for i, p := range bad {
		if res := f.run(t, ctx, ToolScheduleAppointment, p, tool.ModeExecute); res.Success {
			t.Errorf("case %d: succeeded", i)
		}
	}
}

func TestWriteToolsDoNotPersistInSimulateMode(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := tenantCtx(tenant)

	res := f.run(t, ctx, ToolVoidInvoice, map[string]any{"invoice_id": tenant + ":inv-001", "reason": "duplicate"}, tool.ModeSimulate)
	if !res.Success {
		t.Fatalf("simulated void failed: %s", res.Error)
	}
	if n := f.count(t, `SELECT COUNT(*) FROM invoices WHERE status = 'void'`); n != 0 {
		t.Errorf("simulated void persisted")
	}
}

func TestUpdateDeviceStatus_ReportsPrevious(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := tenantCtx(tenant)

	res := f.run(t, ctx, ToolUpdateDeviceStatus, map[string]any{"device_id": tenant + ":dev-001", "status": "repair"}, tool.ModeExecute)
	if !res.Success || res.Data["previous_status"] != "active" {
		t.Fatalf("res = %+v", res)
	}

	_, err := f.registry.ExecuteTool(ctx, ToolUpdateDeviceStatus, map[string]any{"device_id": "d", "status": "melted"}, tool.ModeExecute, "")
	var ve *tool.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("enum violation error = %v, want *tool.ValidationError", err)
	}
}

func TestVoidInvoice_OnlyIssued(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := tenantCtx(tenant)
	p := map[string]any{"invoice_id": tenant + ":inv-001", "reason": "entered twice"}

	if res := f.run(t, ctx, ToolVoidInvoice, p, tool.ModeExecute); !res.Success {
		t.Fatalf("void failed: %s", res.Error)
	}
	if res := f.run(t, ctx, ToolVoidInvoice, p, tool.ModeExecute); res.Success {
		t.Error("voiding a void invoice succeeded")
	}
}

func TestSendAppointmentReminder(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := tenantCtx(tenant)

	f.run(t, ctx, ToolScheduleAppointment, map[string]any{
		"appointment_id": "appt-r", "patient_id": tenant + ":pat-002", "starts_at": "2026-05-11T09:00:00Z",
	}, tool.ModeExecute)

	if res := f.run(t, ctx, ToolSendAppointmentReminder, map[string]any{"appointment_id": "appt-r"}, tool.ModeExecute); !res.Success {
		t.Fatalf("sms reminder failed: %s", res.Error)
	}
	if res := f.run(t, ctx, ToolSendAppointmentReminder, map[string]any{"appointment_id": "appt-r", "channel": "email"}, tool.ModeExecute); res.Success {
		t.Error("email reminder to a patient without email succeeded")
	}
	if len(f.notifier.sent) != 1 || f.notifier.sent[0].Channel != "sms" {
		t.Errorf("sent = %+v", f.notifier.sent)
	}
	if n := f.count(t, `SELECT COUNT(*) FROM reminder_log`); n != 1 {
		t.Errorf("reminder_log rows = %d, want 1", n)
	}
}

func TestGenerateSalesReport(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res := f.run(t, tenantCtx(tenant), ToolGenerateSalesReport, map[string]any{"from": "2026-05-01", "to": "2026-05-31"}, tool.ModeExecute)
	if !res.Success {
		t.Fatalf("report failed: %s", res.Error)
	}
	if res.Data["total_amount_cents"] != int64(132400) || res.Data["sales_count"] != 2 {
		t.Errorf("Data = %+v", res.Data)
	}

	if res := f.run(t, tenantCtx(tenant), ToolGenerateSalesReport, map[string]any{"from": "2026-06-01", "to": "2026-05-01"}, tool.ModeExecute); res.Success {
		t.Error("inverted range succeeded")
	}
}

func newExecutor(f *fixture) *action.Executor {
	return action.NewExecutor(f.registry, memory.NewKVStore(),
		action.WithPhase(action.PhaseProduction),
		action.WithPersistenceScope(f.db),
		action.WithLogger(quiet),
	)
}

func TestExecutor_SimulationLeavesDatabaseUntouched(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	e := newExecutor(f)

	plan := &action.ActionPlan{
		PlanID:   "sim-1",
		TenantID: tenant,
		UserID:   "agent",
		Steps: []action.ActionStep{
			{StepNumber: 1, ToolName: ToolScheduleAppointment, Parameters: map[string]any{
				"appointment_id": "appt-sim", "patient_id": tenant + ":pat-001", "starts_at": "2026-05-12T09:00:00Z",
			}},
			{StepNumber: 2, ToolName: ToolCancelAppointment, Parameters: map[string]any{"appointment_id": "appt-sim"}},
			{StepNumber: 3, ToolName: ToolSendAppointmentReminder, Parameters: map[string]any{"appointment_id": "appt-sim"}},
		},
	}
	res := e.SimulatePlan(context.Background(), plan)

	if res.Status != action.StatusPartialSuccess {
		t.Fatalf("Status = %s (%s), want PARTIAL_SUCCESS from the skipped reminder", res.Status, res.ErrorMessage)
	}
	if n := f.count(t, `SELECT COUNT(*) FROM appointments`); n != 0 {
		t.Errorf("appointments after simulation = %d, want 0", n)
	}
	if len(f.notifier.sent) != 0 {
		t.Error("simulation sent a reminder")
	}
}

func TestExecutor_FailedPlanCompensatesBooking(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	e := newExecutor(f)

	plan := &action.ActionPlan{
		PlanID:   "exec-1",
		TenantID: tenant,
		UserID:   "agent",
		Steps: []action.ActionStep{
			{StepNumber: 1, ToolName: ToolScheduleAppointment,
				Parameters: map[string]any{"appointment_id": "appt-x", "patient_id": tenant + ":pat-001", "starts_at": "2026-05-13T09:00:00Z"},
				RollbackProcedure: &action.RollbackProcedure{
					ToolName:   ToolCancelAppointment,
					Parameters: map[string]any{"appointment_id": "appt-x", "reason": "plan rolled back"},
				}},
			{StepNumber: 2, ToolName: ToolUpdateDeviceStatus, Parameters: map[string]any{"device_id": "no-such-device", "status": "repair"}},
		},
	}
	res := e.ExecutePlan(context.Background(), plan, tool.ModeExecute, action.ExecuteOptions{})

	if res.Status != action.StatusRolledBack {
		t.Fatalf("Status = %s (%s), want ROLLED_BACK", res.Status, res.ErrorMessage)
	}
	if !res.StepResults[0].RollbackExecuted {
		t.Errorf("step 1 not compensated: %+v", res.StepResults[0])
	}
	if n := f.count(t, `SELECT COUNT(*) FROM appointments WHERE id = 'appt-x' AND status = 'cancelled'`); n != 1 {
		t.Errorf("booking not cancelled by rollback")
	}
}

func TestIntParam(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   any
		want int
		ok   bool
	}{
		{30, 30, true},
		{int64(45), 45, true},
		{float64(60), 60, true},
		{1.5, 1, false},
		{"30", 0, false},
	}
	for _, tt := range tests {
		got, ok := intParam(map[string]any{"n": tt.in}, "n")
		if got != tt.want || ok != tt.ok {
			t.Errorf("intParam(%v) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
