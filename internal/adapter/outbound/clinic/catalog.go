// Package clinic is the built-in tool catalog: the CRM operations an agent
// may propose, implemented over the sqlite CRM database.
package clinic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/clinicore/actiongate/internal/adapter/outbound/sqlite"
	"github.com/clinicore/actiongate/internal/clock"
	"github.com/clinicore/actiongate/internal/ctxkey"
	"github.com/clinicore/actiongate/internal/domain/tool"
)

// Tool ids.
const (
	ToolGetPatientSummary       = "get_patient_summary"
	ToolScheduleAppointment     = "schedule_appointment"
	ToolCancelAppointment       = "cancel_appointment"
	ToolUpdateDeviceStatus      = "update_device_status"
	ToolVoidInvoice             = "void_invoice"
	ToolSendAppointmentReminder = "send_appointment_reminder"
	ToolGenerateSalesReport     = "generate_sales_report"
)

// Registrar is implemented by tool.Registry.
type Registrar interface {
	Register(def tool.Definition, handler tool.Handler, allowed bool) error
}

var _ Registrar = (*tool.Registry)(nil)

// Catalog owns the clinic tool handlers.
type Catalog struct {
	db       *sqlite.DB
	notifier Notifier
	clock    clock.Clock
	logger   *slog.Logger
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithNotifier sets where appointment reminders are sent.
func WithNotifier(n Notifier) Option {
	return func(c *Catalog) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithClock sets the clock used for timestamps.
func WithClock(cl clock.Clock) Option {
	return func(c *Catalog) {
		if cl != nil {
			c.clock = cl
		}
	}
}

// WithLogger sets the catalog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates the catalog over db.
func New(db *sqlite.DB, opts ...Option) *Catalog {
	c := &Catalog{
		db:     db,
		clock:  clock.System{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.notifier == nil {
		c.notifier = LogNotifier{Logger: c.logger}
	}
	return c
}

type entry struct {
	def     tool.Definition
	handler tool.HandlerFunc
}

func (c *Catalog) entries() []entry {
	return []entry{
		{getPatientSummaryDef, c.getPatientSummary},
		{scheduleAppointmentDef, c.scheduleAppointment},
		{cancelAppointmentDef, c.cancelAppointment},
		{updateDeviceStatusDef, c.updateDeviceStatus},
		{voidInvoiceDef, c.voidInvoice},
		{sendAppointmentReminderDef, c.sendAppointmentReminder},
		{generateSalesReportDef, c.generateSalesReport},
	}
}

// Definitions returns the definitions of every catalog tool.
func (c *Catalog) Definitions() []tool.Definition {
	es := c.entries()
	out := make([]tool.Definition, len(es))
	for i, e := range es {
		out[i] = e.def.Clone()
	}
	return out
}

// RegisterAll registers every tool with r. Tools listed in disabled are
// registered but left off the allowlist.
func (c *Catalog) RegisterAll(r Registrar, disabled ...string) error {
	off := make(map[string]bool, len(disabled))
	for _, id := range disabled {
		off[id] = true
	}
	for _, e := range c.entries() {
		if err := r.Register(e.def.Clone(), e.handler, !off[e.def.ID]); err != nil {
			return fmt.Errorf("register %s: %w", e.def.ID, err)
		}
	}
	return nil
}

var errNoTenant = errors.New("no tenant in context")

func tenantFrom(ctx context.Context) (string, error) {
	t, _ := ctx.Value(ctxkey.TenantIDKey{}).(string)
	if t == "" {
		return "", errNoTenant
	}
	return t, nil
}

// write runs fn against the CRM. A simulate-mode call outside a persistence
// scope gets a private transaction that is always rolled back.
func (c *Catalog) write(ctx context.Context, mode tool.Mode, fn func(context.Context, sqlite.Querier) error) error {
	if mode != tool.ModeSimulate || sqlite.InScope(ctx) {
		return fn(ctx, c.db.Conn(ctx))
	}
	sctx, tx, err := c.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	return fn(sctx, c.db.Conn(sctx))
}

func ok(data map[string]any) (*tool.ExecutionResult, error) {
	return &tool.ExecutionResult{Success: true, Data: data}, nil
}

func fail(format string, args ...any) (*tool.ExecutionResult, error) {
	return &tool.ExecutionResult{Success: false, Error: fmt.Sprintf(format, args...)}, nil
}
