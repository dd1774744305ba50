package clinic

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/actiongate/internal/adapter/outbound/sqlite"
	"github.com/clinicore/actiongate/internal/domain/tool"
)

func (c *Catalog) getPatientSummary(ctx context.Context, params map[string]any, _ tool.Mode) (*tool.ExecutionResult, error) {
	tenant, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	patientID := stringParam(params, "patient_id")
	q := c.db.Conn(ctx)

	var name, phone, email sql.NullString
	err = q.QueryRowContext(ctx,
		`SELECT full_name, phone, email FROM patients WHERE id = ? AND tenant_id = ?`,
		patientID, tenant).Scan(&name, &phone, &email)
	if errors.Is(err, sql.ErrNoRows) {
		return fail("patient %s not found", patientID)
	}
	if err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}

	now := c.clock.Now().Format(time.RFC3339)
	var upcoming, devices, openInvoices int
	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM appointments WHERE patient_id = ? AND tenant_id = ? AND status = 'scheduled' AND starts_at >= ?`,
		patientID, tenant, now).Scan(&upcoming); err != nil {
		return nil, fmt.Errorf("count appointments: %w", err)
	}
	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM devices WHERE patient_id = ? AND tenant_id = ? AND status != 'retired'`,
		patientID, tenant).Scan(&devices); err != nil {
		return nil, fmt.Errorf("count devices: %w", err)
	}
	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM invoices WHERE patient_id = ? AND tenant_id = ? AND status = 'issued'`,
		patientID, tenant).Scan(&openInvoices); err != nil {
		return nil, fmt.Errorf("count invoices: %w", err)
	}

	return ok(map[string]any{
		"patient_id":            patientID,
		"full_name":             name.String,
		"phone":                 phone.String,
		"email":                 email.String,
		"upcoming_appointments": upcoming,
		"active_devices":        devices,
		"open_invoices":         openInvoices,
	})
}

func (c *Catalog) scheduleAppointment(ctx context.Context, params map[string]any, mode tool.Mode) (*tool.ExecutionResult, error) {
	tenant, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	startsAt, err := time.Parse(time.RFC3339, stringParam(params, "starts_at"))
	if err != nil {
		return fail("starts_at: %v", err)
	}
	duration, _ := intParam(params, "duration_minutes")
	if duration <= 0 {
		return fail("duration_minutes must be positive")
	}
	id := stringParam(params, "appointment_id")
	if id == "" {
		id = uuid.NewString()
	}
	patientID := stringParam(params, "patient_id")

	var res *tool.ExecutionResult
	err = c.write(ctx, mode, func(ctx context.Context, q sqlite.Querier) error {
		var exists int
		if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM patients WHERE id = ? AND tenant_id = ?`, patientID, tenant).Scan(&exists); err != nil {
			return fmt.Errorf("check patient: %w", err)
		}
		if exists == 0 {
			res, _ = fail("patient %s not found", patientID)
			return nil
		}
		var taken int
		if err := q.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM appointments WHERE tenant_id = ? AND starts_at = ? AND status = 'scheduled'`,
			tenant, startsAt.UTC().Format(time.RFC3339)).Scan(&taken); err != nil {
			return fmt.Errorf("check slot: %w", err)
		}
		if taken > 0 {
			res, _ = fail("slot %s is already booked", startsAt.UTC().Format(time.RFC3339))
			return nil
		}
		_, err := q.ExecContext(ctx,
			`INSERT INTO appointments (id, tenant_id, patient_id, starts_at, duration_minutes, status, notes, created_at)
			 VALUES (?, ?, ?, ?, ?, 'scheduled', ?, ?)`,
			id, tenant, patientID, startsAt.UTC().Format(time.RFC3339), duration, stringParam(params, "notes"),
			c.clock.Now().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}
		res, _ = ok(map[string]any{
			"appointment_id":   id,
			"starts_at":        startsAt.UTC().Format(time.RFC3339),
			"duration_minutes": duration,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Catalog) cancelAppointment(ctx context.Context, params map[string]any, mode tool.Mode) (*tool.ExecutionResult, error) {
	tenant, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	id := stringParam(params, "appointment_id")

	var res *tool.ExecutionResult
	err = c.write(ctx, mode, func(ctx context.Context, q sqlite.Querier) error {
		r, err := q.ExecContext(ctx,
			`UPDATE appointments SET status = 'cancelled', notes = COALESCE(?, notes)
			 WHERE id = ? AND tenant_id = ? AND status = 'scheduled'`,
			nullIfEmpty(stringParam(params, "reason")), id, tenant)
		if err != nil {
			return fmt.Errorf("cancel appointment: %w", err)
		}
		if n, _ := r.RowsAffected(); n == 0 {
			res, _ = fail("appointment %s is not scheduled", id)
			return nil
		}
		res, _ = ok(map[string]any{"appointment_id": id, "status": "cancelled"})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Catalog) updateDeviceStatus(ctx context.Context, params map[string]any, mode tool.Mode) (*tool.ExecutionResult, error) {
	tenant, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	id := stringParam(params, "device_id")
	status := stringParam(params, "status")

	var res *tool.ExecutionResult
	err = c.write(ctx, mode, func(ctx context.Context, q sqlite.Querier) error {
		var previous string
		err := q.QueryRowContext(ctx, `SELECT status FROM devices WHERE id = ? AND tenant_id = ?`, id, tenant).Scan(&previous)
		if errors.Is(err, sql.ErrNoRows) {
			res, _ = fail("device %s not found", id)
			return nil
		}
		if err != nil {
			return fmt.Errorf("load device: %w", err)
		}
		if _, err := q.ExecContext(ctx,
			`UPDATE devices SET status = ?, updated_at = ? WHERE id = ? AND tenant_id = ?`,
			status, c.clock.Now().Format(time.RFC3339), id, tenant); err != nil {
			return fmt.Errorf("update device: %w", err)
		}
		res, _ = ok(map[string]any{"device_id": id, "status": status, "previous_status": previous})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Catalog) voidInvoice(ctx context.Context, params map[string]any, mode tool.Mode) (*tool.ExecutionResult, error) {
	tenant, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	id := stringParam(params, "invoice_id")

	var res *tool.ExecutionResult
	err = c.write(ctx, mode, func(ctx context.Context, q sqlite.Querier) error {
		var status string
		err := q.QueryRowContext(ctx, `SELECT status FROM invoices WHERE id = ? AND tenant_id = ?`, id, tenant).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			res, _ = fail("invoice %s not found", id)
			return nil
		}
		if err != nil {
			return fmt.Errorf("load invoice: %w", err)
		}
		if status != "issued" {
			res, _ = fail("invoice %s is %s and cannot be voided", id, status)
			return nil
		}
		if _, err := q.ExecContext(ctx,
			`UPDATE invoices SET status = 'void', void_reason = ? WHERE id = ? AND tenant_id = ?`,
			stringParam(params, "reason"), id, tenant); err != nil {
			return fmt.Errorf("void invoice: %w", err)
		}
		res, _ = ok(map[string]any{"invoice_id": id, "status": "void"})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Catalog) sendAppointmentReminder(ctx context.Context, params map[string]any, mode tool.Mode) (*tool.ExecutionResult, error) {
	tenant, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	id := stringParam(params, "appointment_id")
	channel := stringParam(params, "channel")
	q := c.db.Conn(ctx)

	var (
		startsAt, name string
		phone, email   sql.NullString
	)
	err = q.QueryRowContext(ctx,
		`SELECT a.starts_at, p.full_name, p.phone, p.email
		 FROM appointments a JOIN patients p ON p.id = a.patient_id
		 WHERE a.id = ? AND a.tenant_id = ? AND a.status = 'scheduled'`,
		id, tenant).Scan(&startsAt, &name, &phone, &email)
	if errors.Is(err, sql.ErrNoRows) {
		return fail("appointment %s is not scheduled", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	address := phone.String
	if channel == "email" {
		address = email.String
	}
	if address == "" {
		return fail("patient has no %s contact", channel)
	}

	if mode == tool.ModeSimulate {
		return ok(map[string]any{"appointment_id": id, "channel": channel, "sent": false})
	}

	if err := c.notifier.Send(ctx, Reminder{
		TenantID:      tenant,
		AppointmentID: id,
		PatientName:   name,
		Channel:       channel,
		Address:       address,
		StartsAt:      startsAt,
	}); err != nil {
		return fail("send reminder: %v", err)
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO reminder_log (id, tenant_id, appointment_id, channel, sent_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), tenant, id, channel, c.clock.Now().Format(time.RFC3339)); err != nil {
		// The reminder went out; only the log row is missing.
		c.logger.Warn("reminder sent but not logged", "appointment_id", id, "error", err)
		return &tool.ExecutionResult{Success: true, Partial: true, Data: map[string]any{"appointment_id": id, "channel": channel, "sent": true}}, nil
	}
	return ok(map[string]any{"appointment_id": id, "channel": channel, "sent": true})
}

func (c *Catalog) generateSalesReport(ctx context.Context, params map[string]any, _ tool.Mode) (*tool.ExecutionResult, error) {
	tenant, err := tenantFrom(ctx)
	if err != nil {
		return nil, err
	}
	from, err := time.Parse(time.DateOnly, stringParam(params, "from"))
	if err != nil {
		return fail("from: %v", err)
	}
	to, err := time.Parse(time.DateOnly, stringParam(params, "to"))
	if err != nil {
		return fail("to: %v", err)
	}
	if to.Before(from) {
		return fail("to is before from")
	}

	group := "item"
	if stringParam(params, "group_by") == "day" {
		group = "substr(sold_at, 1, 10)"
	}
	rows, err := c.db.Conn(ctx).QueryContext(ctx,
		`SELECT `+group+` AS k, COUNT(*), SUM(amount_cents) FROM sales
		 WHERE tenant_id = ? AND sold_at >= ? AND sold_at < ?
		 GROUP BY k ORDER BY k`,
		tenant, from.Format(time.RFC3339), to.AddDate(0, 0, 1).Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("query sales: %w", err)
	}
	defer rows.Close()

	var (
		lines []map[string]any
		total int64
		count int
	)
	for rows.Next() {
		var (
			key   string
			n     int
			cents int64
		)
		if err := rows.Scan(&key, &n, &cents); err != nil {
			return nil, fmt.Errorf("scan sales: %w", err)
		}
		lines = append(lines, map[string]any{"key": key, "count": n, "amount_cents": cents})
		total += cents
		count += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read sales: %w", err)
	}

	return ok(map[string]any{
		"from":               from.Format(time.DateOnly),
		"to":                 to.Format(time.DateOnly),
		"group_by":           stringParam(params, "group_by"),
		"lines":              lines,
		"total_amount_cents": total,
		"sales_count":        count,
	})
}

func stringParam(params map[string]any, name string) string {
	s, _ := params[name].(string)
	return s
}

// intParam accepts the numeric forms a parameter can arrive in after
// JSON or YAML decoding.
func intParam(params map[string]any, name string) (int, bool) {
	switch v := params[name].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), v == float64(int(v))
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	default:
		return 0, false
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
