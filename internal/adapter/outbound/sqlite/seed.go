package sqlite

import (
	"context"
	"fmt"
	"time"
)

// SeedDemo inserts a small fixed data set for tenantID. Ids are prefixed
// with the tenant, so seeding several tenants never collides, and seeding
// twice is a no-op.
func (d *DB) SeedDemo(ctx context.Context, tenantID string, now time.Time) error {
	ts := now.UTC().Format(time.RFC3339)
	id := func(s string) string { return tenantID + ":" + s }

	stmts := []struct {
		query string
		args  []any
	}{
		{`INSERT OR IGNORE INTO patients (id, tenant_id, full_name, phone, email, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			[]any{id("pat-001"), tenantID, "Ada Moreau", "+33600000001", "ada@example.com", ts}},
		{`INSERT OR IGNORE INTO patients (id, tenant_id, full_name, phone, email, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			[]any{id("pat-002"), tenantID, "Jonas Berg", "+33600000002", "", ts}},
		{`INSERT OR IGNORE INTO devices (id, tenant_id, patient_id, model, serial, status, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			[]any{id("dev-001"), tenantID, id("pat-001"), "Hearing aid HX-2", "SN-1001", "active", ts}},
		{`INSERT OR IGNORE INTO invoices (id, tenant_id, patient_id, amount_cents, status, issued_at) VALUES (?, ?, ?, ?, ?, ?)`,
			[]any{id("inv-001"), tenantID, id("pat-001"), 129900, "issued", ts}},
		{`INSERT OR IGNORE INTO sales (id, tenant_id, patient_id, item, amount_cents, sold_at) VALUES (?, ?, ?, ?, ?, ?)`,
			[]any{id("sale-001"), tenantID, id("pat-001"), "Hearing aid HX-2", 129900, ts}},
		{`INSERT OR IGNORE INTO sales (id, tenant_id, patient_id, item, amount_cents, sold_at) VALUES (?, ?, ?, ?, ?, ?)`,
			[]any{id("sale-002"), tenantID, id("pat-002"), "Battery pack", 2500, ts}},
	}

	conn := d.Conn(ctx)
	for _, s := range stmts {
		if _, err := conn.ExecContext(ctx, s.query, s.args...); err != nil {
			return fmt.Errorf("seed %s: %w", tenantID, err)
		}
	}
	return nil
}
