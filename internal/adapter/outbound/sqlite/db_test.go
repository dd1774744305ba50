package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(MemoryPath, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func countRows(t *testing.T, d *DB, table string) int {
	t.Helper()
	var n int
	if err := d.SQLDB().QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestOpen_RunsMigrations(t *testing.T) {
	t.Parallel()
	d := openTestDB(t)

	v, err := d.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != 1 {
		t.Errorf("SchemaVersion = %d, want 1", v)
	}
	for _, table := range []string{"patients", "appointments", "devices", "invoices", "sales", "reminder_log"} {
		countRows(t, d, table)
	}
}

func TestOpen_FileIsReopenable(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "crm.db")

	d, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := d.SeedDemo(context.Background(), "clinic-1", time.Now()); err != nil {
		t.Fatalf("SeedDemo: %v", err)
	}
	_ = d.Close()

	d, err = Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer d.Close()
	if n := countRows(t, d, "patients"); n != 2 {
		t.Errorf("patients after reopen = %d, want 2", n)
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	t.Parallel()
	if _, err := Open("", nil); err == nil {
		t.Error("Open(\"\") succeeded")
	}
}

func TestScope_RollbackDiscardsWrites(t *testing.T) {
	t.Parallel()
	d := openTestDB(t)
	ctx := context.Background()

	sctx, tx, err := d.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if !InScope(sctx) || InScope(ctx) {
		t.Fatal("InScope does not track the scope context")
	}
	if err := d.SeedDemo(sctx, "clinic-1", time.Now()); err != nil {
		t.Fatalf("SeedDemo in scope: %v", err)
	}

	var inside int
	if err := d.Conn(sctx).QueryRowContext(sctx, "SELECT COUNT(*) FROM patients").Scan(&inside); err != nil {
		t.Fatalf("count in scope: %v", err)
	}
	if inside != 2 {
		t.Errorf("patients inside scope = %d, want 2", inside)
	}

	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if n := countRows(t, d, "patients"); n != 0 {
		t.Errorf("patients after rollback = %d, want 0", n)
	}
}

func TestScope_CommitKeepsWrites(t *testing.T) {
	t.Parallel()
	d := openTestDB(t)

	sctx, tx, err := d.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := d.SeedDemo(sctx, "clinic-1", time.Now()); err != nil {
		t.Fatalf("SeedDemo: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if n := countRows(t, d, "sales"); n != 2 {
		t.Errorf("sales after commit = %d, want 2", n)
	}
}

func TestForeignKeysEnforced(t *testing.T) {
	t.Parallel()
	d := openTestDB(t)

	_, err := d.SQLDB().Exec(`INSERT INTO appointments (id, tenant_id, patient_id, starts_at, duration_minutes, status, created_at)
		VALUES ('a1', 't', 'no-such-patient', '2026-01-01T10:00:00Z', 30, 'scheduled', '2026-01-01T00:00:00Z')`)
	if err == nil {
		t.Error("insert with dangling patient_id succeeded")
	}
}

func TestMigrationNumber(t *testing.T) {
	t.Parallel()
	if n, err := migrationNumber("001_crm.sql"); err != nil || n != 1 {
		t.Errorf("migrationNumber = %d, %v", n, err)
	}
	if _, err := migrationNumber("crm.sql"); err == nil {
		t.Error("migrationNumber accepted a name without prefix")
	}
}
