package retention

import (
	"database/sql"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newAuditDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Exec(`CREATE TABLE audit_events (id INTEGER PRIMARY KEY AUTOINCREMENT, timestamp TIMESTAMP NOT NULL)`); err != nil {
		t.Fatal(err)
	}
	return path
}

func insertEvents(t *testing.T, path string, ages []time.Duration) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	now := time.Now().UTC()
	for _, age := range ages {
		if _, err := db.Exec(`INSERT INTO audit_events (timestamp) VALUES (?)`, now.Add(-age)); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRunCleanup_DeletesOlderThanMaxAge(t *testing.T) {
	path := newAuditDB(t)
	insertEvents(t, path, []time.Duration{400 * 24 * time.Hour, 10 * 24 * time.Hour})

	m := New(
		[]Policy{{Category: "audit_logs", MaxAgeDays: 365}},
		map[string]string{"audit_logs": path},
		slog.Default(),
	)
	results := m.RunCleanup()
	if results["audit_logs"] != 1 {
		t.Fatalf("expected 1 deleted row, got %d", results["audit_logs"])
	}

	stats := m.Stats()
	if stats["audit_logs"].Total != 1 {
		t.Fatalf("expected 1 remaining row, got %d", stats["audit_logs"].Total)
	}
}

func TestRunCleanup_DeletesExcessKeepingNewest(t *testing.T) {
	path := newAuditDB(t)
	insertEvents(t, path, []time.Duration{5 * time.Hour, 4 * time.Hour, 3 * time.Hour, 2 * time.Hour, 1 * time.Hour})

	m := New(
		[]Policy{{Category: "audit_logs", MaxCount: 3}},
		map[string]string{"audit_logs": path},
		slog.Default(),
	)
	results := m.RunCleanup()
	if results["audit_logs"] != 2 {
		t.Fatalf("expected 2 deleted rows, got %d", results["audit_logs"])
	}
}

func TestCleanupCategory_RejectsUnknownCategory(t *testing.T) {
	m := New([]Policy{{Category: "not_a_real_category", MaxAgeDays: 1}}, map[string]string{}, slog.Default())
	results := m.RunCleanup()
	if results["not_a_real_category"] != 0 {
		t.Fatalf("expected 0 deletions for an unallowlisted category, got %d", results["not_a_real_category"])
	}
}

func TestStats_ReportsZeroWhenDBMissing(t *testing.T) {
	m := New(nil, map[string]string{"conversations": filepath.Join(t.TempDir(), "missing.db")}, slog.Default())
	stats := m.Stats()
	if stats["conversations"].Total != 0 {
		t.Fatalf("expected 0 for a missing database, got %d", stats["conversations"].Total)
	}
}
