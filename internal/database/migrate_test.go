package database

import (
	"errors"
	"reflect"
	"testing"
)

func openBare(t *testing.T) *DB {
	t.Helper()

	db, err := Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ledgerIDs(t *testing.T, db *DB) []int64 {
	t.Helper()

	rows, err := db.Conn().Query("SELECT id FROM schema_migrations ORDER BY id")
	if err != nil {
		t.Fatalf("Failed to read ledger: %v", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			t.Fatalf("Failed to scan ledger row: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()

	var count int
	err := db.Conn().QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("Failed to query sqlite_master: %v", err)
	}
	return count > 0
}

func TestMigrateIdempotent(t *testing.T) {
	db := openBare(t)

	if err := db.Migrate(Migrations); err != nil {
		t.Fatalf("First migrate failed: %v", err)
	}
	first := ledgerIDs(t, db)

	if err := db.Migrate(Migrations); err != nil {
		t.Fatalf("Second migrate failed: %v", err)
	}
	second := ledgerIDs(t, db)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("Expected identical ledger contents, got %v then %v", first, second)
	}

	for _, table := range []string{"user_prefs", "checkins", "sessions", "journal_entries", "content_cache", "streaks"} {
		if !tableExists(t, db, table) {
			t.Errorf("Expected table %s to exist", table)
		}
	}
}

func TestMigrateRollbackOnFailure(t *testing.T) {
	db := openBare(t)

	migrations := []Migration{
		{
			ID:          1,
			Description: "valid",
			Statements:  []string{"CREATE TABLE good (id TEXT PRIMARY KEY)"},
		},
		{
			ID:          2,
			Description: "broken",
			Statements: []string{
				"CREATE TABLE partial (id TEXT PRIMARY KEY)",
				"THIS IS NOT SQL",
			},
		},
	}

	err := db.Migrate(migrations)
	if err == nil {
		t.Fatal("Expected migrate to fail on invalid statement")
	}

	// Migration 1 stays recorded, migration 2 rolled back entirely
	ids := ledgerIDs(t, db)
	if !reflect.DeepEqual(ids, []int64{1}) {
		t.Errorf("Expected ledger [1], got %v", ids)
	}
	if !tableExists(t, db, "good") {
		t.Error("Expected table from migration 1 to exist")
	}
	if tableExists(t, db, "partial") {
		t.Error("Expected partial table from failed migration to be rolled back")
	}

	// Retry with the statement fixed succeeds cleanly
	migrations[1].Statements[1] = "CREATE TABLE fixed (id TEXT PRIMARY KEY)"
	if err := db.Migrate(migrations); err != nil {
		t.Fatalf("Retry after fix failed: %v", err)
	}
	if !reflect.DeepEqual(ledgerIDs(t, db), []int64{1, 2}) {
		t.Errorf("Expected ledger [1 2], got %v", ledgerIDs(t, db))
	}
}

func TestMigrateSkipsApplied(t *testing.T) {
	db := openBare(t)

	v1 := []Migration{
		{ID: 1, Description: "initial", Statements: []string{"CREATE TABLE a (id TEXT PRIMARY KEY)"}},
	}
	if err := db.Migrate(v1); err != nil {
		t.Fatalf("Migrate v1 failed: %v", err)
	}

	v2 := append(v1, Migration{
		ID: 2, Description: "add b", Statements: []string{"CREATE TABLE b (id TEXT PRIMARY KEY)"},
	})
	if err := db.Migrate(v2); err != nil {
		t.Fatalf("Migrate v2 failed: %v", err)
	}

	if !reflect.DeepEqual(ledgerIDs(t, db), []int64{1, 2}) {
		t.Errorf("Expected ledger [1 2], got %v", ledgerIDs(t, db))
	}
	if !tableExists(t, db, "b") {
		t.Error("Expected table b to exist")
	}
}

func TestMigrateChecksumMismatch(t *testing.T) {
	db := openBare(t)

	original := []Migration{
		{ID: 1, Description: "initial", Statements: []string{"CREATE TABLE a (id TEXT PRIMARY KEY)"}},
	}
	if err := db.Migrate(original); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	// Editing a shipped migration must fail loudly, not silently skip
	mutated := []Migration{
		{ID: 1, Description: "initial", Statements: []string{"CREATE TABLE a (id TEXT PRIMARY KEY, extra TEXT)"}},
	}
	err := db.Migrate(mutated)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("Expected ErrChecksumMismatch, got %v", err)
	}

	// The ledger is untouched
	if !reflect.DeepEqual(ledgerIDs(t, db), []int64{1}) {
		t.Errorf("Expected ledger [1], got %v", ledgerIDs(t, db))
	}
}

func TestMigrateRejectsBadOrder(t *testing.T) {
	db := openBare(t)

	cases := []struct {
		name       string
		migrations []Migration
	}{
		{"starts at 2", []Migration{{ID: 2, Statements: []string{"SELECT 1"}}}},
		{"duplicate id", []Migration{
			{ID: 1, Statements: []string{"SELECT 1"}},
			{ID: 1, Statements: []string{"SELECT 1"}},
		}},
		{"decreasing", []Migration{
			{ID: 1, Statements: []string{"SELECT 1"}},
			{ID: 3, Statements: []string{"SELECT 1"}},
			{ID: 2, Statements: []string{"SELECT 1"}},
		}},
	}

	for _, tc := range cases {
		if err := db.Migrate(tc.migrations); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestMigrationChecksumStable(t *testing.T) {
	m := Migration{ID: 1, Statements: []string{"CREATE TABLE a (id TEXT)", "CREATE INDEX i ON a(id)"}}

	if m.Checksum() != m.Checksum() {
		t.Error("Expected checksum to be deterministic")
	}

	// Statement boundaries matter: concatenation tricks must not collide
	other := Migration{ID: 1, Statements: []string{"CREATE TABLE a (id TEXT)CREATE INDEX i ON a(id)"}}
	if m.Checksum() == other.Checksum() {
		t.Error("Expected different statement splits to hash differently")
	}
}
