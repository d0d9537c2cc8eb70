package db

import (
	"database/sql"
	"strings"
	"testing"
	"testing/fstest"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"V1__create_items.up.sql":   {Data: []byte("CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT);")},
		"V1__create_items.down.sql": {Data: []byte("DROP TABLE items;")},
		"V2__add_kind.up.sql":       {Data: []byte("ALTER TABLE items ADD COLUMN kind TEXT;")},
		"V2__add_kind.down.sql":     {Data: []byte("ALTER TABLE items DROP COLUMN kind;")},
		"README.md":                 {Data: []byte("not a migration")},
		"Vx__bad_version.up.sql":    {Data: []byte("garbage")},
	}
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var found string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&found)
	return err == nil
}

// =====================================================
// Initialize / CurrentVersion Tests
// =====================================================

// TestInitialize verifies schema_migrations table creation.
func TestInitialize(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db, fstest.MapFS{})

	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if !tableExists(t, db, "schema_migrations") {
		t.Error("schema_migrations table not found")
	}

	// Initialize is idempotent
	if err := m.Initialize(); err != nil {
		t.Errorf("second Initialize() failed: %v", err)
	}

	_, err := db.Exec("INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)",
		1, 123456, "test_migration", strings.Repeat("a", 64))
	if err != nil {
		t.Errorf("Failed to insert test row: %v", err)
	}
}

// TestCurrentVersion verifies version tracking.
func TestCurrentVersion(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db, fstest.MapFS{})

	if _, err := m.CurrentVersion(); err == nil {
		t.Error("CurrentVersion() should fail before Initialize()")
	}
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if version, err := m.CurrentVersion(); err != nil || version != 0 {
		t.Errorf("CurrentVersion() = %d, %v, want 0", version, err)
	}
}

// =====================================================
// Up / Down Tests
// =====================================================

// TestUp_appliesInOrder verifies migration files are applied by version.
func TestUp_appliesInOrder(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db, testMigrations())
	if err := m.Initialize(); err != nil {
		t.Fatal(err)
	}

	if err := m.Up(); err != nil {
		t.Fatalf("Up() failed: %v", err)
	}
	if _, err := db.Exec("INSERT INTO items (name, kind) VALUES ('a', 'b')"); err != nil {
		t.Errorf("V2 column missing: %v", err)
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		t.Fatal(err)
	}
	if len(applied) != 2 {
		t.Fatalf("GetAppliedMigrations() = %d, want 2", len(applied))
	}
	if applied[0].Description != "create_items" || applied[1].Description != "add_kind" {
		t.Errorf("descriptions = %q, %q", applied[0].Description, applied[1].Description)
	}
	for _, mig := range applied {
		if len(mig.Checksum) != 64 {
			t.Errorf("V%d checksum = %q", mig.Version, mig.Checksum)
		}
	}

	// Running Up again skips applied migrations
	if err := m.Up(); err != nil {
		t.Errorf("Up() second time failed: %v", err)
	}
}

// TestUp_modifiedMigration verifies a changed applied migration is rejected.
func TestUp_modifiedMigration(t *testing.T) {
	db := openMemory(t)
	files := testMigrations()
	m := NewMigrator(db, files)
	m.Initialize()
	if err := m.Up(); err != nil {
		t.Fatal(err)
	}

	files["V1__create_items.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE items (id INTEGER);")}
	err := m.Up()
	if err == nil || !strings.Contains(err.Error(), "modified") {
		t.Errorf("Up() error = %v, want modified migration error", err)
	}
}

// TestDown verifies rollback of the newest migration.
func TestDown(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db, testMigrations())
	m.Initialize()

	err := m.Down()
	if err == nil || !strings.Contains(err.Error(), "no migrations to rollback") {
		t.Errorf("Down() on empty schema = %v", err)
	}

	if err := m.Up(); err != nil {
		t.Fatal(err)
	}
	if err := m.Down(); err != nil {
		t.Fatalf("Down() failed: %v", err)
	}
	if version, _ := m.CurrentVersion(); version != 1 {
		t.Errorf("CurrentVersion() after Down = %d, want 1", version)
	}
	if err := m.Down(); err != nil {
		t.Fatalf("second Down() failed: %v", err)
	}
	if tableExists(t, db, "items") {
		t.Error("items table should be dropped")
	}
}

// TestDown_missingFile verifies an error when no down file exists.
func TestDown_missingFile(t *testing.T) {
	db := openMemory(t)
	m := NewMigrator(db, fstest.MapFS{
		"V1__only_up.up.sql": {Data: []byte("CREATE TABLE t (id INTEGER);")},
	})
	m.Initialize()
	if err := m.Up(); err != nil {
		t.Fatal(err)
	}
	if err := m.Down(); err == nil {
		t.Error("Down() without a down file should fail")
	}
}

// TestMigrations_embedded verifies the shipped schema parses.
func TestMigrations_embedded(t *testing.T) {
	m := NewMigrator(openMemory(t), Migrations())
	files, err := m.upFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 || files[0].version != 1 {
		t.Errorf("embedded migrations = %+v", files)
	}
}
