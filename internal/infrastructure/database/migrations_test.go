package database

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/nerrad567/gray-logic-intercom/migrations"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"0001_widgets.up.sql":   {Data: []byte(`CREATE TABLE widgets (id TEXT PRIMARY KEY) STRICT;`)},
		"0001_widgets.down.sql": {Data: []byte(`DROP TABLE widgets;`)},
		"0002_gadgets.up.sql":   {Data: []byte(`CREATE TABLE gadgets (id TEXT PRIMARY KEY) STRICT;`)},
		"README.md":             {Data: []byte("ignored")},
	}
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := testMigrations()

	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "widgets") || !tableExists(t, db, "gadgets") {
		t.Fatal("migrations not applied")
	}

	applied, pending, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied = %d, pending = %d; want 2, 0", len(applied), len(pending))
	}

	// Idempotent.
	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	fsys := testMigrations()

	if err := db.Migrate(ctx, fsys); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	// 0002 has no down file.
	if err := db.MigrateDown(ctx, fsys); err == nil {
		t.Error("MigrateDown() without down SQL should fail")
	}

	fsys["0002_gadgets.down.sql"] = &fstest.MapFile{Data: []byte(`DROP TABLE gadgets;`)}

	if err := db.MigrateDown(ctx, fsys); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "gadgets") {
		t.Error("gadgets still present after rollback")
	}
	if !tableExists(t, db, "widgets") {
		t.Error("rollback removed more than the latest migration")
	}

	_, pending, err := db.MigrationStatus(ctx, fsys)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Version != "0002" {
		t.Errorf("pending = %+v, want 0002", pending)
	}
}

func TestMigrate_FailureRollsBack(t *testing.T) {
	db := openTestDB(t)
	fsys := fstest.MapFS{
		"0001_ok.up.sql":  {Data: []byte(`CREATE TABLE ok (id TEXT) STRICT;`)},
		"0002_bad.up.sql": {Data: []byte(`CREATE TABLE half (id TEXT) STRICT; NOT SQL;`)},
	}

	if err := db.Migrate(context.Background(), fsys); err == nil {
		t.Fatal("Migrate() with a broken script should fail")
	}
	if !tableExists(t, db, "ok") {
		t.Error("earlier migration was not kept")
	}
	if tableExists(t, db, "half") {
		t.Error("failing migration was not rolled back")
	}
}

func TestLoadMigrations_DownWithoutUp(t *testing.T) {
	fsys := fstest.MapFS{"0001_orphan.down.sql": {Data: []byte(`SELECT 1;`)}}
	if _, err := LoadMigrations(fsys); err == nil {
		t.Error("LoadMigrations() should reject a down file without up")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name        string
		wantVersion string
		wantName    string
		wantUp      bool
		wantOK      bool
	}{
		{"0002_call_log.up.sql", "0002", "call_log", true, true},
		{"0002_call_log.down.sql", "0002", "call_log", false, true},
		{"0002_call_log.sql", "", "", false, false},
		{"0002.up.sql", "", "", false, false},
		{"notes.txt", "", "", false, false},
	}

	for _, tt := range tests {
		version, name, up, ok := parseMigrationFilename(tt.name)
		if version != tt.wantVersion || name != tt.wantName || up != tt.wantUp || ok != tt.wantOK {
			t.Errorf("parseMigrationFilename(%q) = %q, %q, %v, %v", tt.name, version, name, up, ok)
		}
	}
}

func TestEmbeddedSchema(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate(embedded) error = %v", err)
	}
	for _, table := range []string{"dtmf_mappings", "call_log", "event_log", "dtmf_table_state"} {
		if !tableExists(t, db, table) {
			t.Errorf("table %s missing", table)
		}
	}

	// Every embedded migration rolls back cleanly.
	for range 4 {
		if err := db.MigrateDown(ctx, migrations.FS); err != nil {
			t.Fatalf("MigrateDown() error = %v", err)
		}
	}
	if tableExists(t, db, "dtmf_mappings") {
		t.Error("dtmf_mappings still present after full rollback")
	}
}
