package database

import (
	"context"
	"embed"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"
)

//go:embed testdata/*.sql
var testMigrationsFS embed.FS

// useMigrations points the package at fsys for the duration of the test.
func useMigrations(t *testing.T, fsys fs.FS, dir string) {
	t.Helper()
	origFS, origDir := MigrationsFS, MigrationsDir
	MigrationsFS, MigrationsDir = fsys, dir
	t.Cleanup(func() { MigrationsFS, MigrationsDir = origFS, origDir })
}

func tableExists(t *testing.T, db *DB, kind, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?", kind, name).Scan(&n)
	if err != nil {
		t.Fatalf("sqlite_master query error = %v", err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	useMigrations(t, testMigrationsFS, "testdata")
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "table", "probe_entries") {
		t.Error("probe_entries not created")
	}
	if !tableExists(t, db, "index", "idx_probe_entries_note") {
		t.Error("idx_probe_entries_note not created")
	}

	st, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(st.Applied) != 2 || len(st.Pending) != 0 {
		t.Errorf("status = %d applied / %d pending, want 2 / 0", len(st.Applied), len(st.Pending))
	}
	if got := st.Current(); got != "20260102_000000" {
		t.Errorf("Current() = %q, want 20260102_000000", got)
	}

	// Re-running is a no-op.
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	useMigrations(t, testMigrationsFS, "testdata")
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	// Newest first: the index goes, the table stays.
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "index", "idx_probe_entries_note") {
		t.Error("index survived rollback")
	}
	if !tableExists(t, db, "table", "probe_entries") {
		t.Error("table dropped too early")
	}

	st, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if diff := cmp.Diff([]string{"20260102_000000"}, st.Pending); diff != "" {
		t.Errorf("Pending mismatch (-want +got):\n%s", diff)
	}

	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("second MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "table", "probe_entries") {
		t.Error("probe_entries survived rollback")
	}

	// Nothing left to roll back.
	if err := db.MigrateDown(ctx); err != nil {
		t.Errorf("MigrateDown() on empty schema error = %v", err)
	}
}

func TestMigrate_NoMigrations(t *testing.T) {
	useMigrations(t, nil, "")
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() with no migrations error = %v", err)
	}
	st, err := db.GetMigrationStatus(context.Background())
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if st.Current() != "" {
		t.Errorf("Current() = %q, want empty", st.Current())
	}
}

func TestMigrate_MissingUpFile(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"m/20260101_000000_orphan.down.sql": {Data: []byte("SELECT 1;")},
	}, "m")
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err == nil {
		t.Error("Migrate() should reject a version without .up.sql")
	}
}

func TestMigrate_FailedMigrationRollsBack(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"m/20260101_000000_broken.up.sql": {Data: []byte("CREATE TABLE half (id INTEGER); THIS IS NOT SQL;")},
	}, "m")
	db := openTestDB(t)
	defer db.Close() //nolint:errcheck // Test cleanup
	ctx := context.Background()

	if err := db.Migrate(ctx); err == nil {
		t.Fatal("Migrate() should fail on invalid SQL")
	}
	st, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(st.Applied) != 0 {
		t.Errorf("failed migration recorded as applied: %+v", st.Applied)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename string
		want     migrationFile
		ok       bool
	}{
		{"20260101_000000_create_journal.up.sql", migrationFile{"20260101_000000", "create_journal", true}, true},
		{"20260101_000000_create_journal.down.sql", migrationFile{"20260101_000000", "create_journal", false}, true},
		{"20260101_000000.up.sql", migrationFile{"20260101_000000", "", true}, true},
		{"20260101_create.up.sql", migrationFile{}, false},
		{"README.md", migrationFile{}, false},
		{"embed.go", migrationFile{}, false},
		{"20260101_000000_create.sql", migrationFile{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			got, ok := parseMigrationFilename(tt.filename)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("parseMigrationFilename() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
