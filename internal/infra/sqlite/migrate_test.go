package sqlite_test

import (
	"database/sql"
	"testing"

	"github.com/matiasleandrokruk/voxrelay/internal/infra/sqlite"
)

func TestMigrate_RunsAllMigrations(t *testing.T) {
	t.Parallel()

	db := mustOpenDB(t)
	if err := sqlite.MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v; want nil", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("SELECT COUNT(*) FROM schema_migrations error = %v", err)
	}
	if count != 2 {
		t.Errorf("schema_migrations has %d rows after MigrateUp; want 2", count)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()

	db := mustOpenDB(t)
	if err := sqlite.MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() first run error = %v; want nil", err)
	}
	if err := sqlite.MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() second run error = %v; want nil (idempotent)", err)
	}
}

func TestMigrate_RelayEventTableCreated(t *testing.T) {
	t.Parallel()

	db := mustOpenDB(t)
	if err := sqlite.MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}

	assertTableExists(t, db, "relay_event")
}

func TestMigrate_RelayEventKindChecked(t *testing.T) {
	t.Parallel()

	db := mustOpenDB(t)
	if err := sqlite.MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}

	_, err := db.Exec(`
		INSERT INTO relay_event (id, connection_id, kind, created_at)
		VALUES ('e-1', 'c-1', 'teleported', datetime('now'))
	`)
	if err == nil {
		t.Error("INSERT with unknown kind succeeded; want CHECK constraint error")
	}
}

func TestMigrate_Version(t *testing.T) {
	t.Parallel()

	db := mustOpenDB(t)
	if v, err := sqlite.MigrationVersion(db); err != nil || v != 0 {
		t.Fatalf("MigrationVersion() before migrate = %d, %v; want 0, nil", v, err)
	}
	if err := sqlite.MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}

	version, err := sqlite.MigrationVersion(db)
	if err != nil {
		t.Fatalf("MigrationVersion() error = %v; want nil", err)
	}
	if version != 2 {
		t.Errorf("MigrationVersion() = %d; want 2 after MigrateUp", version)
	}
}

func assertTableExists(t *testing.T, db *sql.DB, table string) {
	t.Helper()
	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
	if err != nil {
		t.Errorf("table %q not found after MigrateUp: %v", table, err)
	}
}
