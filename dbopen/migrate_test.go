package dbopen

import (
	"testing"

	_ "modernc.org/sqlite"
)

var testMigrations = []Migration{
	{Version: 1, SQL: `CREATE TABLE IF NOT EXISTS items (id INTEGER PRIMARY KEY, name TEXT)`},
	{Version: 2, SQL: `CREATE INDEX IF NOT EXISTS idx_items_name ON items(name)`},
}

func TestMigrateFromZero(t *testing.T) {
	db := OpenMemory(t)

	if err := Migrate(db, testMigrations); err != nil {
		t.Fatal(err)
	}

	v, err := SchemaVersion(db)
	if err != nil {
		t.Fatal(err)
	}
	if v != 2 {
		t.Fatalf("schema_version = %d, want 2", v)
	}

	if _, err := db.Exec("INSERT INTO items (name) VALUES ('a')"); err != nil {
		t.Fatalf("schema not usable: %v", err)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	db := OpenMemory(t)

	if err := Migrate(db, testMigrations); err != nil {
		t.Fatal(err)
	}
	if err := Migrate(db, testMigrations); err != nil {
		t.Fatalf("second run: %v", err)
	}

	v, _ := SchemaVersion(db)
	if v != 2 {
		t.Fatalf("schema_version = %d, want 2", v)
	}
}

func TestMigrateAppendOnly(t *testing.T) {
	db := OpenMemory(t)

	if err := Migrate(db, testMigrations[:1]); err != nil {
		t.Fatal(err)
	}

	extended := append([]Migration{}, testMigrations...)
	extended = append(extended, Migration{Version: 3, SQL: `ALTER TABLE items ADD COLUMN note TEXT`})
	if err := Migrate(db, extended); err != nil {
		t.Fatal(err)
	}

	v, _ := SchemaVersion(db)
	if v != 3 {
		t.Fatalf("schema_version = %d, want 3", v)
	}
}

func TestMigrateRejectsGap(t *testing.T) {
	db := OpenMemory(t)

	gapped := []Migration{
		{Version: 1, SQL: `CREATE TABLE a (id INTEGER)`},
		{Version: 3, SQL: `CREATE TABLE b (id INTEGER)`},
	}
	if err := Migrate(db, gapped); err == nil {
		t.Fatal("expected gap error, got nil")
	}
}

func TestMigrateRollsBackFailedStep(t *testing.T) {
	db := OpenMemory(t)

	bad := []Migration{
		{Version: 1, SQL: `CREATE TABLE a (id INTEGER); THIS IS NOT SQL`},
	}
	if err := Migrate(db, bad); err == nil {
		t.Fatal("expected SQL error, got nil")
	}

	v, err := SchemaVersion(db)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Fatalf("schema_version = %d after failed migration, want 0", v)
	}
}
