package dbopen

import (
	"database/sql"
	"fmt"
	"strconv"
)

// Migration is one append-only schema step. Versions start at 1 and must be
// contiguous; released migrations are never edited or rolled back.
type Migration struct {
	Version int
	SQL     string
}

// Migrate applies pending migrations in order. The current version lives in
// _meta(key='schema_version'); each migration runs inside its own
// transaction and the version is advanced on success. Statements should be
// IF NOT EXISTS friendly so a partially provisioned database converges.
func Migrate(db *sql.DB, migrations []Migration) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS _meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("dbopen: create _meta: %w", err)
	}

	current, err := SchemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if m.Version != current+1 {
			return fmt.Errorf("dbopen: migration gap: at version %d, next is %d", current, m.Version)
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("dbopen: begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("dbopen: migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO _meta (key, value) VALUES ('schema_version', ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			strconv.Itoa(m.Version),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("dbopen: advance version to %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("dbopen: commit migration %d: %w", m.Version, err)
		}
		current = m.Version
	}
	return nil
}

// SchemaVersion reads the current schema version, 0 if none recorded.
func SchemaVersion(db *sql.DB) (int, error) {
	var raw string
	err := db.QueryRow(`SELECT value FROM _meta WHERE key = 'schema_version'`).Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("dbopen: read schema_version: %w", err)
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("dbopen: parse schema_version %q: %w", raw, err)
	}
	return v, nil
}
