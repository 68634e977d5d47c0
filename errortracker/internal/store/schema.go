package store

import "github.com/hazyhaar/monlight/dbopen"

// Migrations is the append-only schema history of the error tracker
// database. Released entries are never edited.
var Migrations = []dbopen.Migration{
	{Version: 1, SQL: `
CREATE TABLE IF NOT EXISTS errors (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    fingerprint    TEXT NOT NULL UNIQUE,
    project        TEXT NOT NULL,
    environment    TEXT NOT NULL DEFAULT '',
    exception_type TEXT NOT NULL,
    message        TEXT NOT NULL,
    traceback      TEXT NOT NULL DEFAULT '',
    count          INTEGER NOT NULL DEFAULT 1,
    first_seen     TEXT NOT NULL,
    last_seen      TEXT NOT NULL,
    resolved       INTEGER NOT NULL DEFAULT 0,
    resolved_at    TEXT
);
CREATE INDEX IF NOT EXISTS idx_errors_last_seen ON errors(last_seen DESC);
CREATE INDEX IF NOT EXISTS idx_errors_project ON errors(project, environment, resolved);

CREATE TABLE IF NOT EXISTS error_occurrences (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    error_id        INTEGER NOT NULL REFERENCES errors(id) ON DELETE CASCADE,
    timestamp       TEXT NOT NULL,
    request_url     TEXT,
    request_method  TEXT,
    request_headers TEXT,
    user_id         TEXT,
    extra           TEXT,
    traceback       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_occurrences_error ON error_occurrences(error_id, id);
`},
}
