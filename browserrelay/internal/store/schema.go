package store

import "github.com/hazyhaar/monlight/dbopen"

// Migrations is the append-only schema history of the browser relay
// database: the DSN key plane and the uploaded source maps.
var Migrations = []dbopen.Migration{
	{Version: 1, SQL: `
CREATE TABLE IF NOT EXISTS dsn_keys (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    public_key TEXT NOT NULL UNIQUE,
    project    TEXT NOT NULL,
    active     INTEGER NOT NULL DEFAULT 1,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dsn_project ON dsn_keys(project);

CREATE TABLE IF NOT EXISTS source_maps (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    project     TEXT NOT NULL,
    release     TEXT NOT NULL,
    file_url    TEXT NOT NULL,
    map_content TEXT NOT NULL,
    created_at  TEXT NOT NULL,
    UNIQUE (project, release, file_url)
);
CREATE INDEX IF NOT EXISTS idx_maps_created ON source_maps(created_at);
`},
}
