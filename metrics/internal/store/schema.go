package store

import "github.com/hazyhaar/monlight/dbopen"

// Migrations is the append-only schema history of the metrics database.
// (resolution, bucket, name, labels) uniquely identifies an aggregate row
// so rollup re-runs land on INSERT OR REPLACE instead of duplicating.
var Migrations = []dbopen.Migration{
	{Version: 1, SQL: `
CREATE TABLE IF NOT EXISTS metrics_raw (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    name      TEXT NOT NULL,
    labels    TEXT NOT NULL DEFAULT '{}',
    value     REAL NOT NULL,
    type      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_raw_time ON metrics_raw(timestamp);
CREATE INDEX IF NOT EXISTS idx_raw_name_time ON metrics_raw(name, timestamp);

CREATE TABLE IF NOT EXISTS metrics_aggregated (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    bucket     TEXT NOT NULL,
    resolution TEXT NOT NULL,
    name       TEXT NOT NULL,
    labels     TEXT NOT NULL DEFAULT '{}',
    count      INTEGER NOT NULL,
    sum        REAL NOT NULL,
    min        REAL NOT NULL,
    max        REAL NOT NULL,
    avg        REAL NOT NULL,
    p50        REAL,
    p95        REAL,
    p99        REAL,
    UNIQUE (resolution, bucket, name, labels)
);
CREATE INDEX IF NOT EXISTS idx_agg_name_bucket ON metrics_aggregated(name, resolution, bucket);
`},
}
