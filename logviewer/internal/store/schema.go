package store

import "github.com/hazyhaar/monlight/dbopen"

// Migrations is the append-only schema history of the log viewer database.
// The FTS5 mirror on message is kept in sync by triggers so batch inserts
// and ring deletes never have to touch it explicitly.
var Migrations = []dbopen.Migration{
	{Version: 1, SQL: `
CREATE TABLE IF NOT EXISTS logs (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    container TEXT NOT NULL,
    stream    TEXT NOT NULL,
    level     TEXT NOT NULL,
    message   TEXT NOT NULL,
    raw       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_logs_container_time ON logs(container, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_logs_time ON logs(timestamp DESC);

CREATE VIRTUAL TABLE IF NOT EXISTS logs_fts USING fts5(
    message, content='logs', content_rowid='id',
    tokenize='unicode61 remove_diacritics 2'
);

CREATE TRIGGER IF NOT EXISTS logs_ai AFTER INSERT ON logs BEGIN
    INSERT INTO logs_fts(rowid, message) VALUES (new.id, new.message);
END;
CREATE TRIGGER IF NOT EXISTS logs_ad AFTER DELETE ON logs BEGIN
    INSERT INTO logs_fts(logs_fts, rowid, message) VALUES('delete', old.id, old.message);
END;

CREATE TABLE IF NOT EXISTS log_cursors (
    container_id TEXT NOT NULL,
    file_path    TEXT NOT NULL,
    position     INTEGER NOT NULL DEFAULT 0,
    inode        INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (container_id, file_path)
);
`},
}
