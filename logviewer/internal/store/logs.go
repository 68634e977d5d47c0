// Package store is the data access layer of the log viewer: the bounded
// log table with its FTS5 mirror, and the per-file tail cursors.
package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Entry is one reassembled log line group.
type Entry struct {
	ID        int64  `json:"id"`
	Timestamp string `json:"timestamp"`
	Container string `json:"container"`
	Stream    string `json:"stream"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Raw       string `json:"raw"`
}

// Cursor tracks the read position in one container log file.
type Cursor struct {
	ContainerID string
	FilePath    string
	Position    int64
	Inode       uint64
}

// Store wraps the log viewer database.
type Store struct {
	DB *sql.DB
}

// New creates a Store from an already-opened database connection.
func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

// InsertBatch writes one poll's entries in a single transaction with a
// prepared statement, preserving order. The FTS triggers mirror messages.
func (s *Store) InsertBatch(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin log batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO logs (timestamp, container, stream, level, message, raw)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare log insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			e.Timestamp, e.Container, e.Stream, e.Level, e.Message, e.Raw); err != nil {
			return fmt.Errorf("insert log: %w", err)
		}
	}
	return tx.Commit()
}

// TrimToMax enforces the ring ceiling: when the row count exceeds max, the
// oldest count-max+margin rows are deleted so trims run in bursts instead
// of on every batch. Returns the number of rows removed.
func (s *Store) TrimToMax(ctx context.Context, max, margin int) (int64, error) {
	var count int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM logs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count logs: %w", err)
	}
	if count <= max {
		return 0, nil
	}
	excess := count - max + margin
	r, err := s.DB.ExecContext(ctx,
		`DELETE FROM logs WHERE id IN (SELECT id FROM logs ORDER BY id LIMIT ?)`, excess)
	if err != nil {
		return 0, fmt.Errorf("trim logs: %w", err)
	}
	n, _ := r.RowsAffected()
	return n, nil
}

// QueryFilter narrows Query results.
type QueryFilter struct {
	Container string
	Level     string
	Search    string // FTS5 MATCH expression; empty uses the plain index
	Since     string
	Until     string
	Limit     int
	Offset    int
}

// Query returns matching entries newest first. A non-empty Search routes
// through the FTS5 mirror; otherwise the (container, timestamp) index
// serves the scan.
func (s *Store) Query(ctx context.Context, f QueryFilter) ([]*Entry, error) {
	var (
		q    string
		args []any
	)
	if f.Search != "" {
		q = `SELECT l.id, l.timestamp, l.container, l.stream, l.level, l.message, l.raw
		     FROM logs l JOIN logs_fts ON logs_fts.rowid = l.id
		     WHERE logs_fts MATCH ?`
		args = append(args, f.Search)
	} else {
		q = `SELECT id, timestamp, container, stream, level, message, raw
		     FROM logs WHERE 1=1`
	}

	col := func(name string) string {
		if f.Search != "" {
			return "l." + name
		}
		return name
	}
	if f.Container != "" {
		q += ` AND ` + col("container") + ` = ?`
		args = append(args, f.Container)
	}
	if f.Level != "" {
		q += ` AND ` + col("level") + ` = ?`
		args = append(args, f.Level)
	}
	if f.Since != "" {
		q += ` AND ` + col("timestamp") + ` >= ?`
		args = append(args, f.Since)
	}
	if f.Until != "" {
		q += ` AND ` + col("timestamp") + ` <= ?`
		args = append(args, f.Until)
	}
	q += ` ORDER BY ` + col("timestamp") + ` DESC, ` + col("id") + ` DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Container, &e.Stream,
			&e.Level, &e.Message, &e.Raw); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Containers returns the distinct container names present in the store.
func (s *Store) Containers(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT DISTINCT container FROM logs ORDER BY container`)
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// GetCursor loads the persisted cursor for a container file. ok is false
// when no cursor has been stored yet.
func (s *Store) GetCursor(ctx context.Context, containerID, filePath string) (*Cursor, bool, error) {
	c := &Cursor{ContainerID: containerID, FilePath: filePath}
	err := s.DB.QueryRowContext(ctx,
		`SELECT position, inode FROM log_cursors WHERE container_id = ? AND file_path = ?`,
		containerID, filePath).Scan(&c.Position, &c.Inode)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cursor: %w", err)
	}
	return c, true, nil
}

// SaveCursor upserts the cursor after a successful poll batch.
func (s *Store) SaveCursor(ctx context.Context, c *Cursor) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO log_cursors (container_id, file_path, position, inode)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(container_id, file_path) DO UPDATE SET
		   position = excluded.position, inode = excluded.inode`,
		c.ContainerID, c.FilePath, c.Position, c.Inode)
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}
