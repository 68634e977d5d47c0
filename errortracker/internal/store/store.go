// Package store is the data access layer of the error tracker. All writes
// that touch a group and its occurrences happen inside one transaction so
// the occurrence ring and the group counters can never drift apart.
package store

import (
	"context"
	"database/sql"
	"fmt"
)

// maxOccurrences is the per-group occurrence ring size.
const maxOccurrences = 5

// Group is one deduplicated error row.
type Group struct {
	ID            int64   `json:"id"`
	Fingerprint   string  `json:"fingerprint"`
	Project       string  `json:"project"`
	Environment   string  `json:"environment"`
	ExceptionType string  `json:"exception_type"`
	Message       string  `json:"message"`
	Traceback     string  `json:"traceback"`
	Count         int64   `json:"count"`
	FirstSeen     string  `json:"first_seen"`
	LastSeen      string  `json:"last_seen"`
	Resolved      bool    `json:"resolved"`
	ResolvedAt    *string `json:"resolved_at"`
}

// Occurrence is one captured instance of a group.
type Occurrence struct {
	ID             int64   `json:"id"`
	ErrorID        int64   `json:"error_id"`
	Timestamp      string  `json:"timestamp"`
	RequestURL     *string `json:"request_url"`
	RequestMethod  *string `json:"request_method"`
	RequestHeaders *string `json:"request_headers"`
	UserID         *string `json:"user_id"`
	Extra          *string `json:"extra"`
	Traceback      string  `json:"traceback"`
}

// IngestInput is one error occurrence to fold into its group.
type IngestInput struct {
	Fingerprint    string
	Project        string
	Environment    string
	ExceptionType  string
	Message        string
	Traceback      string
	Timestamp      string // UTC ISO-8601
	RequestURL     *string
	RequestMethod  *string
	RequestHeaders *string
	UserID         *string
	Extra          *string
}

// IngestResult reports what the ingest transaction did.
type IngestResult struct {
	Status      string // "created", "incremented" or "reopened"
	ID          int64
	Fingerprint string
	Count       int64
}

// Store wraps the error tracker database.
type Store struct {
	DB *sql.DB
}

// New creates a Store from an already-opened database connection.
func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Ingest runs the dedup state machine for one occurrence in a single
// transaction: group upsert, counter bump, occurrence append, and ring
// trim to the newest 5 rows.
func (s *Store) Ingest(ctx context.Context, in *IngestInput) (*IngestResult, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin ingest: %w", err)
	}
	defer tx.Rollback()

	var (
		id       int64
		resolved int
		count    int64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, resolved, count FROM errors WHERE fingerprint = ?`,
		in.Fingerprint).Scan(&id, &resolved, &count)

	res := &IngestResult{Fingerprint: in.Fingerprint}
	switch {
	case err == sql.ErrNoRows:
		r, err := tx.ExecContext(ctx,
			`INSERT INTO errors (fingerprint, project, environment, exception_type,
			 message, traceback, count, first_seen, last_seen, resolved)
			 VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, 0)`,
			in.Fingerprint, in.Project, in.Environment, in.ExceptionType,
			in.Message, in.Traceback, in.Timestamp, in.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("insert group: %w", err)
		}
		id, err = r.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("group id: %w", err)
		}
		res.Status = "created"
		res.ID = id
		res.Count = 1

	case err != nil:
		return nil, fmt.Errorf("lookup fingerprint: %w", err)

	case resolved == 1:
		// Reopen: clear the resolved state and refresh the group with the
		// new occurrence's message and traceback.
		if _, err := tx.ExecContext(ctx,
			`UPDATE errors SET resolved = 0, resolved_at = NULL, count = count + 1,
			 last_seen = ?, message = ?, traceback = ? WHERE id = ?`,
			in.Timestamp, in.Message, in.Traceback, id); err != nil {
			return nil, fmt.Errorf("reopen group: %w", err)
		}
		res.Status = "reopened"
		res.ID = id
		res.Count = count + 1

	default:
		if _, err := tx.ExecContext(ctx,
			`UPDATE errors SET count = count + 1, last_seen = ? WHERE id = ?`,
			in.Timestamp, id); err != nil {
			return nil, fmt.Errorf("increment group: %w", err)
		}
		res.Status = "incremented"
		res.ID = id
		res.Count = count + 1
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO error_occurrences (error_id, timestamp, request_url,
		 request_method, request_headers, user_id, extra, traceback)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, in.Timestamp, in.RequestURL, in.RequestMethod,
		in.RequestHeaders, in.UserID, in.Extra, in.Traceback); err != nil {
		return nil, fmt.Errorf("insert occurrence: %w", err)
	}

	// Trim the ring to the newest maxOccurrences rows for this group.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM error_occurrences WHERE error_id = ? AND id NOT IN (
		   SELECT id FROM error_occurrences WHERE error_id = ?
		   ORDER BY id DESC LIMIT ?)`,
		res.ID, res.ID, maxOccurrences); err != nil {
		return nil, fmt.Errorf("trim occurrences: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ingest: %w", err)
	}
	return res, nil
}

// ListFilter narrows List results. Resolved filters on the resolved flag.
type ListFilter struct {
	Project     string
	Environment string
	Resolved    bool
	Limit       int
	Offset      int
}

// List returns groups sorted by last_seen descending.
func (s *Store) List(ctx context.Context, f ListFilter) ([]*Group, error) {
	q := `SELECT id, fingerprint, project, environment, exception_type, message,
	      traceback, count, first_seen, last_seen, resolved, resolved_at
	      FROM errors WHERE resolved = ?`
	args := []any{boolToInt(f.Resolved)}
	if f.Project != "" {
		q += ` AND project = ?`
		args = append(args, f.Project)
	}
	if f.Environment != "" {
		q += ` AND environment = ?`
		args = append(args, f.Environment)
	}
	q += ` ORDER BY last_seen DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list errors: %w", err)
	}
	defer rows.Close()

	var groups []*Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// Get returns one group with its occurrences, or nil when unknown.
func (s *Store) Get(ctx context.Context, id int64) (*Group, []*Occurrence, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, fingerprint, project, environment, exception_type, message,
		 traceback, count, first_seen, last_seen, resolved, resolved_at
		 FROM errors WHERE id = ?`, id)
	g, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, error_id, timestamp, request_url, request_method,
		 request_headers, user_id, extra, traceback
		 FROM error_occurrences WHERE error_id = ? ORDER BY id DESC`, id)
	if err != nil {
		return nil, nil, fmt.Errorf("list occurrences: %w", err)
	}
	defer rows.Close()

	var occs []*Occurrence
	for rows.Next() {
		var o Occurrence
		if err := rows.Scan(&o.ID, &o.ErrorID, &o.Timestamp, &o.RequestURL,
			&o.RequestMethod, &o.RequestHeaders, &o.UserID, &o.Extra, &o.Traceback); err != nil {
			return nil, nil, fmt.Errorf("scan occurrence: %w", err)
		}
		occs = append(occs, &o)
	}
	return g, occs, rows.Err()
}

// Resolve marks a group resolved. Idempotent: resolving twice keeps the
// first resolved_at. found is false when the id is unknown.
func (s *Store) Resolve(ctx context.Context, id int64, now string) (found bool, err error) {
	var exists int
	err = s.DB.QueryRowContext(ctx, `SELECT 1 FROM errors WHERE id = ?`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolve lookup: %w", err)
	}
	_, err = s.DB.ExecContext(ctx,
		`UPDATE errors SET resolved = 1, resolved_at = ? WHERE id = ? AND resolved = 0`,
		now, id)
	if err != nil {
		return false, fmt.Errorf("resolve: %w", err)
	}
	return true, nil
}

// Projects returns the distinct project names seen so far.
func (s *Store) Projects(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT DISTINCT project FROM errors ORDER BY project`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// ProjectStats is the per-project group summary behind /api/stats.
type ProjectStats struct {
	Project  string `json:"project"`
	Groups   int64  `json:"groups"`
	Open     int64  `json:"open"`
	Resolved int64  `json:"resolved"`
	Events   int64  `json:"events"`
}

// Stats aggregates group and event counts per project.
func (s *Store) Stats(ctx context.Context) ([]*ProjectStats, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT project, COUNT(*), SUM(resolved = 0), SUM(resolved = 1), SUM(count)
		 FROM errors GROUP BY project ORDER BY project`)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()

	var out []*ProjectStats
	for rows.Next() {
		var st ProjectStats
		if err := rows.Scan(&st.Project, &st.Groups, &st.Open, &st.Resolved, &st.Events); err != nil {
			return nil, err
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}

// DeleteResolvedBefore removes resolved groups whose resolved_at is older
// than cutoff; ON DELETE CASCADE drops their occurrences. Returns the
// number of groups removed.
func (s *Store) DeleteResolvedBefore(ctx context.Context, cutoff string) (int64, error) {
	r, err := s.DB.ExecContext(ctx,
		`DELETE FROM errors WHERE resolved = 1 AND resolved_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention delete: %w", err)
	}
	n, _ := r.RowsAffected()
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGroup(row scanner) (*Group, error) {
	var g Group
	var resolved int
	err := row.Scan(&g.ID, &g.Fingerprint, &g.Project, &g.Environment,
		&g.ExceptionType, &g.Message, &g.Traceback, &g.Count,
		&g.FirstSeen, &g.LastSeen, &resolved, &g.ResolvedAt)
	if err != nil {
		return nil, err
	}
	g.Resolved = resolved != 0
	return &g, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
