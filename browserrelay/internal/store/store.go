// Package store is the data access layer of the browser relay: DSN keys
// and uploaded source maps.
package store

import (
	"context"
	"database/sql"
	"fmt"
)

// DSNKey is one browser-safe public credential mapped to a project.
type DSNKey struct {
	ID        int64  `json:"id"`
	PublicKey string `json:"public_key"`
	Project   string `json:"project"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
}

// SourceMap is one uploaded Source Map v3 document. Content is omitted
// from listings.
type SourceMap struct {
	ID        int64  `json:"id"`
	Project   string `json:"project"`
	Release   string `json:"release"`
	FileURL   string `json:"file_url"`
	Content   string `json:"-"`
	CreatedAt string `json:"created_at"`
}

// Store wraps the browser relay database.
type Store struct {
	DB *sql.DB
}

// New creates a Store from an already-opened database connection.
func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

// CreateDSNKey inserts a new key and returns it with its row id.
func (s *Store) CreateDSNKey(ctx context.Context, publicKey, project, createdAt string) (*DSNKey, error) {
	r, err := s.DB.ExecContext(ctx,
		`INSERT INTO dsn_keys (public_key, project, active, created_at) VALUES (?, ?, 1, ?)`,
		publicKey, project, createdAt)
	if err != nil {
		return nil, fmt.Errorf("create dsn key: %w", err)
	}
	id, err := r.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create dsn key: %w", err)
	}
	return &DSNKey{ID: id, PublicKey: publicKey, Project: project, Active: true, CreatedAt: createdAt}, nil
}

// ListDSNKeys returns every key, newest first.
func (s *Store) ListDSNKeys(ctx context.Context) ([]*DSNKey, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, public_key, project, active, created_at FROM dsn_keys ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list dsn keys: %w", err)
	}
	defer rows.Close()

	var keys []*DSNKey
	for rows.Next() {
		var k DSNKey
		var active int
		if err := rows.Scan(&k.ID, &k.PublicKey, &k.Project, &active, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dsn key: %w", err)
		}
		k.Active = active != 0
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// DeactivateDSNKey soft-deletes a key. found is false for unknown ids.
func (s *Store) DeactivateDSNKey(ctx context.Context, id int64) (bool, error) {
	r, err := s.DB.ExecContext(ctx, `UPDATE dsn_keys SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deactivate dsn key: %w", err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// LookupProject resolves an active public key to its project.
func (s *Store) LookupProject(ctx context.Context, publicKey string) (string, bool, error) {
	var project string
	err := s.DB.QueryRowContext(ctx,
		`SELECT project FROM dsn_keys WHERE public_key = ? AND active = 1`, publicKey).
		Scan(&project)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup dsn key: %w", err)
	}
	return project, true, nil
}

// UpsertSourceMap inserts or replaces the map for (project, release,
// file_url) and returns the surviving row id.
func (s *Store) UpsertSourceMap(ctx context.Context, m *SourceMap) (int64, error) {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO source_maps (project, release, file_url, map_content, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(project, release, file_url) DO UPDATE SET
		  map_content = excluded.map_content, created_at = excluded.created_at`,
		m.Project, m.Release, m.FileURL, m.Content, m.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("upsert source map: %w", err)
	}
	var id int64
	err = s.DB.QueryRowContext(ctx,
		`SELECT id FROM source_maps WHERE project = ? AND release = ? AND file_url = ?`,
		m.Project, m.Release, m.FileURL).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert source map: %w", err)
	}
	return id, nil
}

// ListSourceMaps returns the uploaded maps without their content, newest
// first.
func (s *Store) ListSourceMaps(ctx context.Context) ([]*SourceMap, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, project, release, file_url, created_at
		FROM source_maps ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list source maps: %w", err)
	}
	defer rows.Close()

	var maps []*SourceMap
	for rows.Next() {
		var m SourceMap
		if err := rows.Scan(&m.ID, &m.Project, &m.Release, &m.FileURL, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan source map: %w", err)
		}
		maps = append(maps, &m)
	}
	return maps, rows.Err()
}

// GetSourceMapContent loads one map's content for stack rewriting. ok is
// false when no map is stored for the triple.
func (s *Store) GetSourceMapContent(ctx context.Context, project, release, fileURL string) (string, bool, error) {
	var content string
	err := s.DB.QueryRowContext(ctx,
		`SELECT map_content FROM source_maps WHERE project = ? AND release = ? AND file_url = ?`,
		project, release, fileURL).Scan(&content)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get source map: %w", err)
	}
	return content, true, nil
}

// DeleteSourceMap removes one map by id. found is false for unknown ids.
func (s *Store) DeleteSourceMap(ctx context.Context, id int64) (bool, error) {
	r, err := s.DB.ExecContext(ctx, `DELETE FROM source_maps WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete source map: %w", err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteSourceMapsBefore removes maps older than cutoff. DSN keys are
// never swept.
func (s *Store) DeleteSourceMapsBefore(ctx context.Context, cutoff string) (int64, error) {
	r, err := s.DB.ExecContext(ctx, `DELETE FROM source_maps WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep source maps: %w", err)
	}
	n, _ := r.RowsAffected()
	return n, nil
}
