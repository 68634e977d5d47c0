// Package store is the data access layer of the metrics collector: the raw
// point table, the minute/hour aggregate table, and the rollup queries.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// bucketLayout is the wire timestamp format shared by raw points and
// aggregate buckets.
const bucketLayout = "2006-01-02T15:04:05Z"

// Point is one raw metric sample.
type Point struct {
	Timestamp string
	Name      string
	Labels    string // canonical JSON text
	Value     float64
	Type      string
}

// Aggregate is one rollup row.
type Aggregate struct {
	Bucket     string   `json:"bucket"`
	Resolution string   `json:"resolution,omitempty"`
	Name       string   `json:"name,omitempty"`
	Labels     string   `json:"labels,omitempty"`
	Count      int64    `json:"count"`
	Sum        float64  `json:"sum"`
	Min        float64  `json:"min"`
	Max        float64  `json:"max"`
	Avg        float64  `json:"avg"`
	P50        *float64 `json:"p50"`
	P95        *float64 `json:"p95"`
	P99        *float64 `json:"p99"`
}

// Store wraps the metrics database.
type Store struct {
	DB *sql.DB
}

// New creates a Store from an already-opened database connection.
func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

// InsertRaw writes one ingest batch in a single transaction with a
// prepared statement.
func (s *Store) InsertRaw(ctx context.Context, points []*Point) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin metrics batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO metrics_raw (timestamp, name, labels, value, type)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare metrics insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		if _, err := stmt.ExecContext(ctx,
			p.Timestamp, p.Name, p.Labels, p.Value, p.Type); err != nil {
			return fmt.Errorf("insert metric: %w", err)
		}
	}
	return tx.Commit()
}

// PendingMinutes returns the distinct minute buckets with raw points that
// are strictly older than before and have no minute aggregate yet.
// Buckets are the timestamp floored to the minute.
func (s *Store) PendingMinutes(ctx context.Context, before string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT DISTINCT substr(timestamp, 1, 16) || ':00Z'
		FROM metrics_raw
		WHERE substr(timestamp, 1, 16) || ':00Z' < ?
		  AND substr(timestamp, 1, 16) || ':00Z' NOT IN (
		      SELECT DISTINCT bucket FROM metrics_aggregated WHERE resolution = 'minute')
		ORDER BY 1`, before)
	if err != nil {
		return nil, fmt.Errorf("pending minutes: %w", err)
	}
	return scanStrings(rows)
}

// PendingHours returns the distinct hour buckets with minute aggregates
// strictly older than before and no hourly aggregate yet.
func (s *Store) PendingHours(ctx context.Context, before string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT DISTINCT substr(bucket, 1, 13) || ':00:00Z'
		FROM metrics_aggregated
		WHERE resolution = 'minute'
		  AND substr(bucket, 1, 13) || ':00:00Z' < ?
		  AND substr(bucket, 1, 13) || ':00:00Z' NOT IN (
		      SELECT DISTINCT bucket FROM metrics_aggregated WHERE resolution = 'hour')
		ORDER BY 1`, before)
	if err != nil {
		return nil, fmt.Errorf("pending hours: %w", err)
	}
	return scanStrings(rows)
}

// RawInMinute returns the raw points of one minute bucket ordered by
// (name, labels) so the caller can group with a single pass.
func (s *Store) RawInMinute(ctx context.Context, bucket string) ([]*Point, error) {
	end, err := bucketEnd(bucket, time.Minute)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT timestamp, name, labels, value, type FROM metrics_raw
		WHERE timestamp >= ? AND timestamp < ?
		ORDER BY name, labels, value`, bucket, end)
	if err != nil {
		return nil, fmt.Errorf("raw in minute: %w", err)
	}
	defer rows.Close()

	var points []*Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.Timestamp, &p.Name, &p.Labels, &p.Value, &p.Type); err != nil {
			return nil, fmt.Errorf("scan raw point: %w", err)
		}
		points = append(points, &p)
	}
	return points, rows.Err()
}

// MinutesInHour returns the minute aggregates falling inside one hour
// bucket, ordered by (name, labels).
func (s *Store) MinutesInHour(ctx context.Context, bucket string) ([]*Aggregate, error) {
	end, err := bucketEnd(bucket, time.Hour)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT bucket, name, labels, count, sum, min, max, avg, p50, p95, p99
		FROM metrics_aggregated
		WHERE resolution = 'minute' AND bucket >= ? AND bucket < ?
		ORDER BY name, labels, bucket`, bucket, end)
	if err != nil {
		return nil, fmt.Errorf("minutes in hour: %w", err)
	}
	return scanAggregates(rows)
}

// UpsertAggregate writes one rollup row, replacing any previous run's row
// for the same (resolution, bucket, name, labels).
func (s *Store) UpsertAggregate(ctx context.Context, resolution string, a *Aggregate) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT OR REPLACE INTO metrics_aggregated
		  (bucket, resolution, name, labels, count, sum, min, max, avg, p50, p95, p99)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Bucket, resolution, a.Name, a.Labels,
		a.Count, a.Sum, a.Min, a.Max, a.Avg, a.P50, a.P95, a.P99)
	if err != nil {
		return fmt.Errorf("upsert aggregate: %w", err)
	}
	return nil
}

// SeriesFilter narrows Series results.
type SeriesFilter struct {
	Name       string
	Resolution string
	Since      string
	Labels     map[string]string
}

// Series returns the aggregates for one metric ordered by bucket. Label
// filters match via json_extract on the stored canonical JSON.
func (s *Store) Series(ctx context.Context, f SeriesFilter) ([]*Aggregate, error) {
	q := `SELECT bucket, name, labels, count, sum, min, max, avg, p50, p95, p99
	      FROM metrics_aggregated
	      WHERE resolution = ? AND name = ? AND bucket >= ?`
	args := []any{f.Resolution, f.Name, f.Since}
	for k, v := range f.Labels {
		q += ` AND json_extract(labels, ?) = ?`
		args = append(args, "$."+k, v)
	}
	q += ` ORDER BY bucket, labels`

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query series: %w", err)
	}
	return scanAggregates(rows)
}

// Names returns every distinct metric name seen in raw or aggregate rows.
func (s *Store) Names(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT name FROM metrics_raw
		UNION
		SELECT name FROM metrics_aggregated
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list names: %w", err)
	}
	return scanStrings(rows)
}

// DeleteRawBefore removes raw points older than cutoff.
func (s *Store) DeleteRawBefore(ctx context.Context, cutoff string) (int64, error) {
	r, err := s.DB.ExecContext(ctx, `DELETE FROM metrics_raw WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep raw: %w", err)
	}
	n, _ := r.RowsAffected()
	return n, nil
}

// DeleteAggregatedBefore removes aggregates of one resolution older than
// cutoff.
func (s *Store) DeleteAggregatedBefore(ctx context.Context, resolution, cutoff string) (int64, error) {
	r, err := s.DB.ExecContext(ctx,
		`DELETE FROM metrics_aggregated WHERE resolution = ? AND bucket < ?`, resolution, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep %s aggregates: %w", resolution, err)
	}
	n, _ := r.RowsAffected()
	return n, nil
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanAggregates(rows *sql.Rows) ([]*Aggregate, error) {
	defer rows.Close()
	var out []*Aggregate
	for rows.Next() {
		var a Aggregate
		if err := rows.Scan(&a.Bucket, &a.Name, &a.Labels, &a.Count, &a.Sum,
			&a.Min, &a.Max, &a.Avg, &a.P50, &a.P95, &a.P99); err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// bucketEnd returns the exclusive upper bound of a bucket: its start plus
// the bucket width.
func bucketEnd(bucket string, width time.Duration) (string, error) {
	t, err := time.Parse(bucketLayout, bucket)
	if err != nil {
		return "", fmt.Errorf("bad bucket %q: %w", bucket, err)
	}
	return t.Add(width).Format(bucketLayout), nil
}
