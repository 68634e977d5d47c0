package metrics

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/hazyhaar/monlight/metrics/internal/store"
)

// MinuteRoller aggregates closed minute buckets of raw points. A bucket is
// closed once the wall clock has moved past it; the current minute is
// never rolled so late points within it are not lost.
type MinuteRoller struct {
	store    *store.Store
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewMinuteRoller creates the roller. interval defaults to 60s.
func NewMinuteRoller(st *store.Store, interval time.Duration, logger *slog.Logger) *MinuteRoller {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MinuteRoller{store: st, interval: interval, logger: logger, now: time.Now}
}

// Run rolls on the configured interval until ctx is cancelled. A failed
// run is logged and retried next tick.
func (r *MinuteRoller) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.RollOnce(ctx); err != nil {
				r.logger.Error("minute rollup failed", "error", err)
			}
		}
	}
}

// RollOnce aggregates every pending closed minute bucket.
func (r *MinuteRoller) RollOnce(ctx context.Context) error {
	current := r.now().UTC().Truncate(time.Minute).Format(timeLayout)
	buckets, err := r.store.PendingMinutes(ctx, current)
	if err != nil {
		return err
	}

	for _, bucket := range buckets {
		points, err := r.store.RawInMinute(ctx, bucket)
		if err != nil {
			return err
		}
		for _, agg := range rollMinute(bucket, points) {
			if err := r.store.UpsertAggregate(ctx, "minute", agg); err != nil {
				return err
			}
		}
		r.logger.Debug("minute bucket rolled", "bucket", bucket, "points", len(points))
	}
	return nil
}

// rollMinute groups one bucket's points by (name, labels) and computes the
// aggregates. Points arrive ordered by (name, labels, value) so each group
// is a contiguous, value-sorted run.
func rollMinute(bucket string, points []*store.Point) []*store.Aggregate {
	var out []*store.Aggregate
	for start := 0; start < len(points); {
		end := start
		for end < len(points) &&
			points[end].Name == points[start].Name &&
			points[end].Labels == points[start].Labels {
			end++
		}
		group := points[start:end]

		agg := &store.Aggregate{
			Bucket: bucket,
			Name:   group[0].Name,
			Labels: group[0].Labels,
			Count:  int64(len(group)),
			Min:    group[0].Value,
			Max:    group[len(group)-1].Value,
		}
		for _, p := range group {
			agg.Sum += p.Value
		}
		agg.Avg = agg.Sum / float64(agg.Count)

		if group[0].Type == "histogram" {
			values := make([]float64, len(group))
			for i, p := range group {
				values[i] = p.Value
			}
			sort.Float64s(values)
			agg.P50 = ptr(percentile(values, 0.50))
			agg.P95 = ptr(percentile(values, 0.95))
			agg.P99 = ptr(percentile(values, 0.99))
		}
		out = append(out, agg)
		start = end
	}
	return out
}

// percentile picks from a sorted slice. The index is the truncated rank
// n*q shifted to 0-based, so 60 samples give p99 = values[58].
func percentile(sorted []float64, q float64) float64 {
	idx := int(float64(len(sorted)) * q)
	if idx > 0 {
		idx--
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func ptr(v float64) *float64 { return &v }

// HourRoller merges closed hours of minute aggregates into hourly rows.
// Percentiles are count-weighted averages of the minute percentiles, an
// acknowledged approximation.
type HourRoller struct {
	store    *store.Store
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewHourRoller creates the roller. interval defaults to one hour.
func NewHourRoller(st *store.Store, interval time.Duration, logger *slog.Logger) *HourRoller {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HourRoller{store: st, interval: interval, logger: logger, now: time.Now}
}

// Run rolls on the configured interval until ctx is cancelled.
func (r *HourRoller) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.RollOnce(ctx); err != nil {
				r.logger.Error("hour rollup failed", "error", err)
			}
		}
	}
}

// RollOnce merges every pending closed hour bucket.
func (r *HourRoller) RollOnce(ctx context.Context) error {
	current := r.now().UTC().Truncate(time.Hour).Format(timeLayout)
	buckets, err := r.store.PendingHours(ctx, current)
	if err != nil {
		return err
	}

	for _, bucket := range buckets {
		minutes, err := r.store.MinutesInHour(ctx, bucket)
		if err != nil {
			return err
		}
		for _, agg := range mergeHour(bucket, minutes) {
			if err := r.store.UpsertAggregate(ctx, "hour", agg); err != nil {
				return err
			}
		}
		r.logger.Debug("hour bucket rolled", "bucket", bucket, "minutes", len(minutes))
	}
	return nil
}

// mergeHour merges minute aggregates grouped by (name, labels). Rows
// arrive ordered by (name, labels, bucket).
func mergeHour(bucket string, minutes []*store.Aggregate) []*store.Aggregate {
	var out []*store.Aggregate
	for start := 0; start < len(minutes); {
		end := start
		for end < len(minutes) &&
			minutes[end].Name == minutes[start].Name &&
			minutes[end].Labels == minutes[start].Labels {
			end++
		}
		group := minutes[start:end]

		agg := &store.Aggregate{
			Bucket: bucket,
			Name:   group[0].Name,
			Labels: group[0].Labels,
			Min:    group[0].Min,
			Max:    group[0].Max,
		}
		var p50, p95, p99 float64
		var pCount int64
		for _, m := range group {
			agg.Count += m.Count
			agg.Sum += m.Sum
			if m.Min < agg.Min {
				agg.Min = m.Min
			}
			if m.Max > agg.Max {
				agg.Max = m.Max
			}
			if m.P50 != nil {
				w := float64(m.Count)
				p50 += *m.P50 * w
				p95 += *m.P95 * w
				p99 += *m.P99 * w
				pCount += m.Count
			}
		}
		agg.Avg = agg.Sum / float64(agg.Count)
		if pCount > 0 {
			agg.P50 = ptr(p50 / float64(pCount))
			agg.P95 = ptr(p95 / float64(pCount))
			agg.P99 = ptr(p99 / float64(pCount))
		}
		out = append(out, agg)
		start = end
	}
	return out
}
