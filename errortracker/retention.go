package errortracker

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/monlight/errortracker/internal/store"
)

// Sweeper deletes resolved groups whose resolved_at has aged past the
// retention window. It owns its own store so a slow sweep never starves
// the request path.
type Sweeper struct {
	store    *store.Store
	days     int
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a retention sweeper running every interval.
func NewSweeper(st *store.Store, days int, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Sweeper{store: st, days: days, interval: interval, logger: logger}
}

// Run sweeps on a ticker until ctx is cancelled. A failed sweep is logged
// and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.days).Format(timeLayout)
	n, err := s.store.DeleteResolvedBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("retention sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("retention sweep", "deleted_groups", n, "cutoff", cutoff)
	}
}
