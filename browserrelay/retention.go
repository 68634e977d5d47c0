package browserrelay

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/monlight/browserrelay/internal/store"
)

// Sweeper deletes source maps past the retention window. DSN keys are
// never auto-deleted; deactivation is the only removal path.
type Sweeper struct {
	store    *store.Store
	days     int
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewSweeper creates the sweeper. interval defaults to 24h.
func NewSweeper(st *store.Store, days int, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: st, days: days, interval: interval, logger: logger, now: time.Now}
}

// Run sweeps immediately, then on every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.sweep(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
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
	cutoff := s.now().UTC().AddDate(0, 0, -s.days).Format(timeLayout)
	n, err := s.store.DeleteSourceMapsBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("source map sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("source map retention sweep", "removed", n, "cutoff", cutoff)
	}
}
