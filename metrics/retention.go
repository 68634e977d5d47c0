package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/hazyhaar/monlight/metrics/internal/store"
)

// Sweeper deletes aged rows on a tiered schedule: raw points go first,
// minute aggregates later, hourly aggregates last.
type Sweeper struct {
	store     *store.Store
	rawTTL    time.Duration
	minuteTTL time.Duration
	hourTTL   time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewSweeper creates the sweeper. interval defaults to 24h.
func NewSweeper(st *store.Store, rawTTL, minuteTTL, hourTTL, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:     st,
		rawTTL:    rawTTL,
		minuteTTL: minuteTTL,
		hourTTL:   hourTTL,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
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
	now := s.now().UTC()

	raw, err := s.store.DeleteRawBefore(ctx, now.Add(-s.rawTTL).Format(timeLayout))
	if err != nil {
		s.logger.Error("raw sweep failed", "error", err)
	}
	minutes, err := s.store.DeleteAggregatedBefore(ctx, "minute", now.Add(-s.minuteTTL).Format(timeLayout))
	if err != nil {
		s.logger.Error("minute sweep failed", "error", err)
	}
	hours, err := s.store.DeleteAggregatedBefore(ctx, "hour", now.Add(-s.hourTTL).Format(timeLayout))
	if err != nil {
		s.logger.Error("hour sweep failed", "error", err)
	}
	if raw+minutes+hours > 0 {
		s.logger.Info("metrics retention sweep",
			"raw", raw, "minute", minutes, "hour", hours)
	}
}
