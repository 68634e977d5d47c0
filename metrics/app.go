package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/monlight/chassis"
	"github.com/hazyhaar/monlight/dbopen"
	"github.com/hazyhaar/monlight/metrics/internal/store"
	"github.com/hazyhaar/monlight/shield"
)

// App assembles the metrics collector binary: the ingest/query HTTP
// service, the minute and hour rollers, and the tiered retention sweeper.
// The workers share a second database handle separate from ingest.
type App struct {
	cfg        *Config
	logger     *slog.Logger
	server     *chassis.Server
	minuteRoll *MinuteRoller
	hourRoll   *HourRoller
	sweeper    *Sweeper
	dbs        []*sql.DB
}

// NewApp opens the database, runs migrations and wires the routes.
func NewApp(cfg *Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := dbopen.Open(cfg.DatabasePath, dbopen.WithMkdirAll())
	if err != nil {
		return nil, err
	}
	if err := dbopen.Migrate(db, store.Migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	workerDB, err := dbopen.Open(cfg.DatabasePath)
	if err != nil {
		db.Close()
		return nil, err
	}
	workerStore := store.New(workerDB)

	svc := New(db, logger)
	server := chassis.New(logger, ":"+cfg.Port)
	r := server.Router()
	r.Group(func(g chi.Router) {
		g.Use(shield.RequireAPIKey(cfg.APIKey))
		g.Use(shield.NewRateLimiter(cfg.RateLimit, time.Minute).Middleware)
		g.Use(shield.MaxBody(cfg.MaxBodyBytes))
		svc.RegisterHTTP(g)
	})

	return &App{
		cfg:        cfg,
		logger:     logger,
		server:     server,
		minuteRoll: NewMinuteRoller(workerStore, cfg.AggregateEvery(), logger),
		hourRoll:   NewHourRoller(workerStore, time.Hour, logger),
		sweeper:    NewSweeper(workerStore, cfg.RawTTL(), cfg.MinuteTTL(), cfg.HourTTL(), 0, logger),
		dbs:        []*sql.DB{db, workerDB},
	}, nil
}

// Run serves HTTP and supervises the workers until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.server.Run(ctx) })
	g.Go(func() error { a.minuteRoll.Run(ctx); return nil })
	g.Go(func() error { a.hourRoll.Run(ctx); return nil })
	g.Go(func() error { a.sweeper.Run(ctx); return nil })
	return g.Wait()
}

// Close releases the database handles.
func (a *App) Close() {
	for _, db := range a.dbs {
		db.Close()
	}
}
