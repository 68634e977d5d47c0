package errortracker

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
	"github.com/hazyhaar/monlight/errortracker/internal/store"
	"github.com/hazyhaar/monlight/shield"
)

// App assembles the error tracker binary: the HTTP service, the alert
// dispatcher and the retention sweeper. The sweeper runs on its own
// database handle so a long sweep never starves ingest.
type App struct {
	cfg        *Config
	logger     *slog.Logger
	server     *chassis.Server
	dispatcher *Dispatcher
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
	sweepDB, err := dbopen.Open(cfg.DatabasePath)
	if err != nil {
		db.Close()
		return nil, err
	}

	var dispatcher *Dispatcher
	if cfg.AlertingEnabled() {
		dispatcher = NewDispatcher(NewMailer(cfg), logger)
	} else {
		logger.Info("alerting disabled: postmark not configured")
	}

	svc := New(db, dispatcher, logger)
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
		dispatcher: dispatcher,
		sweeper:    NewSweeper(store.New(sweepDB), cfg.RetentionDays, 0, logger),
		dbs:        []*sql.DB{db, sweepDB},
	}, nil
}

// Run serves HTTP and supervises the workers until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.server.Run(ctx) })
	g.Go(func() error { a.sweeper.Run(ctx); return nil })
	if a.dispatcher != nil {
		g.Go(func() error { a.dispatcher.Run(ctx); return nil })
	}
	return g.Wait()
}

// Close releases the database handles.
func (a *App) Close() {
	for _, db := range a.dbs {
		db.Close()
	}
}
