package logviewer

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
	"github.com/hazyhaar/monlight/logviewer/internal/store"
	"github.com/hazyhaar/monlight/logviewer/internal/tail"
	"github.com/hazyhaar/monlight/shield"
)

// App assembles the log viewer binary: the query/tail HTTP service and
// the container log poller. The poller writes through its own database
// handle; committed batches fan out to the tail hub.
type App struct {
	cfg    *Config
	logger *slog.Logger
	server *chassis.Server
	poller *tail.Poller
	dbs    []*sql.DB
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
	pollDB, err := dbopen.Open(cfg.DatabasePath)
	if err != nil {
		db.Close()
		return nil, err
	}

	hub := NewTailHub(cfg.TailClients, cfg.TailBuffer)
	svc := New(db, hub, logger)
	poller := tail.NewPoller(store.New(pollDB), tail.Config{
		Root:       cfg.LogSources,
		Containers: cfg.Containers,
		Interval:   cfg.PollEvery(),
		MaxEntries: cfg.MaxEntries,
	}, hub.Publish, logger)

	server := chassis.New(logger, ":"+cfg.Port)
	r := server.Router()
	r.Group(func(g chi.Router) {
		g.Use(shield.RequireAPIKey(cfg.APIKey))
		g.Use(shield.NewRateLimiter(cfg.RateLimit, time.Minute).Middleware)
		svc.RegisterHTTP(g)
	})

	return &App{
		cfg:    cfg,
		logger: logger,
		server: server,
		poller: poller,
		dbs:    []*sql.DB{db, pollDB},
	}, nil
}

// Run discovers the watched log files, then serves HTTP and polls until
// ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.poller.Discover(ctx); err != nil {
		return fmt.Errorf("discover log sources: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.server.Run(ctx) })
	g.Go(func() error { a.poller.Run(ctx); return nil })
	return g.Wait()
}

// Close releases the database handles.
func (a *App) Close() {
	for _, db := range a.dbs {
		db.Close()
	}
}
