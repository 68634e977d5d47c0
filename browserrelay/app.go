package browserrelay

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/monlight/browserrelay/internal/store"
	"github.com/hazyhaar/monlight/chassis"
	"github.com/hazyhaar/monlight/dbopen"
	"github.com/hazyhaar/monlight/shield"
)

// App assembles the browser relay binary: the admin and browser HTTP
// planes and the source-map retention sweeper. Admin routes sit behind
// the server API key; browser routes behind CORS and the DSN key gate.
type App struct {
	cfg     *Config
	logger  *slog.Logger
	server  *chassis.Server
	sweeper *Sweeper
	dbs     []*sql.DB
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

	upstream := NewUpstream(cfg.ErrorTrackerURL, cfg.ErrorTrackerAPIKey,
		cfg.MetricsCollectorURL, cfg.MetricsAPIKey)
	svc := New(db, upstream, logger)

	server := chassis.New(logger, ":"+cfg.Port)
	r := server.Router()
	limiter := shield.NewRateLimiter(cfg.RateLimit, time.Minute)
	r.Group(func(g chi.Router) {
		g.Use(shield.RequireAPIKey(cfg.AdminAPIKey))
		g.Use(limiter.Middleware)
		svc.RegisterAdminHTTP(g)
	})
	r.Group(func(g chi.Router) {
		g.Use(CORS(cfg.CORSOrigins))
		g.Use(shield.RequireDSNKey(svc.DSNResolver()))
		g.Use(limiter.Middleware)
		g.Use(shield.MaxBody(cfg.MaxBodyBytes))
		svc.RegisterBrowserHTTP(g)
	})

	return &App{
		cfg:     cfg,
		logger:  logger,
		server:  server,
		sweeper: NewSweeper(store.New(sweepDB), cfg.RetentionDays, 0, logger),
		dbs:     []*sql.DB{db, sweepDB},
	}, nil
}

// Run serves HTTP and runs the sweeper until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.server.Run(ctx) })
	g.Go(func() error { a.sweeper.Run(ctx); return nil })
	return g.Wait()
}

// Close releases the database handles.
func (a *App) Close() {
	for _, db := range a.dbs {
		db.Close()
	}
}
