// Command logviewer is the Monlight container log viewer: it tails
// docker json-file logs into SQLite and serves query, search and live
// SSE tail endpoints.
//
// Usage:
//
//	logviewer                        # run with environment config
//	logviewer -config viewer.yaml    # YAML defaults, env overrides
//	logviewer -healthcheck           # probe /health and exit 0/1
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/monlight/chassis"
	"github.com/hazyhaar/monlight/logviewer"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	healthcheck := flag.Bool("healthcheck", false, "probe the running service and exit")
	flag.Parse()

	cfg, err := logviewer.Load(*configPath)
	if err != nil {
		slog.Error("logviewer: config", "error", err)
		os.Exit(1)
	}

	if *healthcheck {
		if err := chassis.Probe(cfg.Port); err != nil {
			os.Exit(1)
		}
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := logviewer.NewApp(cfg, logger)
	if err != nil {
		logger.Error("logviewer: init", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		logger.Error("logviewer: fatal", "error", err)
		os.Exit(1)
	}
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
