// Command browserrelay is the Monlight browser ingestion gateway: DSN
// key auth, source-map stack rewriting, and forwarding to the error
// tracker and metrics collector.
//
// Usage:
//
//	browserrelay                       # run with environment config
//	browserrelay -config relay.yaml    # YAML defaults, env overrides
//	browserrelay -healthcheck          # probe /health and exit 0/1
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/monlight/browserrelay"
	"github.com/hazyhaar/monlight/chassis"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	healthcheck := flag.Bool("healthcheck", false, "probe the running service and exit")
	flag.Parse()

	cfg, err := browserrelay.Load(*configPath)
	if err != nil {
		slog.Error("browserrelay: config", "error", err)
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

	app, err := browserrelay.NewApp(cfg, logger)
	if err != nil {
		logger.Error("browserrelay: init", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if err := app.Run(ctx); err != nil {
		logger.Error("browserrelay: fatal", "error", err)
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
