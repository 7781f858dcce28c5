// Command hudlink runs a realtime voice link to a Gemini Live session: it
// streams the microphone to the model, plays the spoken replies back without
// gaps and exposes captions and connection state over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/hudlink/internal/app"
	"github.com/MrWong99/hudlink/internal/config"
	"github.com/MrWong99/hudlink/internal/observe"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "hudlink.yaml", "path to the YAML configuration file")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the config (missing file is ignored)")
	watch := flag.Bool("watch", true, "reload the config file when it changes")
	activate := flag.Bool("activate", false, "activate the session right after startup")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "hudlink: load %s: %v\n", *envFile, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	var level slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	var (
		cfg     *config.Config
		watcher *config.Watcher
		err     error
	)
	if *watch {
		watcher, err = config.NewWatcher(*configPath, config.WithWatcherLogger(logger))
		if err == nil {
			cfg = watcher.Current()
		}
	} else {
		cfg, err = config.Load(*configPath)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "hudlink: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "hudlink: %v\n", err)
		}
		return 1
	}
	level.Set(cfg.Server.LogLevel.Level())

	slog.Info("hudlink starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	telemetry, err := observe.Setup(ctx, observe.WithService("hudlink", version))
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(telemetry.Meter)
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		_ = telemetry.Shutdown(context.Background())
		return 1
	}

	// ── Devices and live provider ─────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltins(reg)

	devices, err := buildDevices(cfg, reg)
	if err != nil {
		slog.Error("failed to build devices", "err", err)
		_ = telemetry.Shutdown(context.Background())
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(cfg, devices,
		app.WithMetrics(metrics),
		app.WithGatherer(telemetry.Registry),
		app.WithLevelVar(&level),
		app.WithLogger(logger),
		app.WithCloser(func() error { return telemetry.Shutdown(context.Background()) }),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		_ = telemetry.Shutdown(context.Background())
		return 1
	}
	if *activate {
		if err := application.Controller().Activate(ctx); err != nil {
			slog.Error("initial activation failed", "err", err)
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return application.Run(gctx) })
	if watcher != nil {
		g.Go(func() error {
			return watcher.Run(gctx, func(r config.Reload) {
				application.ApplyConfig(r.Old, r.New)
			})
		})
	}

	exit := 0
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		exit = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		exit = 1
	}
	slog.Info("goodbye")
	return exit
}
