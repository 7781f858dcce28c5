// Package app wires the hudlink subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the session controller
// and the HTTP surface from the config, Run serves until the context ends,
// and Shutdown tears everything down in order.
//
// For testing, inject doubles through [Devices] and the functional options.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/hudlink/internal/config"
	"github.com/MrWong99/hudlink/internal/control"
	"github.com/MrWong99/hudlink/internal/health"
	"github.com/MrWong99/hudlink/internal/observe"
	"github.com/MrWong99/hudlink/internal/session"
	"github.com/MrWong99/hudlink/pkg/audio"
	"github.com/MrWong99/hudlink/pkg/provider/live"
)

// readHeaderTimeout bounds slow clients on the control endpoint.
const readHeaderTimeout = 10 * time.Second

// Devices holds the collaborators built from the registry by main.go.
type Devices struct {
	Live    live.Provider
	Capture audio.CaptureDevice
	Output  audio.OutputDevice
}

// App owns the controller and the HTTP server.
type App struct {
	cfg     *config.Config
	devices Devices
	metrics *observe.Metrics
	gather  prometheus.Gatherer
	level   *slog.LevelVar
	logger  *slog.Logger

	ctrl   *session.Controller
	server *http.Server

	// closers are called in order during Shutdown, after the controller.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics sets the instruments shared by every subsystem.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGatherer serves g on /metrics. Without it the route is not registered.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gather = g }
}

// WithLevelVar lets config reloads change the log level at runtime.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithLogger sets the application logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithCloser registers fn to run during Shutdown.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// New creates an App from cfg and devices.
func New(cfg *config.Config, devices Devices, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		devices: devices,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.NopMetrics()
	}

	ctrl, err := session.New(session.Config{
		Provider:          devices.Live,
		Capture:           devices.Capture,
		Output:            devices.Output,
		Live:              cfg.Live.Session(),
		BlockSize:         cfg.Audio.BlockSize,
		QueueCapacity:     cfg.Capture.QueueCapacity,
		CaptionMaxChars:   cfg.Caption.MaxChars,
		CaptionSilence:    cfg.Caption.SilenceTimeout,
		TelemetryInterval: cfg.Telemetry.Interval,
		ConnectTimeout:    cfg.Live.ConnectTimeout,
		Metrics:           a.metrics,
		Logger:            a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("app: create session controller: %w", err)
	}
	a.ctrl = ctrl

	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return a, nil
}

// Controller returns the session controller.
func (a *App) Controller() *session.Controller { return a.ctrl }

// Handler builds the HTTP surface: health probes, control routes and,
// when a gatherer was given, /metrics. Everything runs behind the observe
// middleware.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	health.New(health.Checker{Name: "session", Check: a.ctrl.Ready}).Register(mux)
	control.New(a.ctrl, control.WithLogger(a.logger)).Register(mux)
	if a.gather != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(a.gather, promhttp.HandlerOpts{}))
	}
	return observe.Middleware(a.metrics)(mux)
}

// ApplyConfig applies the hot-reloadable part of a config change: the log
// level and the per-session live settings (effective from the next
// activation). Every other change is logged as requiring a restart.
func (a *App) ApplyConfig(old, new *config.Config) config.ConfigDiff {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		a.logger.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SessionChanged {
		a.ctrl.SetLive(new.Live.Session())
		a.logger.Info("live session settings updated; applies on next activation")
	}
	if len(d.RestartRequired) > 0 {
		a.logger.Warn("config changes require a restart", "keys", d.RestartRequired)
	}
	return d
}

// Run listens on the configured address and serves until ctx is cancelled
// or the server fails. It returns ctx.Err() on cancellation.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Serve(ln)
	}()
	a.logger.Info("app running", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// Shutdown stops the HTTP server, deactivates the session and runs the
// registered closers. Only the first call does any work.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))

		// Controller first: /events clients get a close frame before the
		// listener goes away.
		if err := a.ctrl.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: close session: %w", err))
		}
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: http shutdown: %w", err))
		}

		for i, closer := range a.closers {
			if ctx.Err() != nil {
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				errs = append(errs, ctx.Err())
				return
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "err", err)
				errs = append(errs, err)
			}
		}
		a.logger.Info("shutdown complete")
	})
	return errors.Join(errs...)
}
