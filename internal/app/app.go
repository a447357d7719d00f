// Package app provides the top-level application lifecycle for the route
// engine. It wires the configured backends, assembles the engine and runs
// the selected operating mode until the context is cancelled.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/alanyoungcy/routeengine/internal/config"
)

// RouteOptions describe the one-shot query run by the route mode.
type RouteOptions struct {
	From        string
	To          string
	FromNetwork string
	ToNetwork   string
	MaxHops     int
	K           int
	// Execute settles the optimal route for Amount instead of listing
	// candidates.
	Execute  bool
	Amount   float64
	Parallel bool
}

// Option configures an App.
type Option func(*App)

// WithRouteOptions sets the query for the route mode.
func WithRouteOptions(o RouteOptions) Option {
	return func(a *App) { a.route = o }
}

// WithSeedFiles adds segment files loaded by the ingest mode, after the
// configured seed file.
func WithSeedFiles(paths ...string) Option {
	return func(a *App) { a.seedFiles = append(a.seedFiles, paths...) }
}

// WithOutput redirects the JSON written by the route and ingest modes.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	closers   []func()
	route     RouteOptions
	seedFiles []string
	out       io.Writer
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *App {
	a := &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
		out:    os.Stdout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run wires all dependencies, assembles the engine and runs the configured
// mode. It blocks until the mode finishes or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	engine, stop, err := buildEngine(ctx, a.cfg, deps, a.logger)
	if err != nil {
		return fmt.Errorf("app: build engine: %w", err)
	}
	a.closers = append(a.closers, stop)

	switch strings.ToLower(a.cfg.Mode) {
	case "server":
		return a.ServerMode(ctx, deps, engine)
	case "ingest":
		return a.IngestMode(ctx, engine)
	case "route":
		return a.RouteMode(ctx, engine)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
