package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/routeengine/internal/cache/redis"
	"github.com/alanyoungcy/routeengine/internal/domain"
	"github.com/alanyoungcy/routeengine/internal/server"
	"github.com/alanyoungcy/routeengine/internal/server/handler"
	"github.com/alanyoungcy/routeengine/internal/server/ws"
)

// ServerMode restores the segment catalogue, then serves the HTTP and
// WebSocket API and sweeps expired executions until ctx is cancelled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, engine *Engine) error {
	a.logger.InfoContext(ctx, "starting server mode")
	a.prepareSegments(ctx, engine)

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
		Active:    engine.Orchestrator.Len,
	})
	g.Go(func() error {
		return ignoreCanceled(hub.Run(ctx))
	})
	// With redis every process relays the shared channel, so clients see
	// executions started on any replica.
	if deps.MessageBus != nil {
		g.Go(func() error {
			return hub.Relay(ctx, deps.MessageBus, redis.ChannelExecution)
		})
	} else if err := engine.Events.SubscribeAll("ws", hub.Publish); err != nil {
		return fmt.Errorf("app: %w", err)
	}

	interval := a.cfg.Execution.JanitorInterval.Duration
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	g.Go(func() error {
		return ignoreCanceled(engine.Orchestrator.RunJanitor(ctx, interval))
	})

	checks := map[string]handler.Check{
		"segments": func(ctx context.Context) error {
			_, err := engine.Segments.Count(ctx)
			return err
		},
	}
	for name, check := range deps.Checks {
		checks[name] = check
	}
	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(checks, a.logger),
		Segments:   handler.NewSegmentHandler(engine.Segments, a.logger),
		Routes:     handler.NewRouteHandler(engine.Planner, a.logger),
		Executions: handler.NewExecutionHandler(engine.Orchestrator, engine.Archive, a.logger),
	}
	if a.cfg.Metrics.Enabled {
		handlers.Metrics = engine.Metrics.Handler()
	}
	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		APIKey:       a.cfg.Server.APIKey,
		RateLimit:    a.cfg.Server.RateLimit,
		Limiter:      deps.RateLimiter,
		Recorder:     engine.Metrics,
		MetricsPath:  a.cfg.Metrics.Path,
		ReadTimeout:  a.cfg.Server.ReadTimeout.Duration,
		WriteTimeout: a.cfg.Server.WriteTimeout.Duration,
	}, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		timeout := a.cfg.Server.ShutdownTimeout.Duration
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// IngestMode loads every seed file concurrently and ingests the union as a
// single batch.
func (a *App) IngestMode(ctx context.Context, engine *Engine) error {
	var paths []string
	if a.cfg.Segments.SeedFile != "" {
		paths = append(paths, a.cfg.Segments.SeedFile)
	}
	paths = append(paths, a.seedFiles...)
	if len(paths) == 0 {
		return errors.New("app: ingest: no seed files (set segments.seed_file or pass paths)")
	}
	a.logger.InfoContext(ctx, "starting ingest mode", slog.Int("files", len(paths)))

	segs, err := readSeedFiles(ctx, paths)
	if err != nil {
		return err
	}
	report, err := engine.Segments.Ingest(ctx, segs)
	if err != nil {
		return fmt.Errorf("app: ingest: %w", err)
	}
	a.logger.InfoContext(ctx, "ingest complete",
		slog.Int("upserted", report.Upserted),
		slog.Int("total", report.Total),
		slog.String("snapshot_id", report.SnapshotID),
	)
	return a.writeJSON(report)
}

// RouteMode answers one query against the catalogue and prints the outcome:
// the ranked routes, or the execution result when RouteOptions.Execute is
// set.
func (a *App) RouteMode(ctx context.Context, engine *Engine) error {
	opts := a.route
	if opts.From == "" || opts.To == "" {
		return errors.New("app: route: source and destination assets are required")
	}
	a.prepareSegments(ctx, engine)

	if opts.Execute {
		res, err := engine.Orchestrator.Execute(ctx, domain.ExecutionRequest{
			FromAsset:   opts.From,
			ToAsset:     opts.To,
			FromNetwork: opts.FromNetwork,
			ToNetwork:   opts.ToNetwork,
			Amount:      opts.Amount,
			Parallel:    opts.Parallel,
		})
		if err != nil {
			return fmt.Errorf("app: route: execute: %w", err)
		}
		return a.writeJSON(res)
	}

	routes, err := engine.Planner.Top(ctx, domain.RouteQuery{
		FromAsset:   opts.From,
		ToAsset:     opts.To,
		FromNetwork: opts.FromNetwork,
		ToNetwork:   opts.ToNetwork,
		MaxHops:     opts.MaxHops,
	}, opts.K, nil)
	if err != nil {
		return fmt.Errorf("app: route: %w", err)
	}
	return a.writeJSON(map[string]any{"routes": routes, "count": len(routes)})
}

// prepareSegments restores the latest snapshot into an empty store and
// loads the configured seed file. Failures are logged; the engine still
// serves whatever the store already holds.
func (a *App) prepareSegments(ctx context.Context, engine *Engine) {
	if n, err := engine.Segments.Restore(ctx); err != nil {
		a.logger.WarnContext(ctx, "segment restore failed", slog.String("error", err.Error()))
	} else if n > 0 {
		a.logger.InfoContext(ctx, "segments restored", slog.Int("count", n))
	}
	if path := a.cfg.Segments.SeedFile; path != "" {
		report, err := engine.Segments.LoadSeedFile(ctx, path)
		if err != nil {
			a.logger.WarnContext(ctx, "seed file not loaded",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			return
		}
		a.logger.InfoContext(ctx, "seed file loaded",
			slog.String("path", path),
			slog.Int("upserted", report.Upserted),
		)
	}
}

func (a *App) writeJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("app: write output: %w", err)
	}
	return nil
}

// readSeedFiles parses every file concurrently and concatenates the
// segments in path order.
func readSeedFiles(ctx context.Context, paths []string) ([]domain.Segment, error) {
	parts := make([][]domain.Segment, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("app: read seed %s: %w", path, err)
			}
			var segs []domain.Segment
			if err := json.Unmarshal(raw, &segs); err != nil {
				return fmt.Errorf("app: parse seed %s: %w", path, err)
			}
			parts[i] = segs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var out []domain.Segment
	for _, p := range parts {
		out = append(out, p...)
	}
	return out, nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
