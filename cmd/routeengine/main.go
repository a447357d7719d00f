// Command routeengine is the entry point for the route engine. It loads
// configuration, validates it, sets up signal handling, and runs the
// application in the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/routeengine/internal/app"
	"github.com/alanyoungcy/routeengine/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (optional)")
	mode := flag.String("mode", "", "override the configured mode (server, ingest, route)")

	// route mode
	var route app.RouteOptions
	flag.StringVar(&route.From, "from", "", "route: source asset")
	flag.StringVar(&route.To, "to", "", "route: destination asset")
	flag.StringVar(&route.FromNetwork, "from-network", "", "route: source network")
	flag.StringVar(&route.ToNetwork, "to-network", "", "route: destination network")
	flag.IntVar(&route.MaxHops, "max-hops", 0, "route: hop limit (0 uses routing.max_hops)")
	flag.IntVar(&route.K, "k", 3, "route: number of ranked routes")
	flag.BoolVar(&route.Execute, "execute", false, "route: settle the optimal route")
	flag.Float64Var(&route.Amount, "amount", 0, "route: amount to settle with -execute")
	flag.BoolVar(&route.Parallel, "parallel", false, "route: settle in parallel mode")
	flag.Parse()

	// Logs go to stderr; route and ingest modes print their result on stdout.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("route engine starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)
	logger.Debug("effective configuration", slog.Any("config", cfg.Redacted()))

	application := app.New(cfg, logger,
		app.WithRouteOptions(route),
		app.WithSeedFiles(flag.Args()...),
	)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			application.Close()
			os.Exit(1)
		}
	}

	logger.Info("route engine stopped")
}
