package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/routeengine/internal/cache/redis"
	"github.com/alanyoungcy/routeengine/internal/config"
	"github.com/alanyoungcy/routeengine/internal/domain"
	"github.com/alanyoungcy/routeengine/internal/events"
	"github.com/alanyoungcy/routeengine/internal/execution"
	"github.com/alanyoungcy/routeengine/internal/executor"
	"github.com/alanyoungcy/routeengine/internal/graph"
	"github.com/alanyoungcy/routeengine/internal/metrics"
	"github.com/alanyoungcy/routeengine/internal/provider"
	"github.com/alanyoungcy/routeengine/internal/routing"
	"github.com/alanyoungcy/routeengine/internal/service"
	"github.com/alanyoungcy/routeengine/internal/settlement"
	"github.com/alanyoungcy/routeengine/internal/wallet"
)

// Engine is the assembled route engine: segment catalogue, planner and
// orchestrator, joined by the in-process event bus.
type Engine struct {
	Segments     *service.SegmentService
	Planner      *routing.Planner
	Orchestrator *execution.Orchestrator
	Archive      *service.ArchiveService
	Events       *events.Bus
	Metrics      *metrics.Registry
	Simulator    *settlement.Simulator
}

// buildEngine assembles the engine on top of deps. The returned cleanup
// stops the orchestrator before the event bus so final events still flow.
func buildEngine(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*Engine, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	reg := metrics.NewRegistry()

	// --- Segment catalogue ---
	var segOpts []service.SegmentOption
	segOpts = append(segOpts, service.WithSegmentMetrics(reg))
	if deps.SnapshotStore != nil {
		segOpts = append(segOpts, service.WithSnapshots(deps.SnapshotStore))
	}
	if deps.SegmentCache != nil {
		segOpts = append(segOpts, service.WithSegmentCache(deps.SegmentCache))
	}
	if deps.LockManager != nil {
		segOpts = append(segOpts, service.WithLocks(deps.LockManager))
	}
	segments, err := service.NewSegmentService(ctx, deps.SegmentStore, service.SegmentServiceConfig{
		CacheTTL: cfg.Segments.CacheTTL.Duration,
		LocalTTL: cfg.Segments.LocalTTL.Duration,
		LockTTL:  cfg.Segments.LockTTL.Duration,
	}, logger, segOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("app: segment service: %w", err)
	}
	closers = append(closers, func() { _ = segments.Close() })

	// --- Planner ---
	primary, err := newSolver(cfg.Routing.PrimarySolver, cfg.Routing)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	secondary, err := newSolver(cfg.Routing.SecondarySolver, cfg.Routing)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	planner := routing.NewPlanner(segments, routing.NewChain(primary, secondary, logger), routing.PlannerConfig{
		MaxHops:       cfg.Routing.MaxHops,
		MaxCandidates: cfg.Routing.MaxCandidates,
		Weights: graph.Weights{
			Cost:        cfg.Routing.CostWeight,
			Latency:     cfg.Routing.LatencyWeight,
			Reliability: cfg.Routing.ReliabilityWeight,
		},
		Decision: routing.Decision{
			Alpha: cfg.Routing.Alpha,
			Beta:  cfg.Routing.Beta,
			Gamma: cfg.Routing.Gamma,
		},
		Observer: reg,
	}, logger)

	// --- Settlement ---
	simOpts, err := simulatorOptions(cfg.Simulator, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	sim := settlement.New(wallet.NewGenerator(cfg.Simulator.Base58Networks), settlement.Config{
		TimeScale: cfg.Simulator.TimeScale,
		MaxDelay:  cfg.Simulator.MaxDelay.Duration,
		Seed:      cfg.Simulator.Seed,
	}, logger, simOpts...)

	providers := provider.NewRegistry()
	simulated := provider.NewSimulated("simulated", sim, logger)
	providers.Register(simulated)
	providers.SetFallback(simulated)

	// --- Events ---
	bus := events.New(logger)
	closers = append(closers, bus.Close)

	var notifier service.ExecutionNotifier
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		notifier = deps.Notifier
	}
	archive := service.NewArchiveService(deps.ExecutionStore, deps.ResultArchive, notifier, logger)

	if err := bus.SubscribeAll("metrics", reg.ObserveEvent); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("app: %w", err)
	}
	// Archiving outlives the execution that produced the event.
	if err := bus.Subscribe(domain.EventExecutionFinished, "archive", func(ctx context.Context, ev domain.Event) {
		archive.HandleEvent(context.WithoutCancel(ctx), ev)
	}); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("app: %w", err)
	}
	if deps.MessageBus != nil {
		bridge := redis.NewEventPublisher(deps.MessageBus, logger)
		if err := bus.SubscribeAll("redis", func(ctx context.Context, ev domain.Event) {
			bridge.Publish(context.WithoutCancel(ctx), ev)
		}); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("app: %w", err)
		}
	}

	// --- Orchestrator ---
	orch := execution.New(planner,
		executor.NewDefaultRegistry(sim, executor.Config{FastNetworks: cfg.Simulator.FastNetworks}, logger),
		providers, bus, execution.Config{
			RerouteCostPercent:    cfg.Execution.RerouteCostPercent,
			RerouteLatencyPercent: cfg.Execution.RerouteLatencyPercent,
			RerouteReliability:    cfg.Execution.RerouteReliability,
			MaxAIReroutes:         cfg.Execution.MaxAIReroutes,
			ParallelGroupSize:     cfg.Execution.ParallelGroupSize,
			ParallelMerge:         cfg.Execution.ParallelMerge,
			Retention:             cfg.Execution.Retention.Duration,
			DedupTTL:              cfg.Execution.DedupTTL.Duration,
		}, logger)
	closers = append(closers, orch.Close)

	return &Engine{
		Segments:     segments,
		Planner:      planner,
		Orchestrator: orch,
		Archive:      archive,
		Events:       bus,
		Metrics:      reg,
		Simulator:    sim,
	}, cleanup, nil
}

func newSolver(name string, cfg config.RoutingConfig) (routing.Solver, error) {
	switch name {
	case routing.SolverKShortest:
		return &routing.KShortestSolver{Budget: cfg.SearchBudget}, nil
	case routing.SolverEnumeration:
		return &routing.EnumerationSolver{MaxPathsScanned: cfg.MaxPathsScanned}, nil
	default:
		return nil, fmt.Errorf("app: unknown solver %q", name)
	}
}

func simulatorOptions(cfg config.SimulatorConfig, logger *slog.Logger) ([]settlement.Option, error) {
	var opts []settlement.Option
	if cfg.VaultPassword != "" {
		vault, err := wallet.NewVault(cfg.VaultPassword, cfg.VaultIterations)
		if err != nil {
			return nil, fmt.Errorf("app: wallet vault: %w", err)
		}
		opts = append(opts, settlement.WithVault(vault))
	}
	signer, err := wallet.NewReceiptSigner(cfg.OperatorKey, cfg.ChainID)
	if err != nil {
		return nil, fmt.Errorf("app: receipt signer: %w", err)
	}
	if cfg.OperatorKey == "" {
		logger.Info("no operator key configured, signing receipts with an ephemeral key",
			slog.String("operator", signer.Address().Hex()),
		)
	}
	return append(opts, settlement.WithSigner(signer)), nil
}
