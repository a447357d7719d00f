package execution

import (
	"context"
	"log/slog"
	"slices"

	"github.com/alanyoungcy/routeengine/internal/domain"
	"github.com/alanyoungcy/routeengine/internal/routing"
)

// rerouteSignal compares the remaining route with a freshly planned
// alternative. Deltas are signed percentages; negative means the
// alternative is cheaper or faster.
type rerouteSignal struct {
	CostDelta    float64
	LatencyDelta float64
	Reliability  float64
}

func (s rerouteSignal) triggers(cfg Config) bool {
	return s.CostDelta < -cfg.RerouteCostPercent ||
		s.LatencyDelta < -cfg.RerouteLatencyPercent ||
		s.Reliability > cfg.RerouteReliability
}

func percentDelta(alt, cur float64) float64 {
	if cur <= 0 {
		return 0
	}
	return (alt - cur) / cur * 100
}

// remainingEstimate prices the unsettled segments at the current amount.
func remainingEstimate(remaining []domain.Segment, amount float64) (cost, minutes float64) {
	for _, s := range remaining {
		cost += s.Cost.FeePercent*amount/100 + s.Cost.FixedFee
		minutes += s.Latency.Average()
	}
	return cost, minutes
}

// shouldReroute plans an alternative from the segment at idx to the final
// destination. Any planning error means no reroute.
func (o *Orchestrator) shouldReroute(ctx context.Context, e *execution, idx int, amount float64) (routing.Route, bool) {
	e.mu.Lock()
	if idx >= len(e.route) {
		e.mu.Unlock()
		return routing.Route{}, false
	}
	remaining := slices.Clone(e.route[idx:])
	weights := e.req.Weights
	e.mu.Unlock()

	last := remaining[len(remaining)-1]
	q := domain.RouteQuery{
		FromAsset:   remaining[0].FromAsset,
		FromNetwork: remaining[0].FromNetwork,
		ToAsset:     last.ToAsset,
		ToNetwork:   last.ToNetwork,
	}
	log := o.logger.With(slog.String("execution_id", e.id), slog.Int("segment_index", idx))
	alt, err := o.planner.Optimal(ctx, q, weights)
	if err != nil {
		log.WarnContext(ctx, "reroute evaluation failed", slog.String("error", err.Error()))
		return routing.Route{}, false
	}
	if len(alt.Segments) == 0 || sameRoute(alt.Segments, remaining) {
		return routing.Route{}, false
	}

	cost, minutes := remainingEstimate(remaining, amount)
	sig := rerouteSignal{
		CostDelta:    percentDelta(alt.CostPercent*amount/100+alt.CostFixed, cost),
		LatencyDelta: percentDelta(alt.ETAMinutes, minutes),
		Reliability:  alt.Reliability,
	}
	if !sig.triggers(o.cfg) {
		return routing.Route{}, false
	}
	log.DebugContext(ctx, "reroute triggered",
		slog.Float64("cost_delta_pct", sig.CostDelta),
		slog.Float64("latency_delta_pct", sig.LatencyDelta),
		slog.Float64("reliability", sig.Reliability),
	)
	return alt, true
}

// sameRoute compares segments by the fields that identify an edge.
func sameRoute(a, b []domain.Segment) bool {
	return slices.EqualFunc(a, b, func(x, y domain.Segment) bool {
		return x.Type == y.Type &&
			x.FromAsset == y.FromAsset && x.ToAsset == y.ToAsset &&
			x.FromNetwork == y.FromNetwork && x.ToNetwork == y.ToNetwork &&
			x.Provider == y.Provider
	})
}

// applyAIReroute installs alt as the remainder starting at idx. It reports
// false when a control operation moved the execution or replaced its route
// since generation gen was observed.
func (o *Orchestrator) applyAIReroute(ctx context.Context, e *execution, idx, gen int, alt routing.Route) bool {
	e.mu.Lock()
	if e.state != stateRunning || e.next != idx || e.routeGen != gen {
		e.mu.Unlock()
		return false
	}
	e.setStateLocked(stateRerouting)
	e.route = append(slices.Clone(e.route[:idx]), alt.Segments...)
	e.aiReroutes++
	e.routeGen++
	count := e.aiReroutes
	e.setStateLocked(stateRunning)
	e.mu.Unlock()

	o.logger.InfoContext(ctx, "execution auto-rerouted",
		slog.String("execution_id", e.id),
		slog.Int("segment_index", idx),
		slog.Int("new_segments", len(alt.Segments)),
		slog.String("solver", alt.SolverUsed),
		slog.Int("reroutes", count),
	)
	o.publish(ctx, e, domain.EventExecutionRerouted, nil, "automatic reroute")
	return true
}
