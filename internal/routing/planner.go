package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/routeengine/internal/domain"
	"github.com/alanyoungcy/routeengine/internal/graph"
)

// Route is a selected path with display-ready metrics.
type Route struct {
	Segments    []domain.Segment `json:"route"`
	CostPercent float64          `json:"cost_percent"`
	CostFixed   float64          `json:"cost_fixed"`
	ETAHours    float64          `json:"eta_hours"`
	ETAMinutes  float64          `json:"eta_minutes"`
	Reliability float64          `json:"reliability"`
	NumSegments int              `json:"num_segments"`
	SolverUsed  string           `json:"solver_used"`
	Score       float64          `json:"score"`
	Rank        int              `json:"rank,omitempty"`
	Metrics     graph.Metrics    `json:"-"`
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func newRoute(s Scored, solver string) Route {
	m := s.Metrics
	return Route{
		Segments:    s.Path.Segments(),
		CostPercent: round(m.TotalCostPercent, 4),
		CostFixed:   round(m.TotalFixedFee, 2),
		ETAHours:    round(m.TotalLatency/60, 2),
		ETAMinutes:  round(m.TotalLatency, 0),
		Reliability: round(m.Reliability, 2),
		NumSegments: m.NumSegments,
		SolverUsed:  solver,
		Score:       round(s.Score, 4),
		Rank:        s.Rank,
		Metrics:     m,
	}
}

// Observer receives one callback per planning request.
type Observer interface {
	ObserveRoute(solver string, candidates int, elapsed time.Duration, err error)
}

// PlannerConfig holds planner defaults.
type PlannerConfig struct {
	MaxHops       int
	MaxCandidates int
	Weights       graph.Weights
	Decision      Decision
	Observer      Observer
}

// Planner resolves routes over the latest segment snapshot.
type Planner struct {
	source domain.SegmentSource
	chain  *Chain
	cfg    PlannerConfig
	logger *slog.Logger
}

// NewPlanner creates a Planner reading segments from source.
func NewPlanner(source domain.SegmentSource, chain *Chain, cfg PlannerConfig, logger *slog.Logger) *Planner {
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 20
	}
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = graph.DefaultMaxHops
	}
	if cfg.Weights == (graph.Weights{}) {
		cfg.Weights = graph.DefaultWeights()
	}
	if cfg.Decision == (Decision{}) {
		cfg.Decision = DefaultDecision()
	}
	return &Planner{
		source: source,
		chain:  chain,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "planner")),
	}
}

func (p *Planner) resolve(w *domain.RoutingWeights) (graph.Weights, Decision) {
	if w == nil {
		return p.cfg.Weights, p.cfg.Decision
	}
	return graph.Weights{Cost: w.Cost, Latency: w.Latency, Reliability: w.Reliability},
		Decision{Alpha: w.Alpha, Beta: w.Beta, Gamma: w.Gamma}
}

func (p *Planner) segments(ctx context.Context) ([]domain.Segment, error) {
	segs, err := p.source.ListSegments(ctx, domain.SegmentFilter{})
	if err != nil {
		return nil, fmt.Errorf("routing: list segments: %w", err)
	}
	if len(segs) == 0 {
		return nil, domain.ErrNoSegmentsAvailable
	}
	return segs, nil
}

// candidates builds the graph and runs the solver chain.
func (p *Planner) candidates(ctx context.Context, segs []domain.Segment, q domain.RouteQuery, weights graph.Weights) ([]Candidate, string, error) {
	if q.MaxHops <= 0 {
		q.MaxHops = p.cfg.MaxHops
	}
	start := time.Now()
	cands, solver, err := p.chain.Solve(ctx, Problem{
		Graph:    graph.Build(segs),
		Query:    q,
		Weights:  weights,
		MaxPaths: p.cfg.MaxCandidates,
	})
	if p.cfg.Observer != nil {
		p.cfg.Observer.ObserveRoute(solver, len(cands), time.Since(start), err)
	}
	if err != nil {
		return nil, "", err
	}
	return cands, solver, nil
}

// Optimal returns the single best route for q.
func (p *Planner) Optimal(ctx context.Context, q domain.RouteQuery, w *domain.RoutingWeights) (Route, error) {
	segs, err := p.segments(ctx)
	if err != nil {
		return Route{}, err
	}
	return p.OptimalFrom(ctx, segs, q, w)
}

// OptimalFrom is Optimal over a caller supplied segment set.
func (p *Planner) OptimalFrom(ctx context.Context, segs []domain.Segment, q domain.RouteQuery, w *domain.RoutingWeights) (Route, error) {
	weights, decision := p.resolve(w)
	cands, solver, err := p.candidates(ctx, segs, q, weights)
	if err != nil {
		return Route{}, err
	}
	best, ok := decision.SelectOptimal(cands)
	if !ok {
		return Route{}, fmt.Errorf("routing: select optimal: %w", domain.ErrRouteNotFound)
	}
	p.logger.DebugContext(ctx, "route selected",
		slog.String("from", q.FromAsset),
		slog.String("to", q.ToAsset),
		slog.String("solver", solver),
		slog.Int("candidates", len(cands)),
		slog.Float64("score", best.Score),
	)
	return newRoute(best, solver), nil
}

// Top returns up to k routes in ascending score order.
func (p *Planner) Top(ctx context.Context, q domain.RouteQuery, k int, w *domain.RoutingWeights) ([]Route, error) {
	segs, err := p.segments(ctx)
	if err != nil {
		return nil, err
	}
	weights, decision := p.resolve(w)
	cands, solver, err := p.candidates(ctx, segs, q, weights)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 3
	}
	ranked := decision.Rank(cands, k)
	out := make([]Route, len(ranked))
	for i, s := range ranked {
		out[i] = newRoute(s, solver)
	}
	return out, nil
}

// IsNoRoute reports whether err means no route could be produced.
func IsNoRoute(err error) bool {
	return errors.Is(err, domain.ErrRouteNotFound) || errors.Is(err, domain.ErrNoSegmentsAvailable)
}
