// Package routing finds candidate paths through the segment graph and picks
// the optimal route among them.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/alanyoungcy/routeengine/internal/domain"
	"github.com/alanyoungcy/routeengine/internal/graph"
)

// Candidate is a path with its aggregated metrics.
type Candidate struct {
	Path    graph.Path
	Metrics graph.Metrics
}

// Problem is one multi-objective search request.
type Problem struct {
	Graph    *graph.Graph
	Query    domain.RouteQuery
	Weights  graph.Weights
	MaxPaths int
}

// Solver produces up to MaxPaths diverse candidates for a problem. Errors
// are never fatal to routing; the caller degrades to the next backend.
type Solver interface {
	Name() string
	SolveMultiObjective(ctx context.Context, p Problem) ([]Candidate, error)
}

// Solver names reported in route results.
const (
	SolverGraphSearch = "graph-search"
)

// Chain runs a primary solver, merges in a secondary one, and falls back to
// scoring every enumerated path when neither yields anything.
type Chain struct {
	primary   Solver
	secondary Solver
	logger    *slog.Logger
}

// NewChain builds a solver chain. Either solver may be nil.
func NewChain(primary, secondary Solver, logger *slog.Logger) *Chain {
	return &Chain{
		primary:   primary,
		secondary: secondary,
		logger:    logger.With(slog.String("component", "solver_chain")),
	}
}

// Solve returns the merged candidates and a label naming the solvers that
// contributed. It fails only with domain.ErrRouteNotFound.
func (c *Chain) Solve(ctx context.Context, p Problem) ([]Candidate, string, error) {
	var (
		merged []Candidate
		used   []string
		seen   = make(map[string]struct{})
	)

	for _, s := range []Solver{c.primary, c.secondary} {
		if s == nil {
			continue
		}
		cands, err := c.run(ctx, s, p)
		if err != nil {
			c.logger.WarnContext(ctx, "solver failed, degrading",
				slog.String("solver", s.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		added := 0
		for _, cand := range cands {
			key := cand.Path.Key()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, cand)
			added++
		}
		if added > 0 {
			used = append(used, s.Name())
		}
	}

	if len(merged) > 0 {
		return merged, joinNames(used), nil
	}

	paths := p.Graph.FindPaths(p.Query)
	if len(paths) == 0 {
		return nil, "", fmt.Errorf("routing: %s -> %s: %w", p.Query.FromAsset, p.Query.ToAsset, domain.ErrRouteNotFound)
	}
	out := make([]Candidate, len(paths))
	for i, path := range paths {
		out[i] = Candidate{Path: path, Metrics: p.Weights.PathMetrics(path)}
	}
	return out, SolverGraphSearch, nil
}

// run isolates the chain from a misbehaving solver.
func (c *Chain) run(ctx context.Context, s Solver, p Problem) (cands []Candidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s panicked: %v", domain.ErrSolverFailure, s.Name(), r)
		}
	}()
	cands, err = s.SolveMultiObjective(ctx, p)
	if err != nil && !errors.Is(err, domain.ErrSolverFailure) {
		err = fmt.Errorf("%w: %s: %v", domain.ErrSolverFailure, s.Name(), err)
	}
	return cands, err
}

func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return SolverGraphSearch
	case 1:
		return names[0]
	}
	out := names[0]
	for _, n := range names[1:] {
		out += " + " + n
	}
	return out
}

// objective orders candidates by one metric; lower sorts first.
type objective func(m graph.Metrics) float64

var objectives = []objective{
	func(m graph.Metrics) float64 { return m.TotalCost },
	func(m graph.Metrics) float64 { return m.TotalLatency },
	func(m graph.Metrics) float64 { return -m.Reliability },
	func(m graph.Metrics) float64 { return m.CombinedScore },
}

// collectDiverse walks each ordering in turn and keeps the first maxPaths
// distinct paths, so no single metric dominates the set.
func collectDiverse(orderings [][]Candidate, maxPaths int) []Candidate {
	seen := make(map[string]struct{})
	var out []Candidate
	for _, list := range orderings {
		if len(list) > maxPaths {
			list = list[:maxPaths]
		}
		for _, c := range list {
			key := c.Path.Key()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, c)
			if len(out) >= maxPaths {
				return out
			}
		}
	}
	return out
}

func sortBy(cands []Candidate, obj objective) []Candidate {
	out := append([]Candidate(nil), cands...)
	sort.SliceStable(out, func(i, j int) bool { return obj(out[i].Metrics) < obj(out[j].Metrics) })
	return out
}
