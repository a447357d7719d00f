package routing

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/routeengine/internal/domain"
)

// SolverEnumeration is the name of EnumerationSolver.
const SolverEnumeration = "enumeration"

// EnumerationSolver enumerates every bounded path and picks the best few
// under each objective. It is exhaustive, so it suits small graphs.
type EnumerationSolver struct {
	// MaxPathsScanned guards against combinatorial blow-up; zero disables it.
	MaxPathsScanned int
}

var _ Solver = (*EnumerationSolver)(nil)

// Name implements Solver.
func (s *EnumerationSolver) Name() string { return SolverEnumeration }

// SolveMultiObjective implements Solver.
func (s *EnumerationSolver) SolveMultiObjective(ctx context.Context, p Problem) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	paths := p.Graph.FindPaths(p.Query)
	if len(paths) == 0 {
		return nil, nil
	}
	if s.MaxPathsScanned > 0 && len(paths) > s.MaxPathsScanned {
		return nil, fmt.Errorf("%w: %d paths exceed scan limit %d", domain.ErrSolverFailure, len(paths), s.MaxPathsScanned)
	}

	all := make([]Candidate, len(paths))
	for i, path := range paths {
		all[i] = Candidate{Path: path, Metrics: p.Weights.PathMetrics(path)}
	}

	orderings := make([][]Candidate, len(objectives))
	for i, obj := range objectives {
		orderings[i] = sortBy(all, obj)
	}
	return collectDiverse(orderings, maxPaths(p.MaxPaths)), nil
}

func maxPaths(n int) int {
	if n <= 0 {
		return 10
	}
	return n
}
