package routing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/routeengine/internal/domain"
	"github.com/alanyoungcy/routeengine/internal/graph"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fx(from, to string, fee, minLat, maxLat, rel float64) domain.Segment {
	return domain.Segment{
		Type:        domain.SegmentFX,
		FromAsset:   from,
		ToAsset:     to,
		Cost:        domain.SegmentCost{FeePercent: fee},
		Latency:     domain.SegmentLatency{MinMinutes: minLat, MaxMinutes: maxLat},
		Reliability: rel,
		Provider:    from + to,
	}
}

// diamond has a cheap slow route via EUR, a fast pricey direct edge and a
// reliable middle route via GBP.
func diamond() []domain.Segment {
	return []domain.Segment{
		fx("USD", "EUR", 0.1, 60, 120, 0.95), // 0
		fx("EUR", "JPY", 0.1, 60, 120, 0.95), // 1
		fx("USD", "JPY", 1.5, 1, 3, 0.90),    // 2
		fx("USD", "GBP", 0.4, 20, 40, 0.999), // 3
		fx("GBP", "JPY", 0.4, 20, 40, 0.999), // 4
	}
}

func problem(segs []domain.Segment, maxPaths int) Problem {
	return Problem{
		Graph:    graph.Build(segs),
		Query:    domain.RouteQuery{FromAsset: "USD", ToAsset: "JPY"},
		Weights:  graph.DefaultWeights(),
		MaxPaths: maxPaths,
	}
}

func keys(cands []Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Path.Key()
	}
	return out
}

func TestKShortestOrdersByObjective(t *testing.T) {
	s := &KShortestSolver{}
	p := problem(diamond(), 1)

	paths, err := s.search(context.Background(), p, 3, searchWeights[0])
	require.NoError(t, err)
	require.Len(t, paths, 3)
	assert.Equal(t, "0>1", paths[0].Key(), "cheapest by fee")
	assert.Equal(t, "3>4", paths[1].Key())
	assert.Equal(t, "2", paths[2].Key())

	paths, err = s.search(context.Background(), p, 1, searchWeights[1])
	require.NoError(t, err)
	assert.Equal(t, "2", paths[0].Key(), "fastest")

	cands, err := s.SolveMultiObjective(context.Background(), p)
	require.NoError(t, err)
	// MaxPaths bounds the diverse set; the cost ordering fills it first.
	assert.Equal(t, []string{"0>1"}, keys(cands))

	p.MaxPaths = 3
	cands, err = s.SolveMultiObjective(context.Background(), p)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"0>1", "2", "3>4"}, keys(cands))
}

func TestKShortestBudget(t *testing.T) {
	s := &KShortestSolver{Budget: 1}
	_, err := s.SolveMultiObjective(context.Background(), problem(diamond(), 3))
	assert.ErrorIs(t, err, domain.ErrSolverFailure)
}

func TestEnumerationDiversity(t *testing.T) {
	s := &EnumerationSolver{}
	cands, err := s.SolveMultiObjective(context.Background(), problem(diamond(), 2))
	require.NoError(t, err)
	// Cost ordering contributes its top two before latency is consulted.
	assert.Equal(t, []string{"0>1", "3>4"}, keys(cands))

	cands, err = s.SolveMultiObjective(context.Background(), problem(diamond(), 10))
	require.NoError(t, err)
	assert.Len(t, cands, 3)

	_, err = (&EnumerationSolver{MaxPathsScanned: 1}).SolveMultiObjective(context.Background(), problem(diamond(), 10))
	assert.ErrorIs(t, err, domain.ErrSolverFailure)
}

type stubSolver struct {
	name  string
	cands []Candidate
	err   error
	panic bool
}

func (s *stubSolver) Name() string { return s.name }
func (s *stubSolver) SolveMultiObjective(context.Context, Problem) ([]Candidate, error) {
	if s.panic {
		panic("boom")
	}
	return s.cands, s.err
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	p := problem(diamond(), 5)

	t.Run("primary and secondary merge without duplicates", func(t *testing.T) {
		c := NewChain(&KShortestSolver{}, &EnumerationSolver{}, discardLogger())
		cands, used, err := c.Solve(ctx, p)
		require.NoError(t, err)
		assert.Len(t, cands, 3)
		assert.Equal(t, "k-shortest", used, "secondary added nothing new")
	})

	t.Run("secondary fills in when primary fails", func(t *testing.T) {
		c := NewChain(&stubSolver{name: "broken", err: errors.New("license missing")}, &EnumerationSolver{}, discardLogger())
		cands, used, err := c.Solve(ctx, p)
		require.NoError(t, err)
		assert.Len(t, cands, 3)
		assert.Equal(t, SolverEnumeration, used)
	})

	t.Run("both merged", func(t *testing.T) {
		only := graph.Path{graph.Build(diamond()).Edges("USD", "JPY")[0]}
		primary := &stubSolver{name: "exact", cands: []Candidate{{Path: only}}}
		c := NewChain(primary, &EnumerationSolver{}, discardLogger())
		cands, used, err := c.Solve(ctx, p)
		require.NoError(t, err)
		assert.Len(t, cands, 3)
		assert.Equal(t, "exact + enumeration", used)
	})

	t.Run("falls back to exhaustive search", func(t *testing.T) {
		c := NewChain(&stubSolver{name: "a", panic: true}, &stubSolver{name: "b"}, discardLogger())
		cands, used, err := c.Solve(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, SolverGraphSearch, used)
		assert.Len(t, cands, 3)
		for _, cand := range cands {
			assert.Equal(t, len(cand.Path), cand.Metrics.NumSegments)
		}
	})

	t.Run("no route", func(t *testing.T) {
		c := NewChain(nil, nil, discardLogger())
		p := p
		p.Query = domain.RouteQuery{FromAsset: "JPY", ToAsset: "USD"}
		_, _, err := c.Solve(ctx, p)
		assert.ErrorIs(t, err, domain.ErrRouteNotFound)
	})
}
