package routing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/routeengine/internal/domain"
)

type staticSource struct {
	segs []domain.Segment
	err  error
}

func (s staticSource) ListSegments(context.Context, domain.SegmentFilter) ([]domain.Segment, error) {
	return s.segs, s.err
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (o *recordingObserver) ObserveRoute(solver string, _ int, _ time.Duration, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, solver)
}

func newTestPlanner(src domain.SegmentSource, obs Observer) *Planner {
	chain := NewChain(&KShortestSolver{}, &EnumerationSolver{}, discardLogger())
	return NewPlanner(src, chain, PlannerConfig{Observer: obs}, discardLogger())
}

func TestPlannerOptimal(t *testing.T) {
	obs := &recordingObserver{}
	p := newTestPlanner(staticSource{segs: diamond()}, obs)

	route, err := p.Optimal(context.Background(), domain.RouteQuery{FromAsset: "USD", ToAsset: "JPY"}, nil)
	require.NoError(t, err)

	// Scores: via EUR 0.448, via GBP 0.282, direct 0.700.
	require.Len(t, route.Segments, 2)
	assert.Equal(t, "GBP", route.Segments[0].ToAsset)
	assert.Equal(t, 0.8, route.CostPercent)
	assert.Equal(t, 1.0, route.ETAHours)
	assert.Equal(t, 60.0, route.ETAMinutes)
	assert.Equal(t, 1.0, route.Reliability)
	assert.Equal(t, 2, route.NumSegments)
	assert.Equal(t, SolverKShortest, route.SolverUsed)
	assert.Equal(t, []string{SolverKShortest}, obs.calls)
}

func TestPlannerWeightsOverride(t *testing.T) {
	p := newTestPlanner(staticSource{segs: diamond()}, nil)
	costOnly := &domain.RoutingWeights{Cost: 1, Latency: 1, Reliability: 1, Alpha: 1}
	route, err := p.Optimal(context.Background(), domain.RouteQuery{FromAsset: "USD", ToAsset: "JPY"}, costOnly)
	require.NoError(t, err)
	assert.Equal(t, 0.2, route.CostPercent)
}

func TestPlannerTop(t *testing.T) {
	p := newTestPlanner(staticSource{segs: diamond()}, nil)
	routes, err := p.Top(context.Background(), domain.RouteQuery{FromAsset: "USD", ToAsset: "JPY"}, 2, nil)
	require.NoError(t, err)
	require.Len(t, routes, 2)
	assert.Equal(t, 1, routes[0].Rank)
	assert.Equal(t, 2, routes[1].Rank)
	assert.LessOrEqual(t, routes[0].Score, routes[1].Score)
}

func TestPlannerErrors(t *testing.T) {
	ctx := context.Background()
	q := domain.RouteQuery{FromAsset: "USD", ToAsset: "JPY"}

	_, err := newTestPlanner(staticSource{}, nil).Optimal(ctx, q, nil)
	assert.ErrorIs(t, err, domain.ErrNoSegmentsAvailable)
	assert.True(t, IsNoRoute(err))

	_, err = newTestPlanner(staticSource{segs: diamond()}, nil).Optimal(ctx, domain.RouteQuery{FromAsset: "CHF", ToAsset: "JPY"}, nil)
	assert.ErrorIs(t, err, domain.ErrRouteNotFound)

	boom := errors.New("db down")
	_, err = newTestPlanner(staticSource{err: boom}, nil).Top(ctx, q, 3, nil)
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsNoRoute(err))
}
