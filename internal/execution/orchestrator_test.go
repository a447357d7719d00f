package execution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/alanyoungcy/routeengine/internal/domain"
	"github.com/alanyoungcy/routeengine/internal/executor"
	"github.com/alanyoungcy/routeengine/internal/routing"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakePlanner struct {
	mu     sync.Mutex
	routes map[string]routing.Route
	calls  []string
	delay  time.Duration
}

func routeKey(from, to string) string { return from + ">" + to }

func (p *fakePlanner) Optimal(_ context.Context, q domain.RouteQuery, _ *domain.RoutingWeights) (routing.Route, error) {
	time.Sleep(p.delay)
	p.mu.Lock()
	defer p.mu.Unlock()
	key := routeKey(q.FromAsset, q.ToAsset)
	p.calls = append(p.calls, key)
	r, ok := p.routes[key]
	if !ok {
		return routing.Route{}, fmt.Errorf("fake: %s: %w", key, domain.ErrRouteNotFound)
	}
	return r, nil
}

// gatedDispatcher settles segments with the standard fee law. When gate is
// set every dispatch waits for a token or for ctx to end.
type gatedDispatcher struct {
	mu      sync.Mutex
	calls   []int
	fail    map[int]bool
	skip    map[int]bool
	gate    chan struct{}
	started chan int

	inflight, peak int
}

func newGated() *gatedDispatcher {
	return &gatedDispatcher{gate: make(chan struct{}), started: make(chan int, 16)}
}

func (d *gatedDispatcher) Dispatch(ctx context.Context, seg domain.Segment, input float64, _ string, meta executor.Meta) domain.SegmentResult {
	d.mu.Lock()
	d.calls = append(d.calls, meta.Index)
	d.inflight++
	d.peak = max(d.peak, d.inflight)
	fail, skip := d.fail[meta.Index], d.skip[meta.Index]
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.inflight--
		d.mu.Unlock()
	}()

	select {
	case d.started <- meta.Index:
	default:
	}
	res := domain.SegmentResult{
		Index:       meta.Index,
		Type:        seg.Type,
		FromAsset:   seg.FromAsset,
		ToAsset:     seg.ToAsset,
		InputAmount: input,
		Provider:    seg.Provider,
		StartedAt:   time.Now(),
	}
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			res.Status = domain.SegmentFailed
			res.Error = ctx.Err().Error()
			return res
		}
	}
	switch {
	case fail:
		res.Status = domain.SegmentFailed
		res.Error = "provider rejected"
		return res
	case skip:
		res.Status = domain.SegmentSkipped
		res.OutputAmount = input
		return res
	}
	q, err := executor.ApplyFees(seg.Cost, input)
	if err != nil {
		res.Status = domain.SegmentFailed
		res.Error = err.Error()
		return res
	}
	res.Status = domain.SegmentCompleted
	res.OutputAmount = q.Output
	res.FeesPaid = q.Fees
	res.ConfirmationMins = seg.Latency.Average()
	res.TxHash = fmt.Sprintf("tx-%d", meta.Index)
	return res
}

func (d *gatedDispatcher) release(n int) {
	for range n {
		d.gate <- struct{}{}
	}
}

func (d *gatedDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type fakeAdapter struct {
	name      string
	mu        sync.Mutex
	cancelled []string
	reversed  []string
	failOn    string
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) CancelTransaction(_ context.Context, txID string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if txID == a.failOn {
		return false, errors.New("provider offline")
	}
	a.cancelled = append(a.cancelled, txID)
	return true, nil
}

func (a *fakeAdapter) ModifyTransaction(_ context.Context, txID string, _ *float64) (domain.ModifyOutcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelled = append(a.cancelled, txID)
	return domain.ModifyOutcome{NewTransactionRequired: true}, nil
}

func (a *fakeAdapter) ReverseTransaction(_ context.Context, txID string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reversed = append(a.reversed, txID)
	return true, nil
}

type adapters map[string]domain.ProviderAdapter

func (m adapters) Adapter(p string) (domain.ProviderAdapter, bool) {
	a, ok := m[p]
	return a, ok
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(_ context.Context, ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func hop(t domain.SegmentType, from, to string, fee float64) domain.Segment {
	return domain.Segment{
		Type:        t,
		FromAsset:   from,
		ToAsset:     to,
		Cost:        domain.SegmentCost{FeePercent: fee},
		Latency:     domain.SegmentLatency{MinMinutes: 10, MaxMinutes: 20},
		Reliability: 0.99,
		Provider:    "sim",
	}
}

func threeHops() routing.Route {
	return routing.Route{Segments: []domain.Segment{
		hop(domain.SegmentOnRamp, "USD", "USDC", 1),
		hop(domain.SegmentCrypto, "USDC", "ETH", 1),
		hop(domain.SegmentOffRamp, "ETH", "EUR", 1),
	}, Reliability: 0.5, SolverUsed: "fake"}
}

func usdToEUR() domain.ExecutionRequest {
	return domain.ExecutionRequest{FromAsset: "USD", ToAsset: "EUR", Amount: 1000}
}

type harness struct {
	orch    *Orchestrator
	planner *fakePlanner
	disp    *gatedDispatcher
	adapter *fakeAdapter
	events  *recorder
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		planner: &fakePlanner{routes: map[string]routing.Route{routeKey("USD", "EUR"): threeHops()}},
		disp:    newGated(),
		adapter: &fakeAdapter{name: "sim"},
		events:  &recorder{},
	}
	h.orch = New(h.planner, h.disp, adapters{"sim": h.adapter}, h.events, cfg, discard())
	t.Cleanup(h.orch.Close)
	return h
}

func waitFor(t *testing.T, h *Handle) domain.ExecutionResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := h.Wait(ctx)
	require.NoError(t, err)
	return res
}

func (h *harness) awaitStarted(t *testing.T, want int) {
	t.Helper()
	select {
	case idx := <-h.disp.started:
		require.Equal(t, want, idx)
	case <-time.After(5 * time.Second):
		t.Fatalf("segment %d never dispatched", want)
	}
}

func TestSequentialExecutionCompletes(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.disp.gate = nil

	res, err := h.orch.Execute(context.Background(), usdToEUR())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCompleted, res.Status)
	require.Len(t, res.Segments, 3)
	assert.InDelta(t, 970.299, res.FinalAmount, 1e-9)
	assert.InDelta(t, 10+9.9+9.801, res.TotalFees, 1e-9)
	assert.InDelta(t, 45.0, res.TotalTimeMinutes, 1e-9)
	assert.InDelta(t, 0.75, res.ETAHours, 1e-9)
	assert.Equal(t, placeholderReliability, res.Reliability)
	require.NotNil(t, res.CompletedAt)
	for i, s := range res.Segments {
		assert.Equal(t, i, s.Index)
	}

	assert.Equal(t, []string{
		domain.EventExecutionStarted,
		domain.EventSegmentFinished,
		domain.EventSegmentFinished,
		domain.EventSegmentFinished,
		domain.EventExecutionFinished,
	}, h.events.types())

	view, err := h.orch.Status(res.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCompleted, view.Status)
	assert.Equal(t, 100.0, view.ProgressPercent)
	assert.False(t, view.CanCancel)
	assert.Nil(t, view.EstimatedCompletion)
}

func TestCancelAfterFirstSegmentKeepsPartialState(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()

	hd, err := h.orch.Start(ctx, usdToEUR())
	require.NoError(t, err)
	h.awaitStarted(t, 0)

	out, err := h.orch.Cancel(ctx, hd.ID, CancelOptions{CancelPending: true})
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCancelled, out.Status)
	assert.Zero(t, out.Cancelled, "nothing recorded while segment 0 is in flight")

	// The in-flight segment still completes.
	h.disp.release(1)
	res := waitFor(t, hd)

	assert.Equal(t, domain.ExecutionCancelled, res.Status)
	require.Len(t, res.Segments, 1)
	assert.InDelta(t, 10.0, res.TotalFees, 1e-9)
	assert.InDelta(t, 990.0, res.FinalAmount, 1e-9)
	assert.Equal(t, 1, h.disp.callCount())

	_, err = h.orch.Cancel(ctx, hd.ID, CancelOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

func TestCancelInvokesProviderAdapters(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()

	hd, err := h.orch.Start(ctx, usdToEUR())
	require.NoError(t, err)
	h.awaitStarted(t, 0)
	require.NoError(t, h.orch.Pause(ctx, hd.ID))
	h.disp.release(1)
	require.Eventually(t, func() bool {
		v, _ := h.orch.Status(hd.ID)
		return v.CurrentSegment == 1
	}, 5*time.Second, 5*time.Millisecond)

	out, err := h.orch.Cancel(ctx, hd.ID, CancelOptions{CancelPending: true, Rollback: true})
	require.NoError(t, err)
	assert.Equal(t, 1, out.Cancelled)
	assert.Equal(t, 1, out.Reversed)
	assert.Equal(t, []string{"tx-0"}, h.adapter.cancelled)
	assert.Equal(t, []string{"tx-0"}, h.adapter.reversed)

	res := waitFor(t, hd)
	assert.Equal(t, domain.ExecutionCancelled, res.Status)
	assert.Len(t, res.Segments, 1)
}

func TestCancelAbsorbsProviderErrors(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.adapter.failOn = "tx-0"
	ctx := context.Background()

	hd, err := h.orch.Start(ctx, usdToEUR())
	require.NoError(t, err)
	h.awaitStarted(t, 0)
	require.NoError(t, h.orch.Pause(ctx, hd.ID))
	h.disp.release(1)
	require.Eventually(t, func() bool {
		v, _ := h.orch.Status(hd.ID)
		return v.CurrentSegment == 1
	}, 5*time.Second, 5*time.Millisecond)

	out, err := h.orch.Cancel(ctx, hd.ID, CancelOptions{CancelPending: true})
	require.NoError(t, err)
	assert.Zero(t, out.Cancelled)
	waitFor(t, hd)
}

func TestPauseHoldsAtBoundaryUntilResume(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()

	hd, err := h.orch.Start(ctx, usdToEUR())
	require.NoError(t, err)
	h.awaitStarted(t, 0)

	require.NoError(t, h.orch.Pause(ctx, hd.ID))
	require.NoError(t, h.orch.Pause(ctx, hd.ID), "pause is idempotent")
	h.disp.release(1)

	require.Eventually(t, func() bool {
		v, _ := h.orch.Status(hd.ID)
		return v.CurrentSegment == 1
	}, 5*time.Second, 5*time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	v, err := h.orch.Status(hd.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionPaused, v.Status)
	assert.True(t, v.CanResume)
	assert.False(t, v.CanPause)
	assert.Equal(t, 1, h.disp.callCount(), "no segment starts while paused")
	assert.InDelta(t, 990.0, v.CurrentAmount, 1e-9)
	require.NotNil(t, v.EstimatedCompletion)
	assert.Equal(t, v.StartedAt.Add(30*time.Minute), *v.EstimatedCompletion, "started plus two remaining hops")

	require.NoError(t, h.orch.Resume(ctx, hd.ID))
	assert.ErrorIs(t, h.orch.Resume(ctx, hd.ID), domain.ErrInvalidStateTransition)
	close(h.disp.gate)

	res := waitFor(t, hd)
	assert.Equal(t, domain.ExecutionCompleted, res.Status)
	assert.Len(t, res.Segments, 3)
	assert.Contains(t, h.events.types(), domain.EventExecutionPaused)
	assert.Contains(t, h.events.types(), domain.EventExecutionResumed)
}

func TestPauseResumeStableUnderRepetition(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		h := &harness{
			planner: &fakePlanner{routes: map[string]routing.Route{routeKey("USD", "EUR"): threeHops()}},
			disp:    newGated(),
		}
		h.disp.gate = nil
		o := New(h.planner, h.disp, nil, nil, DefaultConfig(), discard())
		defer o.Close()

		ctx := context.Background()
		hd, err := o.Start(ctx, usdToEUR())
		if err != nil {
			rt.Fatalf("start: %v", err)
		}
		for _, pause := range rapid.SliceOfN(rapid.Bool(), 0, 8).Draw(rt, "ops") {
			if pause {
				_ = o.Pause(ctx, hd.ID)
			} else {
				_ = o.Resume(ctx, hd.ID)
			}
		}
		_ = o.Resume(ctx, hd.ID)

		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		res, err := hd.Wait(wctx)
		if err != nil {
			rt.Fatalf("wait: %v", err)
		}
		if res.Status != domain.ExecutionCompleted || len(res.Segments) != 3 {
			rt.Fatalf("status %s with %d segments", res.Status, len(res.Segments))
		}
	})
}

func TestFailedSegmentStopsExecution(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.disp.gate = nil
	h.disp.fail = map[int]bool{1: true}

	res, err := h.orch.Execute(context.Background(), usdToEUR())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionFailed, res.Status)
	require.Len(t, res.Segments, 2)
	assert.Equal(t, "provider rejected", res.Error)
	assert.InDelta(t, 990.0, res.FinalAmount, 1e-9)
}

func TestSkippedSegmentPassesAmountThrough(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.disp.gate = nil
	h.disp.skip = map[int]bool{1: true}

	res, err := h.orch.Execute(context.Background(), usdToEUR())
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCompleted, res.Status)
	require.Len(t, res.Segments, 3)
	assert.Equal(t, domain.SegmentSkipped, res.Segments[1].Status)
	assert.InDelta(t, 980.1, res.FinalAmount, 1e-9)
}

func TestStartWithoutRouteCreatesNothing(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	_, err := h.orch.Start(context.Background(), domain.ExecutionRequest{FromAsset: "USD", ToAsset: "XYZ", Amount: 1})
	assert.ErrorIs(t, err, domain.ErrRouteNotFound)
	assert.Zero(t, h.orch.Len())

	h.planner.routes[routeKey("USD", "NIL")] = routing.Route{}
	_, err = h.orch.Start(context.Background(), domain.ExecutionRequest{FromAsset: "USD", ToAsset: "NIL", Amount: 1})
	assert.ErrorIs(t, err, domain.ErrRouteNotFound)
}

func TestControlOnUnknownExecution(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()

	_, err := h.orch.Status("missing")
	assert.ErrorIs(t, err, domain.ErrExecutionNotFound)
	assert.ErrorIs(t, h.orch.Pause(ctx, "missing"), domain.ErrExecutionNotFound)
	assert.ErrorIs(t, h.orch.Resume(ctx, "missing"), domain.ErrExecutionNotFound)
	_, err = h.orch.Cancel(ctx, "missing", CancelOptions{})
	assert.ErrorIs(t, err, domain.ErrExecutionNotFound)
	_, err = h.orch.Reroute(ctx, "missing", RerouteRequest{FromCurrentPosition: true})
	assert.ErrorIs(t, err, domain.ErrExecutionNotFound)
	_, err = h.orch.ModifyTransaction(ctx, "missing", 0, nil)
	assert.ErrorIs(t, err, domain.ErrExecutionNotFound)
}

func TestIdempotencyKeyReturnsFirstExecution(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.disp.gate = nil
	req := usdToEUR()
	req.IdempotencyKey = "order-42"

	first, err := h.orch.Start(context.Background(), req)
	require.NoError(t, err)
	second, err := h.orch.Start(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, h.orch.Len())
	waitFor(t, second)
}

func TestConcurrentStartsShareIdempotencyKey(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.disp.gate = nil
	h.planner.delay = 20 * time.Millisecond
	req := usdToEUR()
	req.IdempotencyKey = "k1"

	const n = 8
	handles := make([]*Handle, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hd, err := h.orch.Start(context.Background(), req)
			assert.NoError(t, err)
			handles[i] = hd
		}()
	}
	wg.Wait()

	require.NotNil(t, handles[0])
	for _, hd := range handles {
		require.NotNil(t, hd)
		assert.Equal(t, handles[0].ID, hd.ID)
	}
	assert.Equal(t, 1, h.orch.Len())
	waitFor(t, handles[0])
}

func TestIdempotencyKeyReleasedOnRoutingFailure(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.disp.gate = nil
	req := domain.ExecutionRequest{FromAsset: "USD", ToAsset: "GBP", Amount: 1000, IdempotencyKey: "k2"}

	_, err := h.orch.Start(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrRouteNotFound)

	h.planner.mu.Lock()
	h.planner.routes[routeKey("USD", "GBP")] = threeHops()
	h.planner.mu.Unlock()
	hd, err := h.orch.Start(context.Background(), req)
	require.NoError(t, err)
	waitFor(t, hd)
	assert.Equal(t, 1, h.orch.Len())
}

func TestManualRerouteReplacesRemainder(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()

	hd, err := h.orch.Start(ctx, usdToEUR())
	require.NoError(t, err)
	h.awaitStarted(t, 0)
	require.NoError(t, h.orch.Pause(ctx, hd.ID))

	direct := hop(domain.SegmentOffRamp, "USDC", "EUR", 0.5)
	route, err := h.orch.Reroute(ctx, hd.ID, RerouteRequest{Route: []domain.Segment{direct}})
	require.NoError(t, err)
	require.Len(t, route, 2)
	assert.Equal(t, "USDC", route[1].FromAsset)

	v, err := h.orch.Status(hd.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionInProgress, v.Status, "reroute resets to running")
	assert.Equal(t, 2, v.TotalSegments)

	close(h.disp.gate)
	res := waitFor(t, hd)
	assert.Equal(t, domain.ExecutionCompleted, res.Status)
	require.Len(t, res.Segments, 2)
	assert.InDelta(t, 990*0.995, res.FinalAmount, 1e-9)
	assert.Contains(t, h.events.types(), domain.EventExecutionRerouted)
}

func TestRerouteFromCurrentPosition(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	alt := routing.Route{Segments: []domain.Segment{hop(domain.SegmentFX, "USDC", "EUR", 0.2)}}
	h.planner.routes[routeKey("USDC", "EUR")] = alt
	ctx := context.Background()

	hd, err := h.orch.Start(ctx, usdToEUR())
	require.NoError(t, err)
	h.awaitStarted(t, 0)

	route, err := h.orch.Reroute(ctx, hd.ID, RerouteRequest{FromCurrentPosition: true})
	require.NoError(t, err)
	require.Len(t, route, 2)
	assert.Equal(t, domain.SegmentFX, route[1].Type)

	_, err = h.orch.Reroute(ctx, hd.ID, RerouteRequest{})
	assert.ErrorIs(t, err, domain.ErrRouteNotFound)

	close(h.disp.gate)
	res := waitFor(t, hd)
	assert.Equal(t, domain.ExecutionCompleted, res.Status)
	assert.Len(t, res.Segments, 2)

	_, err = h.orch.Reroute(ctx, hd.ID, RerouteRequest{FromCurrentPosition: true})
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

func TestRerouteFailureRestoresState(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()

	hd, err := h.orch.Start(ctx, usdToEUR())
	require.NoError(t, err)
	h.awaitStarted(t, 0)
	require.NoError(t, h.orch.Pause(ctx, hd.ID))

	_, err = h.orch.Reroute(ctx, hd.ID, RerouteRequest{FromCurrentPosition: true})
	assert.ErrorIs(t, err, domain.ErrRouteNotFound)
	v, _ := h.orch.Status(hd.ID)
	assert.Equal(t, domain.ExecutionPaused, v.Status)

	require.NoError(t, h.orch.Resume(ctx, hd.ID))
	close(h.disp.gate)
	assert.Equal(t, domain.ExecutionCompleted, waitFor(t, hd).Status)
}

func TestModifyTransaction(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()

	hd, err := h.orch.Start(ctx, usdToEUR())
	require.NoError(t, err)
	h.awaitStarted(t, 0)
	require.NoError(t, h.orch.Pause(ctx, hd.ID))
	h.disp.release(1)
	require.Eventually(t, func() bool {
		v, _ := h.orch.Status(hd.ID)
		return v.CurrentSegment == 1
	}, 5*time.Second, 5*time.Millisecond)

	amount := 500.0
	out, err := h.orch.ModifyTransaction(ctx, hd.ID, 0, &amount)
	require.NoError(t, err)
	assert.True(t, out.NewTransactionRequired)
	assert.Equal(t, "tx-0", out.TxID)
	assert.Equal(t, "sim", out.Provider)

	_, err = h.orch.ModifyTransaction(ctx, hd.ID, 2, nil)
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)

	delete(h.orch.providers.(adapters), "sim")
	_, err = h.orch.ModifyTransaction(ctx, hd.ID, 0, nil)
	assert.ErrorIs(t, err, domain.ErrModificationUnsupported)

	require.NoError(t, h.orch.Resume(ctx, hd.ID))
	close(h.disp.gate)
	waitFor(t, hd)
	_, err = h.orch.ModifyTransaction(ctx, hd.ID, 0, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
}

func TestAIRerouteInstallsCheaperAlternative(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.disp.gate = nil
	cheap := routing.Route{
		Segments:    []domain.Segment{hop(domain.SegmentFX, "USDC", "EUR", 0.1)},
		CostPercent: 0.1,
		ETAMinutes:  15,
		Reliability: 0.5,
	}
	h.planner.routes[routeKey("USDC", "EUR")] = cheap
	req := usdToEUR()
	req.AIRerouting = true

	res, err := h.orch.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCompleted, res.Status)
	require.Len(t, res.Route, 2)
	assert.Equal(t, domain.SegmentFX, res.Route[1].Type)
	require.Len(t, res.Segments, 2)
	assert.InDelta(t, 990*0.999, res.FinalAmount, 1e-9)
	assert.Contains(t, h.events.types(), domain.EventExecutionRerouted)
}

func TestAIRerouteKeepsRouteWithoutImprovement(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.disp.gate = nil
	worse := routing.Route{
		Segments:    []domain.Segment{hop(domain.SegmentFX, "USDC", "EUR", 5)},
		CostPercent: 5,
		ETAMinutes:  300,
		Reliability: 0.5,
	}
	h.planner.routes[routeKey("USDC", "EUR")] = worse
	h.planner.routes[routeKey("ETH", "EUR")] = worse
	req := usdToEUR()
	req.AIRerouting = true

	res, err := h.orch.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, res.Segments, 3)
	assert.Equal(t, threeHops().Segments, res.Route)
	assert.NotContains(t, h.events.types(), domain.EventExecutionRerouted)
}

func TestAIRerouteIgnoresIdenticalAlternative(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.disp.gate = nil
	hops := threeHops().Segments
	h.planner.routes[routeKey("USDC", "EUR")] = routing.Route{Segments: hops[1:], Reliability: 0.99}
	h.planner.routes[routeKey("ETH", "EUR")] = routing.Route{Segments: hops[2:], Reliability: 0.99}
	req := usdToEUR()
	req.AIRerouting = true

	res, err := h.orch.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, hops, res.Route)
	assert.NotContains(t, h.events.types(), domain.EventExecutionRerouted)
}

func TestAIRerouteIsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAIReroutes = 1
	h := newHarness(t, cfg)
	h.disp.gate = nil
	// Every alternative is a fresh, highly reliable two-hop detour.
	h.planner.routes[routeKey("USDC", "EUR")] = routing.Route{
		Segments: []domain.Segment{
			hop(domain.SegmentCrypto, "USDC", "SOL", 1),
			hop(domain.SegmentOffRamp, "SOL", "EUR", 1),
		},
		Reliability: 0.99,
	}
	h.planner.routes[routeKey("SOL", "EUR")] = routing.Route{
		Segments:    []domain.Segment{hop(domain.SegmentFX, "SOL", "EUR", 0.1)},
		Reliability: 0.99,
	}
	req := usdToEUR()
	req.AIRerouting = true

	res, err := h.orch.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCompleted, res.Status)
	require.Len(t, res.Route, 3)
	assert.Equal(t, "SOL", res.Route[1].ToAsset)
	assert.Equal(t, domain.SegmentOffRamp, res.Route[2].Type, "second reroute suppressed")
}

func TestRerouteSignal(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, rerouteSignal{CostDelta: -6}.triggers(cfg))
	assert.False(t, rerouteSignal{CostDelta: -5}.triggers(cfg))
	assert.True(t, rerouteSignal{LatencyDelta: -21}.triggers(cfg))
	assert.False(t, rerouteSignal{LatencyDelta: 50, CostDelta: 10}.triggers(cfg))
	assert.True(t, rerouteSignal{Reliability: 0.91}.triggers(cfg))
	assert.False(t, rerouteSignal{Reliability: 0.9}.triggers(cfg))

	assert.Equal(t, 0.0, percentDelta(10, 0))
	assert.Equal(t, -50.0, percentDelta(5, 10))
}

func TestGroupAtPartitionsRoute(t *testing.T) {
	route := []domain.Segment{
		hop(domain.SegmentFX, "A", "B", 0),
		hop(domain.SegmentCrypto, "B", "C", 0),
		hop(domain.SegmentFX, "C", "D", 0),
		hop(domain.SegmentFX, "D", "E", 0),
		hop(domain.SegmentBridge, "E", "F", 0),
		hop(domain.SegmentOnRamp, "F", "G", 0),
		hop(domain.SegmentCrypto, "G", "H", 0),
	}
	var groups []int
	for i := 0; i < len(route); {
		n := groupAt(route, i, 3)
		groups = append(groups, n)
		i += n
	}
	assert.Equal(t, []int{3, 1, 1, 1, 1}, groups)
}

func TestGroupAtProperties(t *testing.T) {
	types := []domain.SegmentType{
		domain.SegmentFX, domain.SegmentCrypto, domain.SegmentBridge,
		domain.SegmentOnRamp, domain.SegmentOffRamp, domain.SegmentBankRail,
	}
	rapid.Check(t, func(t *rapid.T) {
		picks := rapid.SliceOfN(rapid.SampledFrom(types), 1, 20).Draw(t, "types")
		size := rapid.IntRange(1, 5).Draw(t, "size")
		route := make([]domain.Segment, len(picks))
		for i, typ := range picks {
			route[i] = domain.Segment{Type: typ}
		}
		covered := 0
		for covered < len(route) {
			n := groupAt(route, covered, size)
			if n < 1 || n > size {
				t.Fatalf("group of %d with size %d", n, size)
			}
			for _, s := range route[covered : covered+n] {
				if n > 1 && !parallelizable(s.Type) {
					t.Fatalf("%s grouped with others", s.Type)
				}
			}
			covered += n
		}
		if covered != len(route) {
			t.Fatalf("covered %d of %d", covered, len(route))
		}
	})
}

func parallelRoute() routing.Route {
	return routing.Route{Segments: []domain.Segment{
		hop(domain.SegmentFX, "USD", "EUR", 1),
		hop(domain.SegmentCrypto, "USD", "EUR", 2),
		hop(domain.SegmentBankRail, "EUR", "EUR", 1),
	}}
}

func TestParallelMaxMerge(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.planner.routes[routeKey("USD", "EUR")] = parallelRoute()
	req := usdToEUR()
	req.Parallel = true

	hd, err := h.orch.Start(context.Background(), req)
	require.NoError(t, err)
	var first []int
	for range 2 {
		select {
		case idx := <-h.disp.started:
			first = append(first, idx)
		case <-time.After(5 * time.Second):
			t.Fatal("group never dispatched")
		}
	}
	assert.ElementsMatch(t, []int{0, 1}, first)
	close(h.disp.gate)

	res := waitFor(t, hd)
	assert.Equal(t, domain.ExecutionCompleted, res.Status)
	require.Len(t, res.Segments, 3)
	h.disp.mu.Lock()
	assert.Equal(t, 2, h.disp.peak, "first two segments ran concurrently")
	h.disp.mu.Unlock()
	assert.InDelta(t, 990*0.99, res.FinalAmount, 1e-9)
}

func TestParallelSplitMerge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ParallelMerge = MergeSplit
	h := newHarness(t, cfg)
	h.disp.gate = nil
	h.planner.routes[routeKey("USD", "EUR")] = parallelRoute()
	req := usdToEUR()
	req.Parallel = true

	res, err := h.orch.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Segments, 3)
	assert.InDelta(t, 500.0, res.Segments[0].InputAmount, 1e-9)
	assert.InDelta(t, 500.0, res.Segments[1].InputAmount, 1e-9)
	assert.InDelta(t, (495+490)*0.99, res.FinalAmount, 1e-9)
}

func TestParallelFailureRecordsSiblings(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.disp.gate = nil
	h.disp.fail = map[int]bool{0: true}
	h.planner.routes[routeKey("USD", "EUR")] = parallelRoute()
	req := usdToEUR()
	req.Parallel = true

	res, err := h.orch.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionFailed, res.Status)
	require.Len(t, res.Segments, 2, "sibling recorded, later group never runs")
	assert.Equal(t, domain.SegmentCompleted, res.Segments[1].Status)
	assert.Equal(t, 1000.0, res.FinalAmount)
}

func TestCloseAbortsRunningExecutions(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	hd, err := h.orch.Start(context.Background(), usdToEUR())
	require.NoError(t, err)
	h.awaitStarted(t, 0)

	h.orch.Close()
	res := waitFor(t, hd)
	assert.Equal(t, domain.ExecutionFailed, res.Status)
}

func TestAbortWhilePausedReportsAbort(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	hd, err := h.orch.Start(ctx, usdToEUR())
	require.NoError(t, err)
	h.awaitStarted(t, 0)
	require.NoError(t, h.orch.Pause(ctx, hd.ID))
	h.disp.release(1)
	require.Eventually(t, func() bool {
		v, _ := h.orch.Status(hd.ID)
		return v.CurrentSegment == 1
	}, 5*time.Second, 5*time.Millisecond)

	h.orch.Close()
	res := waitFor(t, hd)
	assert.Equal(t, domain.ExecutionFailed, res.Status)
	assert.Contains(t, res.Error, "execution aborted")
	assert.Len(t, res.Segments, 1)
}

func TestSweepEvictsExpired(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.disp.gate = nil
	res, err := h.orch.Execute(context.Background(), usdToEUR())
	require.NoError(t, err)

	assert.Zero(t, h.orch.Sweep(time.Hour))
	future := time.Now().Add(2 * time.Hour)
	h.orch.nowFn = func() time.Time { return future }
	assert.Equal(t, 1, h.orch.Sweep(time.Hour))
	_, err = h.orch.Status(res.ExecutionID)
	assert.ErrorIs(t, err, domain.ErrExecutionNotFound)
}

func TestEvictRequiresTerminal(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	hd, err := h.orch.Start(context.Background(), usdToEUR())
	require.NoError(t, err)
	h.awaitStarted(t, 0)
	assert.ErrorIs(t, h.orch.Evict(hd.ID), domain.ErrInvalidStateTransition)

	close(h.disp.gate)
	waitFor(t, hd)
	require.NoError(t, h.orch.Evict(hd.ID))
	assert.Zero(t, h.orch.Len())
}

func TestResultIsProvisionalWhileLive(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	ctx := context.Background()
	hd, err := h.orch.Start(ctx, usdToEUR())
	require.NoError(t, err)
	h.awaitStarted(t, 0)

	res, err := h.orch.Result(hd.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionInProgress, res.Status)
	assert.Nil(t, res.CompletedAt)
	assert.Empty(t, res.Segments)

	close(h.disp.gate)
	waitFor(t, hd)
	res, err = h.orch.Result(hd.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ExecutionCompleted, res.Status)
}

func TestDedupExpires(t *testing.T) {
	d := NewDedup(time.Minute)
	now := time.Now()
	d.now = func() time.Time { return now }
	d.Remember("k", "exec-1")
	id, ok := d.Lookup("k")
	require.True(t, ok)
	assert.Equal(t, "exec-1", id)

	now = now.Add(2 * time.Minute)
	_, ok = d.Lookup("k")
	assert.False(t, ok)
	d.Cleanup()
	assert.Empty(t, d.seen)
}
