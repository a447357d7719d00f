// Package execution drives chosen routes through settlement. Each execution
// is owned by one goroutine; control operations change its state under the
// execution's mutex and take effect at the next segment or group boundary.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/routeengine/internal/domain"
	"github.com/alanyoungcy/routeengine/internal/executor"
	"github.com/alanyoungcy/routeengine/internal/routing"
)

// RoutePlanner resolves the optimal route for a query.
type RoutePlanner interface {
	Optimal(ctx context.Context, q domain.RouteQuery, w *domain.RoutingWeights) (routing.Route, error)
}

// Dispatcher settles one segment. It never fails; failures are reported in
// the returned result.
type Dispatcher interface {
	Dispatch(ctx context.Context, seg domain.Segment, input float64, walletAddr string, meta executor.Meta) domain.SegmentResult
}

var (
	_ RoutePlanner = (*routing.Planner)(nil)
	_ Dispatcher   = (*executor.Registry)(nil)
)

// Parallel amount merge policies.
const (
	MergeMax   = "max"
	MergeSplit = "split"
)

// Config holds orchestrator tunables.
type Config struct {
	RerouteCostPercent    float64
	RerouteLatencyPercent float64
	RerouteReliability    float64
	MaxAIReroutes         int
	ParallelGroupSize     int
	ParallelMerge         string
	Retention             time.Duration
	DedupTTL              time.Duration
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		RerouteCostPercent:    5,
		RerouteLatencyPercent: 20,
		RerouteReliability:    0.9,
		MaxAIReroutes:         3,
		ParallelGroupSize:     3,
		ParallelMerge:         MergeMax,
		Retention:             24 * time.Hour,
		DedupTTL:              10 * time.Minute,
	}
}

// Orchestrator owns every live execution of the process.
type Orchestrator struct {
	mu         sync.RWMutex
	executions map[string]*execution

	planner    RoutePlanner
	dispatcher Dispatcher
	providers  domain.ProviderLookup
	events     domain.EventPublisher
	dedup      *Dedup
	starts     singleflight.Group
	cfg        Config
	logger     *slog.Logger

	root   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	nowFn  func() time.Time
	idFunc func() string
}

// New creates an Orchestrator. providers and events may be nil.
func New(planner RoutePlanner, dispatcher Dispatcher, providers domain.ProviderLookup, events domain.EventPublisher, cfg Config, logger *slog.Logger) *Orchestrator {
	def := DefaultConfig()
	if cfg.ParallelGroupSize <= 0 {
		cfg.ParallelGroupSize = def.ParallelGroupSize
	}
	if cfg.ParallelMerge == "" {
		cfg.ParallelMerge = def.ParallelMerge
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = def.DedupTTL
	}
	root, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		executions: make(map[string]*execution),
		planner:    planner,
		dispatcher: dispatcher,
		providers:  providers,
		events:     events,
		dedup:      NewDedup(cfg.DedupTTL),
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "orchestrator")),
		root:       root,
		stop:       stop,
		nowFn:      func() time.Time { return time.Now().UTC() },
		idFunc:     uuid.NewString,
	}
}

// Handle refers to a started execution.
type Handle struct {
	ID string
	e  *execution
}

// Done is closed once the execution reaches a terminal status.
func (h *Handle) Done() <-chan struct{} { return h.e.done }

// Wait blocks until the execution is terminal or ctx ends.
func (h *Handle) Wait(ctx context.Context) (domain.ExecutionResult, error) {
	select {
	case <-ctx.Done():
		return domain.ExecutionResult{}, ctx.Err()
	case <-h.e.done:
	}
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	return cloneResult(*h.e.result), nil
}

// Execute starts an execution and waits for its result.
func (o *Orchestrator) Execute(ctx context.Context, req domain.ExecutionRequest) (domain.ExecutionResult, error) {
	h, err := o.Start(ctx, req)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	return h.Wait(ctx)
}

// Start resolves the optimal route and begins settling it in the
// background. Routing failures are returned; no execution is created.
// Starts sharing an idempotency key, concurrent or within the dedup TTL,
// resolve to one execution.
func (o *Orchestrator) Start(ctx context.Context, req domain.ExecutionRequest) (*Handle, error) {
	if req.IdempotencyKey == "" {
		return o.start(ctx, req)
	}
	v, err, _ := o.starts.Do(req.IdempotencyKey, func() (any, error) {
		if id, ok := o.dedup.Lookup(req.IdempotencyKey); ok {
			if e, err := o.get(id); err == nil {
				return &Handle{ID: id, e: e}, nil
			}
		}
		return o.start(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

func (o *Orchestrator) start(ctx context.Context, req domain.ExecutionRequest) (*Handle, error) {
	route, err := o.planner.Optimal(ctx, req.Query(), req.Weights)
	if err != nil {
		return nil, fmt.Errorf("execution: resolve route: %w", err)
	}
	if len(route.Segments) == 0 {
		return nil, fmt.Errorf("execution: resolve route: %w", domain.ErrRouteNotFound)
	}

	e := newExecution(o.idFunc(), req, route.Segments, o.nowFn())
	o.mu.Lock()
	o.executions[e.id] = e
	o.mu.Unlock()
	if req.IdempotencyKey != "" {
		o.dedup.Remember(req.IdempotencyKey, e.id)
	}

	o.logger.InfoContext(ctx, "execution started",
		slog.String("execution_id", e.id),
		slog.String("from", req.FromAsset),
		slog.String("to", req.ToAsset),
		slog.Float64("amount", req.Amount),
		slog.Int("segments", len(route.Segments)),
		slog.String("solver", route.SolverUsed),
		slog.Bool("parallel", req.Parallel),
	)
	o.publish(ctx, e, domain.EventExecutionStarted, nil, "")

	o.wg.Add(1)
	go o.run(o.root, e)
	return &Handle{ID: e.id, e: e}, nil
}

// Close stops every running execution and waits for the goroutines to end.
func (o *Orchestrator) Close() {
	o.stop()
	o.wg.Wait()
}

func (o *Orchestrator) get(id string) (*execution, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e, ok := o.executions[id]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", id, domain.ErrExecutionNotFound)
	}
	return e, nil
}

func (o *Orchestrator) run(ctx context.Context, e *execution) {
	defer o.wg.Done()
	if e.req.Parallel {
		o.runParallel(ctx, e)
	} else {
		o.runSequential(ctx, e)
	}
	o.finish(ctx, e)
}

// boundary blocks while the execution is paused or rerouting. It returns
// false when the loop must stop: the execution is cancelling or ctx ended.
// On true the lock is held.
func (o *Orchestrator) boundary(ctx context.Context, e *execution) bool {
	for {
		e.mu.Lock()
		switch e.state {
		case stateCancelling:
			e.mu.Unlock()
			return false
		case statePaused, stateRerouting:
			wake := e.wake
			e.mu.Unlock()
			select {
			case <-wake:
				continue
			case <-ctx.Done():
				e.mu.Lock()
				e.abort = ctx.Err()
				e.mu.Unlock()
				return false
			}
		}
		if err := ctx.Err(); err != nil {
			e.abort = err
			e.mu.Unlock()
			return false
		}
		return true
	}
}

func (o *Orchestrator) runSequential(ctx context.Context, e *execution) {
	for {
		if !o.boundary(ctx, e) {
			return
		}
		if e.next >= len(e.route) {
			e.mu.Unlock()
			return
		}
		idx := e.next
		amount := e.amount
		gen := e.routeGen
		evaluate := e.req.AIRerouting && idx > 0 && e.evaluatedAt != idx && e.aiReroutes < o.cfg.MaxAIReroutes
		e.evaluatedAt = max(e.evaluatedAt, idx)
		e.mu.Unlock()

		if evaluate {
			if alt, ok := o.shouldReroute(ctx, e, idx, amount); ok && o.applyAIReroute(ctx, e, idx, gen, alt) {
				continue
			}
		}

		e.mu.Lock()
		if e.state != stateRunning || e.next != idx {
			// A control operation intervened during evaluation.
			e.mu.Unlock()
			continue
		}
		seg := e.route[idx]
		wallet := e.wallet
		e.next = idx + 1
		e.mu.Unlock()

		res := o.dispatcher.Dispatch(ctx, seg, amount, wallet, executor.Meta{ExecutionID: e.id, Index: idx})
		o.record(ctx, e, []domain.Segment{seg}, []domain.SegmentResult{res}, res.OutputAmount)
		if res.Status == domain.SegmentFailed {
			return
		}
	}
}

// parallelizable segments may share a concurrent group.
func parallelizable(t domain.SegmentType) bool {
	return t == domain.SegmentFX || t == domain.SegmentCrypto
}

// groupAt returns the length of the group starting at i: up to size
// consecutive FX/CRYPTO segments, or a single segment of any other type.
func groupAt(route []domain.Segment, i, size int) int {
	if !parallelizable(route[i].Type) {
		return 1
	}
	n := 1
	for i+n < len(route) && n < size && parallelizable(route[i+n].Type) {
		n++
	}
	return n
}

func (o *Orchestrator) runParallel(ctx context.Context, e *execution) {
	for {
		if !o.boundary(ctx, e) {
			return
		}
		if e.next >= len(e.route) {
			e.mu.Unlock()
			return
		}
		start := e.next
		n := groupAt(e.route, start, o.cfg.ParallelGroupSize)
		segs := slices.Clone(e.route[start : start+n])
		amount, wallet := e.amount, e.wallet
		e.next = start + n
		e.mu.Unlock()

		input := amount
		if o.cfg.ParallelMerge == MergeSplit {
			input = amount / float64(n)
		}
		results := make([]domain.SegmentResult, n)
		var g errgroup.Group
		for i, seg := range segs {
			g.Go(func() error {
				results[i] = o.dispatcher.Dispatch(ctx, seg, input, wallet, executor.Meta{ExecutionID: e.id, Index: start + i})
				return nil
			})
		}
		_ = g.Wait()

		merged := 0.0
		for _, r := range results {
			if o.cfg.ParallelMerge == MergeSplit {
				merged += r.OutputAmount
			} else {
				merged = max(merged, r.OutputAmount)
			}
		}
		o.record(ctx, e, segs, results, merged)
		if slices.ContainsFunc(results, func(r domain.SegmentResult) bool { return r.Status == domain.SegmentFailed }) {
			return
		}
	}
}

// record appends settled results. amount becomes the new transfer amount
// unless a result failed.
func (o *Orchestrator) record(ctx context.Context, e *execution, segs []domain.Segment, results []domain.SegmentResult, amount float64) {
	failed := false
	e.mu.Lock()
	for i, res := range results {
		e.results = append(e.results, res)
		if res.TxHash != "" {
			e.txs[res.Index] = domain.TxRecord{Provider: segs[i].ProviderName(), TxID: res.TxHash}
		}
		if addr := res.WalletAddress(); addr != "" {
			e.wallet = addr
		}
		if res.Status == domain.SegmentFailed {
			failed = true
		}
	}
	e.current = len(e.results)
	if !failed {
		e.amount = amount
	}
	e.mu.Unlock()

	for i := range results {
		res := results[i]
		log := o.logger.With(
			slog.String("execution_id", e.id),
			slog.Int("segment_index", res.Index),
			slog.String("segment_type", string(res.Type)),
			slog.String("status", string(res.Status)),
		)
		if res.Status == domain.SegmentFailed {
			log.WarnContext(ctx, "segment failed", slog.String("error", res.Error))
		} else {
			log.InfoContext(ctx, "segment settled",
				slog.Float64("input", res.InputAmount),
				slog.Float64("output", res.OutputAmount),
				slog.Float64("fees", res.FeesPaid),
			)
		}
		o.publish(ctx, e, domain.EventSegmentFinished, &res, "")
	}
}

func (o *Orchestrator) finish(ctx context.Context, e *execution) {
	e.mu.Lock()
	now := o.nowFn()
	e.completedAt = &now
	res := buildResult(e, true)
	e.result = &res
	e.state = stateDone
	e.wakeLocked()
	e.mu.Unlock()
	defer close(e.done)

	o.logger.InfoContext(ctx, "execution finished",
		slog.String("execution_id", e.id),
		slog.String("status", string(res.Status)),
		slog.Float64("final_amount", res.FinalAmount),
		slog.Float64("total_fees", res.TotalFees),
		slog.Int("segments", len(res.Segments)),
	)
	out := cloneResult(res)
	o.publish(ctx, e, domain.EventExecutionFinished, nil, "", withResult(&out))
}

type publishOpt func(*domain.Event)

func withResult(r *domain.ExecutionResult) publishOpt {
	return func(ev *domain.Event) { ev.Result = r }
}

func (o *Orchestrator) publish(ctx context.Context, e *execution, typ string, seg *domain.SegmentResult, msg string, opts ...publishOpt) {
	if o.events == nil {
		return
	}
	e.mu.Lock()
	status := e.statusLocked()
	e.mu.Unlock()
	ev := domain.Event{
		Type:        typ,
		ExecutionID: e.id,
		Status:      status,
		Segment:     seg,
		Message:     msg,
		At:          o.nowFn(),
	}
	for _, opt := range opts {
		opt(&ev)
	}
	o.events.Publish(context.WithoutCancel(ctx), ev)
}
