package execution

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/alanyoungcy/routeengine/internal/domain"
)

// CancelOptions selects what Cancel does beyond stopping the loop.
type CancelOptions struct {
	// CancelPending asks providers to cancel every recorded transaction.
	CancelPending bool `json:"cancel_pending"`
	// Rollback asks providers that support reversal to unwind settled
	// transactions.
	Rollback bool `json:"rollback"`
}

// CancelOutcome reports the provider side effects of Cancel.
type CancelOutcome struct {
	ExecutionID string                 `json:"execution_id"`
	Status      domain.ExecutionStatus `json:"status"`
	Cancelled   int                    `json:"cancelled_transactions"`
	Reversed    int                    `json:"reversed_transactions"`
}

// RerouteRequest replaces the remaining route of an execution.
type RerouteRequest struct {
	// FromCurrentPosition recomputes the remainder from the execution's
	// current asset to its final destination.
	FromCurrentPosition bool
	// Route is installed as the remainder when FromCurrentPosition is false.
	Route []domain.Segment
}

// Status returns a point-in-time view of an execution.
func (o *Orchestrator) Status(id string) (domain.ExecutionView, error) {
	e, err := o.get(id)
	if err != nil {
		return domain.ExecutionView{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked(), nil
}

// Result returns the final result of a terminal execution, or a provisional
// aggregate of a live one.
func (o *Orchestrator) Result(id string) (domain.ExecutionResult, error) {
	e, err := o.get(id)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.result != nil {
		return cloneResult(*e.result), nil
	}
	return buildResult(e, false), nil
}

// Pause stops the execution at the next segment boundary. Pausing a paused
// execution is a no-op.
func (o *Orchestrator) Pause(ctx context.Context, id string) error {
	e, err := o.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	switch e.state {
	case statePaused:
		e.mu.Unlock()
		return nil
	case stateRunning, stateRerouting:
		e.setStateLocked(statePaused)
	default:
		s := e.state
		e.mu.Unlock()
		return fmt.Errorf("execution %s: pause while %s: %w", id, s, domain.ErrInvalidStateTransition)
	}
	e.mu.Unlock()

	o.logger.InfoContext(ctx, "execution paused", slog.String("execution_id", id))
	o.publish(ctx, e, domain.EventExecutionPaused, nil, "")
	return nil
}

// Resume continues a paused execution.
func (o *Orchestrator) Resume(ctx context.Context, id string) error {
	e, err := o.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.state != statePaused {
		s := e.state
		e.mu.Unlock()
		return fmt.Errorf("execution %s: resume while %s: %w", id, s, domain.ErrInvalidStateTransition)
	}
	e.setStateLocked(stateRunning)
	e.mu.Unlock()

	o.logger.InfoContext(ctx, "execution resumed", slog.String("execution_id", id))
	o.publish(ctx, e, domain.EventExecutionResumed, nil, "")
	return nil
}

// Cancel stops the execution at the next boundary. A segment already
// dispatched runs to completion. Provider failures are logged and do not
// fail the call.
func (o *Orchestrator) Cancel(ctx context.Context, id string, opts CancelOptions) (CancelOutcome, error) {
	e, err := o.get(id)
	if err != nil {
		return CancelOutcome{}, err
	}
	e.mu.Lock()
	if e.state == stateDone {
		e.mu.Unlock()
		return CancelOutcome{}, fmt.Errorf("execution %s: cancel after completion: %w", id, domain.ErrInvalidStateTransition)
	}
	e.setStateLocked(stateCancelling)
	indexes := make([]int, 0, len(e.txs))
	for idx := range e.txs {
		indexes = append(indexes, idx)
	}
	slices.Sort(indexes)
	txs := make([]domain.TxRecord, len(indexes))
	for i, idx := range indexes {
		txs[i] = e.txs[idx]
	}
	e.mu.Unlock()

	out := CancelOutcome{ExecutionID: id, Status: domain.ExecutionCancelled}
	log := o.logger.With(slog.String("execution_id", id))
	for _, tx := range txs {
		adapter, ok := o.adapter(tx.Provider)
		if !ok {
			continue
		}
		if opts.CancelPending {
			cancelled, err := adapter.CancelTransaction(ctx, tx.TxID)
			if err != nil {
				log.WarnContext(ctx, "provider cancel failed",
					slog.String("provider", tx.Provider),
					slog.String("tx_id", tx.TxID),
					slog.String("error", err.Error()),
				)
			} else if cancelled {
				out.Cancelled++
			}
		}
		if opts.Rollback {
			rev, ok := adapter.(domain.Reverser)
			if !ok {
				continue
			}
			reversed, err := rev.ReverseTransaction(ctx, tx.TxID)
			if err != nil {
				log.WarnContext(ctx, "provider reversal failed",
					slog.String("provider", tx.Provider),
					slog.String("tx_id", tx.TxID),
					slog.String("error", err.Error()),
				)
			} else if reversed {
				out.Reversed++
			}
		}
	}

	log.InfoContext(ctx, "execution cancelled",
		slog.Int("cancelled_transactions", out.Cancelled),
		slog.Int("reversed_transactions", out.Reversed),
	)
	o.publish(ctx, e, domain.EventExecutionCancelled, nil,
		fmt.Sprintf("cancelled %d, reversed %d", out.Cancelled, out.Reversed))
	return out, nil
}

// Reroute replaces the part of the route not yet dispatched and sets the
// execution running again.
func (o *Orchestrator) Reroute(ctx context.Context, id string, req RerouteRequest) ([]domain.Segment, error) {
	e, err := o.get(id)
	if err != nil {
		return nil, err
	}
	if !req.FromCurrentPosition && len(req.Route) == 0 {
		return nil, fmt.Errorf("execution %s: reroute without a route: %w", id, domain.ErrRouteNotFound)
	}

	e.mu.Lock()
	if e.state == stateDone || e.state == stateCancelling || e.state == stateRerouting {
		s := e.state
		e.mu.Unlock()
		return nil, fmt.Errorf("execution %s: reroute while %s: %w", id, s, domain.ErrInvalidStateTransition)
	}
	pos := e.next
	if pos >= len(e.route) {
		e.mu.Unlock()
		return nil, fmt.Errorf("execution %s: no remaining segments: %w", id, domain.ErrInvalidStateTransition)
	}
	prev := e.state
	q := domain.RouteQuery{
		FromAsset:   e.route[pos].FromAsset,
		FromNetwork: e.route[pos].FromNetwork,
		ToAsset:     e.route[len(e.route)-1].ToAsset,
		ToNetwork:   e.route[len(e.route)-1].ToNetwork,
	}
	weights := e.req.Weights
	e.setStateLocked(stateRerouting)
	e.mu.Unlock()

	remainder := slices.Clone(req.Route)
	if req.FromCurrentPosition {
		alt, err := o.planner.Optimal(ctx, q, weights)
		if err != nil {
			e.mu.Lock()
			if e.state == stateRerouting {
				e.setStateLocked(prev)
			}
			e.mu.Unlock()
			return nil, fmt.Errorf("execution %s: reroute: %w", id, err)
		}
		remainder = alt.Segments
	}

	e.mu.Lock()
	e.route = append(slices.Clone(e.route[:e.next]), remainder...)
	e.routeGen++
	if e.state == stateRerouting {
		e.setStateLocked(stateRunning)
	}
	route := slices.Clone(e.route)
	e.mu.Unlock()

	o.logger.InfoContext(ctx, "execution rerouted",
		slog.String("execution_id", id),
		slog.Int("position", pos),
		slog.Int("total_segments", len(route)),
		slog.Bool("from_current_position", req.FromCurrentPosition),
	)
	o.publish(ctx, e, domain.EventExecutionRerouted, nil, "manual reroute")
	return route, nil
}

// ModifyTransaction asks the provider of a settled segment's transaction to
// amend it. Providers that cannot amend in place cancel the transaction and
// report NewTransactionRequired.
func (o *Orchestrator) ModifyTransaction(ctx context.Context, id string, index int, newAmount *float64) (domain.ModifyOutcome, error) {
	e, err := o.get(id)
	if err != nil {
		return domain.ModifyOutcome{}, err
	}
	e.mu.Lock()
	if e.state == stateDone {
		e.mu.Unlock()
		return domain.ModifyOutcome{}, fmt.Errorf("execution %s: modify after completion: %w", id, domain.ErrInvalidStateTransition)
	}
	if index < 0 || index >= len(e.results) {
		e.mu.Unlock()
		return domain.ModifyOutcome{}, fmt.Errorf("execution %s: segment index %d out of range: %w", id, index, domain.ErrTransactionNotFound)
	}
	tx, ok := e.txs[index]
	e.mu.Unlock()
	if !ok {
		return domain.ModifyOutcome{}, fmt.Errorf("execution %s: segment %d: %w", id, index, domain.ErrTransactionNotFound)
	}

	adapter, ok := o.adapter(tx.Provider)
	if !ok {
		return domain.ModifyOutcome{}, fmt.Errorf("execution %s: provider %s: %w", id, tx.Provider, domain.ErrModificationUnsupported)
	}
	out, err := adapter.ModifyTransaction(ctx, tx.TxID, newAmount)
	if err != nil {
		return domain.ModifyOutcome{}, fmt.Errorf("execution %s: modify %s: %w", id, tx.TxID, err)
	}
	if out.TxID == "" {
		out.TxID = tx.TxID
	}
	if out.Provider == "" {
		out.Provider = tx.Provider
	}
	o.logger.InfoContext(ctx, "transaction modified",
		slog.String("execution_id", id),
		slog.Int("segment_index", index),
		slog.String("tx_id", tx.TxID),
		slog.Bool("new_transaction_required", out.NewTransactionRequired),
	)
	return out, nil
}

func (o *Orchestrator) adapter(provider string) (domain.ProviderAdapter, bool) {
	if o.providers == nil {
		return nil, false
	}
	return o.providers.Adapter(provider)
}

// Evict removes a terminal execution.
func (o *Orchestrator) Evict(id string) error {
	e, err := o.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	done := e.state == stateDone
	e.mu.Unlock()
	if !done {
		return fmt.Errorf("execution %s: evict while live: %w", id, domain.ErrInvalidStateTransition)
	}
	o.mu.Lock()
	delete(o.executions, id)
	o.mu.Unlock()
	return nil
}

// Sweep evicts terminal executions completed before now minus retention.
func (o *Orchestrator) Sweep(retention time.Duration) int {
	cutoff := o.nowFn().Add(-retention)
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for id, e := range o.executions {
		e.mu.Lock()
		expired := e.state == stateDone && e.completedAt != nil && e.completedAt.Before(cutoff)
		e.mu.Unlock()
		if expired {
			delete(o.executions, id)
			n++
		}
	}
	return n
}

// RunJanitor sweeps expired executions every interval until ctx ends.
func (o *Orchestrator) RunJanitor(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := o.Sweep(o.cfg.Retention); n > 0 {
				o.logger.InfoContext(ctx, "executions evicted", slog.Int("count", n))
			}
			o.dedup.Cleanup()
		}
	}
}

// Len returns the number of tracked executions.
func (o *Orchestrator) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.executions)
}
