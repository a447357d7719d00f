// Package executor settles single route segments against the settlement
// ledger. One Executor exists per segment type.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/routeengine/internal/domain"
	"github.com/alanyoungcy/routeengine/internal/settlement"
)

// Meta identifies the segment attempt being executed.
type Meta struct {
	ExecutionID string
	Index       int
}

// Executor settles one segment. Implementations never return an error: any
// failure is reported as a FAILED result.
type Executor interface {
	Execute(ctx context.Context, seg domain.Segment, input float64, walletAddr string, meta Meta) domain.SegmentResult
}

// Ledger is the subset of the settlement simulator executors rely on.
type Ledger interface {
	GenerateWallet(network string) (string, error)
	Debit(address, asset string, amount float64) bool
	AddBalance(address, asset string, amount float64)
	CreateTransaction(req settlement.TxRequest) (string, error)
	SimulateConfirmation(ctx context.Context, hash string, minBlocks, maxBlocks int, blockTime time.Duration) (settlement.Confirmation, error)
	SimulateBankTransfer(ctx context.Context, amount float64, currency string, minHours, maxHours float64) (settlement.BankTransfer, error)
	SimulateFXConversion(ctx context.Context, from, to string, amount, rate float64, minMinutes, maxMinutes int) (settlement.FXConversion, error)
	SimulateDelay(ctx context.Context, minMinutes, maxMinutes float64) (float64, error)
}

var _ Ledger = (*settlement.Simulator)(nil)

// Config holds executor tunables.
type Config struct {
	// FastNetworks use a 2 second block time; every other network uses 12.
	FastNetworks []string
}

// Registry dispatches segments to the executor registered for their type.
type Registry struct {
	executors map[domain.SegmentType]Executor
	logger    *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		executors: make(map[domain.SegmentType]Executor),
		logger:    logger.With(slog.String("component", "executor")),
	}
}

// NewDefaultRegistry registers the simulated executor for every segment type.
func NewDefaultRegistry(ledger Ledger, cfg Config, logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	b := base{ledger: ledger, fast: cfg.FastNetworks, logger: r.logger}
	r.Register(domain.SegmentFX, &FXExecutor{base: b})
	r.Register(domain.SegmentCrypto, &ChainExecutor{base: b, kind: chainSwap})
	r.Register(domain.SegmentBridge, &ChainExecutor{base: b, kind: chainBridge})
	r.Register(domain.SegmentOffRamp, &ChainExecutor{base: b, kind: chainOffRamp})
	r.Register(domain.SegmentOnRamp, &OnRampExecutor{base: b})
	r.Register(domain.SegmentBankRail, &BankRailExecutor{base: b})
	return r
}

// Register installs e for t, replacing any previous executor.
func (r *Registry) Register(t domain.SegmentType, e Executor) {
	r.executors[t] = e
}

// Lookup returns the executor for t.
func (r *Registry) Lookup(t domain.SegmentType) (Executor, bool) {
	e, ok := r.executors[t]
	return e, ok
}

// Dispatch executes seg with its registered executor. An unknown or empty
// type fails the segment; a known type without an executor yields a SKIPPED
// result that passes the input through unchanged.
func (r *Registry) Dispatch(ctx context.Context, seg domain.Segment, input float64, walletAddr string, meta Meta) (res domain.SegmentResult) {
	if !seg.Type.Valid() {
		return failed(seg, input, meta, time.Now().UTC(),
			fmt.Errorf("executor: segment type %q: %w", seg.Type, domain.ErrInvalidSegmentData))
	}
	e, ok := r.executors[seg.Type]
	if !ok {
		res = newResult(seg, input, meta, time.Now().UTC())
		res.Status = domain.SegmentSkipped
		res.OutputAmount = input
		res.Error = fmt.Sprintf("no executor for %q", seg.Type)
		return res
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.ErrorContext(ctx, "executor panic",
				slog.String("execution_id", meta.ExecutionID),
				slog.Int("segment_index", meta.Index),
				slog.Any("panic", p),
			)
			res = failed(seg, input, meta, time.Now().UTC(),
				fmt.Errorf("executor: panic: %v: %w", p, domain.ErrSegmentExecutionFailure))
		}
	}()
	return e.Execute(ctx, seg, input, walletAddr, meta)
}

func newResult(seg domain.Segment, input float64, meta Meta, started time.Time) domain.SegmentResult {
	return domain.SegmentResult{
		Index:       meta.Index,
		Type:        seg.Type,
		FromAsset:   seg.FromAsset,
		ToAsset:     seg.ToAsset,
		FromNetwork: seg.FromNetwork,
		ToNetwork:   seg.ToNetwork,
		Status:      domain.SegmentPending,
		InputAmount: input,
		Provider:    seg.Provider,
		StartedAt:   started,
	}
}

func failed(seg domain.Segment, input float64, meta Meta, started time.Time, err error) domain.SegmentResult {
	res := newResult(seg, input, meta, started)
	res.Status = domain.SegmentFailed
	res.Error = err.Error()
	return res
}
