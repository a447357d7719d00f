package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/routeengine/internal/domain"
	"github.com/alanyoungcy/routeengine/internal/settlement"
)

const (
	fastBlockTime    = 2 * time.Second
	defaultBlockTime = 12 * time.Second
)

type base struct {
	ledger Ledger
	fast   []string
	logger *slog.Logger
}

// check rejects segments whose type is not one of want.
func (b base) check(seg domain.Segment, want ...domain.SegmentType) error {
	for _, t := range want {
		if seg.Type == t {
			return nil
		}
	}
	return fmt.Errorf("executor: segment type %q: %w", seg.Type, domain.ErrUnsupportedSegmentType)
}

func (b base) blockTime(network string) time.Duration {
	if settlement.IsFastNetwork(b.fast, network) {
		return fastBlockTime
	}
	return defaultBlockTime
}

func (b base) fail(ctx context.Context, seg domain.Segment, input float64, meta Meta, started time.Time, err error) domain.SegmentResult {
	b.logger.WarnContext(ctx, "segment failed",
		slog.String("execution_id", meta.ExecutionID),
		slog.Int("segment_index", meta.Index),
		slog.String("segment_type", string(seg.Type)),
		slog.String("error", err.Error()),
	)
	return failed(seg, input, meta, started, err)
}

func (b base) complete(ctx context.Context, res domain.SegmentResult, q Quote, confirmMins float64) domain.SegmentResult {
	now := time.Now().UTC()
	res.Status = domain.SegmentCompleted
	res.OutputAmount = q.Output
	res.FeesPaid = q.Fees
	res.CompletedAt = &now
	res.ConfirmationMins = confirmMins
	b.logger.DebugContext(ctx, "segment completed",
		slog.Int("segment_index", res.Index),
		slog.String("segment_type", string(res.Type)),
		slog.Float64("input", res.InputAmount),
		slog.Float64("output", res.OutputAmount),
	)
	return res
}

// latencyOr returns the segment window, or the defaults when it is unset.
func latencyOr(l domain.SegmentLatency, minDefault, maxDefault float64) (float64, float64) {
	if l.MinMinutes == 0 && l.MaxMinutes == 0 {
		return minDefault, maxDefault
	}
	return l.MinMinutes, max(l.MaxMinutes, l.MinMinutes)
}

// FXExecutor settles FX conversions as a pure delay; no wallet is involved.
type FXExecutor struct{ base }

func (e *FXExecutor) Execute(ctx context.Context, seg domain.Segment, input float64, _ string, meta Meta) domain.SegmentResult {
	started := time.Now().UTC()
	if err := e.check(seg, domain.SegmentFX); err != nil {
		return e.fail(ctx, seg, input, meta, started, err)
	}
	q, err := ApplyFees(seg.Cost, input)
	if err != nil {
		return e.fail(ctx, seg, input, meta, started, err)
	}
	lo, hi := latencyOr(seg.Latency, 5, 10)
	conv, err := e.ledger.SimulateFXConversion(ctx, seg.FromAsset, seg.ToAsset, q.AfterFees, q.Rate, int(lo), int(hi))
	if err != nil {
		return e.fail(ctx, seg, input, meta, started, err)
	}
	res := newResult(seg, input, meta, started)
	res.Details = map[string]any{
		"conversion_id": conv.ConversionID,
		"fx_rate":       q.Rate,
		"type":          "fx_conversion",
	}
	return e.complete(ctx, res, q, float64(conv.ProcessingMinutes))
}

type chainKind int

const (
	chainSwap chainKind = iota
	chainBridge
	chainOffRamp
)

func (k chainKind) txType() string {
	switch k {
	case chainBridge:
		return "bridge"
	case chainOffRamp:
		return "off_ramp"
	default:
		return "swap"
	}
}

func (k chainKind) segmentType() domain.SegmentType {
	switch k {
	case chainBridge:
		return domain.SegmentBridge
	case chainOffRamp:
		return domain.SegmentOffRamp
	default:
		return domain.SegmentCrypto
	}
}

func (k chainKind) latencyDefaults() (float64, float64) {
	if k == chainSwap {
		return 2, 5
	}
	return 5, 15
}

// ChainExecutor settles on-chain movements: crypto swaps, bridges and
// off-ramps. It debits the source asset, creates a pseudo-transaction and
// waits for block confirmations. Off-ramps leave the chain, so nothing is
// credited back to the wallet.
type ChainExecutor struct {
	base
	kind chainKind
}

func (e *ChainExecutor) Execute(ctx context.Context, seg domain.Segment, input float64, walletAddr string, meta Meta) domain.SegmentResult {
	started := time.Now().UTC()
	if err := e.check(seg, e.kind.segmentType()); err != nil {
		return e.fail(ctx, seg, input, meta, started, err)
	}
	q, err := ApplyFees(seg.Cost, input)
	if err != nil {
		return e.fail(ctx, seg, input, meta, started, err)
	}

	if walletAddr == "" {
		walletAddr, err = e.ledger.GenerateWallet(seg.FromNetwork)
		if err != nil {
			return e.fail(ctx, seg, input, meta, started, err)
		}
	}
	if !e.ledger.Debit(walletAddr, seg.FromAsset, input) {
		return e.fail(ctx, seg, input, meta, started,
			fmt.Errorf("executor: debit %v %s: %w", input, seg.FromAsset, domain.ErrInsufficientBalance))
	}

	hash, err := e.ledger.CreateTransaction(settlement.TxRequest{
		Type:    e.kind.txType(),
		From:    walletAddr,
		Asset:   seg.FromAsset,
		Amount:  input,
		Network: seg.FromNetwork,
		Metadata: map[string]any{
			"to_asset":      seg.ToAsset,
			"to_network":    seg.ToNetwork,
			"output_amount": q.Output,
			"provider":      seg.Provider,
			"execution_id":  meta.ExecutionID,
		},
	})
	if err != nil {
		return e.fail(ctx, seg, input, meta, started, err)
	}

	dlo, dhi := e.kind.latencyDefaults()
	lo, hi := latencyOr(seg.Latency, dlo, dhi)
	bt := e.blockTime(seg.FromNetwork)
	minBlocks := max(1, int(lo*60/bt.Seconds()))
	maxBlocks := max(minBlocks, int(hi*60/bt.Seconds()))
	conf, err := e.ledger.SimulateConfirmation(ctx, hash, minBlocks, maxBlocks, bt)
	if err != nil {
		return e.fail(ctx, seg, input, meta, started, err)
	}

	if e.kind != chainOffRamp {
		e.ledger.AddBalance(walletAddr, seg.ToAsset, q.Output)
	}

	res := newResult(seg, input, meta, started)
	res.TxHash = hash
	res.Details = map[string]any{
		"wallet_address":   walletAddr,
		"blocks_confirmed": conf.Confirmations,
		"type":             e.detailType(),
	}
	if e.kind == chainBridge {
		res.Details["from_wallet"] = walletAddr
		res.Details["to_wallet"] = walletAddr
	}
	return e.complete(ctx, res, q, conf.ConfirmationSeconds/60)
}

func (e *ChainExecutor) detailType() string {
	if e.kind == chainSwap {
		return "crypto_swap"
	}
	return e.kind.txType()
}

// OnRampExecutor credits fiat inflow to a wallet after a processing delay.
// There is no on-chain artifact, so results carry no transaction hash.
type OnRampExecutor struct{ base }

func (e *OnRampExecutor) Execute(ctx context.Context, seg domain.Segment, input float64, walletAddr string, meta Meta) domain.SegmentResult {
	started := time.Now().UTC()
	if err := e.check(seg, domain.SegmentOnRamp); err != nil {
		return e.fail(ctx, seg, input, meta, started, err)
	}
	q, err := ApplyFees(seg.Cost, input)
	if err != nil {
		return e.fail(ctx, seg, input, meta, started, err)
	}
	if walletAddr == "" {
		walletAddr, err = e.ledger.GenerateWallet(seg.ToNetwork)
		if err != nil {
			return e.fail(ctx, seg, input, meta, started, err)
		}
	}
	lo, hi := latencyOr(seg.Latency, 10, 30)
	minutes, err := e.ledger.SimulateDelay(ctx, lo, hi)
	if err != nil {
		return e.fail(ctx, seg, input, meta, started, err)
	}
	e.ledger.AddBalance(walletAddr, seg.ToAsset, q.Output)

	res := newResult(seg, input, meta, started)
	res.Details = map[string]any{
		"wallet_address": walletAddr,
		"type":           "on_ramp",
	}
	return e.complete(ctx, res, q, minutes)
}

// BankRailExecutor simulates a bank transfer whose processing time is drawn
// from the latency window in hours.
type BankRailExecutor struct{ base }

func (e *BankRailExecutor) Execute(ctx context.Context, seg domain.Segment, input float64, _ string, meta Meta) domain.SegmentResult {
	started := time.Now().UTC()
	if err := e.check(seg, domain.SegmentBankRail); err != nil {
		return e.fail(ctx, seg, input, meta, started, err)
	}
	q, err := ApplyFees(seg.Cost, input)
	if err != nil {
		return e.fail(ctx, seg, input, meta, started, err)
	}
	lo, hi := latencyOr(seg.Latency, 30, 120)
	transfer, err := e.ledger.SimulateBankTransfer(ctx, q.Output, seg.ToAsset, lo/60, hi/60)
	if err != nil {
		return e.fail(ctx, seg, input, meta, started, err)
	}
	res := newResult(seg, input, meta, started)
	res.Details = map[string]any{
		"transfer_id": transfer.TransferID,
		"fx_rate":     q.Rate,
		"type":        "bank_transfer",
	}
	return e.complete(ctx, res, q, transfer.ProcessingHours*60)
}
