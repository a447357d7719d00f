package domain

import (
	"context"
	"time"
)

// SegmentSource returns a point-in-time snapshot of known segments.
type SegmentSource interface {
	ListSegments(ctx context.Context, filter SegmentFilter) ([]Segment, error)
}

// ProviderAdapter is the per-provider hook used by cancel and modify.
type ProviderAdapter interface {
	Name() string
	CancelTransaction(ctx context.Context, txID string) (bool, error)
	ModifyTransaction(ctx context.Context, txID string, newAmount *float64) (ModifyOutcome, error)
}

// Reverser is implemented by adapters able to unwind a settled transaction.
type Reverser interface {
	ReverseTransaction(ctx context.Context, txID string) (bool, error)
}

// ProviderLookup resolves an adapter by provider name. A missing adapter is
// not an error; it means the provider supports neither cancel nor modify.
type ProviderLookup interface {
	Adapter(provider string) (ProviderAdapter, bool)
}

// ModifyOutcome reports how a provider handled a modification request.
type ModifyOutcome struct {
	Modified bool `json:"modified"`
	// NewTransactionRequired is set when the provider cancelled the original
	// transaction instead of amending it; the caller must create a new one.
	NewTransactionRequired bool   `json:"new_transaction_required"`
	TxID                   string `json:"tx_id"`
	Provider               string `json:"provider"`
}

// Event is a lifecycle notification emitted by the orchestrator.
type Event struct {
	Type        string           `json:"type"`
	ExecutionID string           `json:"execution_id"`
	Status      ExecutionStatus  `json:"status"`
	Segment     *SegmentResult   `json:"segment,omitempty"`
	Result      *ExecutionResult `json:"result,omitempty"`
	Message     string           `json:"message,omitempty"`
	At          time.Time        `json:"at"`
}

// Event types.
const (
	EventExecutionStarted   = "execution.started"
	EventSegmentFinished    = "execution.segment"
	EventExecutionPaused    = "execution.paused"
	EventExecutionResumed   = "execution.resumed"
	EventExecutionRerouted  = "execution.rerouted"
	EventExecutionCancelled = "execution.cancelled"
	EventExecutionFinished  = "execution.finished"
)

// EventPublisher receives orchestrator lifecycle events. Implementations must
// not block the caller for long.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event)
}
