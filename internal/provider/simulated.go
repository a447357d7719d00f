package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/routeengine/internal/domain"
	"github.com/alanyoungcy/routeengine/internal/settlement"
)

// Ledger is the part of the settlement simulator the adapter drives.
type Ledger interface {
	TransactionStatus(hash string) (settlement.Transaction, bool)
	CancelTransaction(hash string) (bool, error)
	ReverseTransaction(hash string) (bool, error)
}

var _ Ledger = (*settlement.Simulator)(nil)

// Simulated adapts the settlement ledger to the provider adapter contract.
// Pending transactions can be cancelled; confirmed ones can only be
// reversed. Amounts are never amended in place: a modification cancels the
// pending transaction and asks the caller for a new one.
type Simulated struct {
	name   string
	ledger Ledger
	logger *slog.Logger
}

var (
	_ domain.ProviderAdapter = (*Simulated)(nil)
	_ domain.Reverser        = (*Simulated)(nil)
)

// NewSimulated creates an adapter named name over ledger.
func NewSimulated(name string, ledger Ledger, logger *slog.Logger) *Simulated {
	return &Simulated{
		name:   name,
		ledger: ledger,
		logger: logger.With(slog.String("component", "provider"), slog.String("provider", name)),
	}
}

func (s *Simulated) Name() string { return s.name }

// CancelTransaction cancels txID if it is still pending.
func (s *Simulated) CancelTransaction(ctx context.Context, txID string) (bool, error) {
	ok, err := s.ledger.CancelTransaction(txID)
	if err != nil {
		return false, fmt.Errorf("provider %s: %w", s.name, err)
	}
	s.logger.DebugContext(ctx, "cancel requested", slog.String("tx_id", txID), slog.Bool("cancelled", ok))
	return ok, nil
}

// ModifyTransaction cancels a pending txID and reports that a replacement
// is required. Settled transactions cannot be modified.
func (s *Simulated) ModifyTransaction(ctx context.Context, txID string, newAmount *float64) (domain.ModifyOutcome, error) {
	tx, ok := s.ledger.TransactionStatus(txID)
	if !ok {
		return domain.ModifyOutcome{}, fmt.Errorf("provider %s: modify %s: %w", s.name, txID, domain.ErrTransactionNotFound)
	}
	if tx.Status != settlement.TxPending {
		return domain.ModifyOutcome{}, fmt.Errorf("provider %s: modify %s while %s: %w",
			s.name, txID, tx.Status, domain.ErrInvalidStateTransition)
	}
	cancelled, err := s.ledger.CancelTransaction(txID)
	if err != nil {
		return domain.ModifyOutcome{}, fmt.Errorf("provider %s: %w", s.name, err)
	}
	attrs := []any{slog.String("tx_id", txID), slog.Bool("cancelled", cancelled)}
	if newAmount != nil {
		attrs = append(attrs, slog.Float64("new_amount", *newAmount))
	}
	s.logger.InfoContext(ctx, "transaction replaced", attrs...)
	return domain.ModifyOutcome{
		NewTransactionRequired: cancelled,
		TxID:                   txID,
		Provider:               s.name,
	}, nil
}

// ReverseTransaction credits a confirmed txID back to its source wallet.
func (s *Simulated) ReverseTransaction(ctx context.Context, txID string) (bool, error) {
	ok, err := s.ledger.ReverseTransaction(txID)
	if err != nil {
		return false, fmt.Errorf("provider %s: %w", s.name, err)
	}
	s.logger.DebugContext(ctx, "reversal requested", slog.String("tx_id", txID), slog.Bool("reversed", ok))
	return ok, nil
}
