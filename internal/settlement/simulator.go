// Package settlement is an in-memory ledger of synthetic wallets, balances
// and pseudo-transactions with simulated confirmation delay.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/routeengine/internal/domain"
	"github.com/alanyoungcy/routeengine/internal/wallet"
)

// TxStatus is the lifecycle state of a pseudo-transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxCancelled TxStatus = "cancelled"
	TxReversed  TxStatus = "reversed"
)

// TxRequest describes a transaction to register.
type TxRequest struct {
	Type     string
	From     string
	To       string
	Asset    string
	Amount   float64
	Network  string
	Metadata map[string]any
}

// Transaction is a registered pseudo-transaction. Values returned by the
// Simulator are copies.
type Transaction struct {
	Hash          string         `json:"hash"`
	Type          string         `json:"type"`
	From          string         `json:"from_address,omitempty"`
	To            string         `json:"to_address,omitempty"`
	Asset         string         `json:"asset"`
	Amount        float64        `json:"amount"`
	Network       string         `json:"network,omitempty"`
	Status        TxStatus       `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	ConfirmedAt   *time.Time     `json:"confirmed_at,omitempty"`
	Confirmations int            `json:"confirmations"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Signature     string         `json:"signature,omitempty"`
}

// Receipt returns the signable summary of tx.
func (tx Transaction) Receipt() wallet.Receipt {
	return wallet.Receipt{
		TxHash:    tx.Hash,
		Wallet:    tx.From,
		Asset:     tx.Asset,
		Network:   tx.Network,
		Amount:    tx.Amount,
		Kind:      tx.Type,
		Timestamp: tx.CreatedAt.Unix(),
	}
}

// Confirmation reports a simulated block confirmation.
type Confirmation struct {
	TxHash              string
	Confirmations       int
	ConfirmationSeconds float64
	ConfirmedAt         time.Time
}

// BankTransfer reports a simulated bank transfer.
type BankTransfer struct {
	TransferID      string
	Amount          float64
	Currency        string
	ProcessingHours float64
	CompletedAt     time.Time
}

// FXConversion reports a simulated FX conversion.
type FXConversion struct {
	ConversionID      string
	InputAmount       float64
	OutputAmount      float64
	FromCurrency      string
	ToCurrency        string
	Rate              float64
	ProcessingMinutes int
	CompletedAt       time.Time
}

// Config controls simulated timing.
type Config struct {
	// TimeScale multiplies every simulated duration before sleeping. Zero
	// disables sleeping entirely.
	TimeScale float64
	// MaxDelay caps a single real sleep. Zero means no cap.
	MaxDelay time.Duration
	// Seed makes random draws reproducible when non-zero.
	Seed uint64
}

// Simulator is safe for concurrent use.
type Simulator struct {
	mu      sync.RWMutex
	wallets map[string]map[string]float64
	txs     map[string]*Transaction

	rngMu sync.Mutex
	rng   *rand.Rand

	gen    *wallet.Generator
	vault  *wallet.Vault
	signer *wallet.ReceiptSigner
	cfg    Config
	logger *slog.Logger
}

// Option configures optional Simulator collaborators.
type Option func(*Simulator)

// WithVault seals every generated wallet key into v.
func WithVault(v *wallet.Vault) Option { return func(s *Simulator) { s.vault = v } }

// WithSigner signs a receipt for every created transaction.
func WithSigner(r *wallet.ReceiptSigner) Option { return func(s *Simulator) { s.signer = r } }

// New creates an empty ledger.
func New(gen *wallet.Generator, cfg Config, logger *slog.Logger, opts ...Option) *Simulator {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	s := &Simulator{
		wallets: make(map[string]map[string]float64),
		txs:     make(map[string]*Transaction),
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		gen:     gen,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "settlement")),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// GenerateWallet creates a fresh synthetic wallet for network.
func (s *Simulator) GenerateWallet(network string) (string, error) {
	key, err := s.gen.New(network)
	if err != nil {
		return "", fmt.Errorf("settlement: generate wallet: %w", err)
	}
	if s.vault != nil {
		if err := s.vault.Store(key); err != nil {
			return "", fmt.Errorf("settlement: seal wallet key: %w", err)
		}
	}
	s.mu.Lock()
	if _, ok := s.wallets[key.Address]; !ok {
		s.wallets[key.Address] = make(map[string]float64)
	}
	s.mu.Unlock()
	s.logger.Debug("wallet generated",
		slog.String("address", key.Address),
		slog.String("network", network),
	)
	return key.Address, nil
}

// Balance returns the balance of asset in address; unknown wallets hold zero.
func (s *Simulator) Balance(address, asset string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wallets[address][asset]
}

// Balances returns a copy of every balance held by address.
func (s *Simulator) Balances(address string) map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.wallets[address])
}

// SetBalance overwrites a balance.
func (s *Simulator) SetBalance(address, asset string, amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.walletLocked(address)[asset] = amount
}

// AddBalance credits amount to a balance.
func (s *Simulator) AddBalance(address, asset string, amount float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.walletLocked(address)[asset] += amount
}

// SubtractBalance debits amount. It returns false and leaves the balance
// untouched when the balance is insufficient.
func (s *Simulator) SubtractBalance(address, asset string, amount float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.walletLocked(address)
	if w[asset] < amount {
		return false
	}
	w[asset] -= amount
	return true
}

// Debit tops address up to amount of asset when short, then debits it, as
// one step. A negative amount is rejected.
func (s *Simulator) Debit(address, asset string, amount float64) bool {
	if amount < 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.walletLocked(address)
	if w[asset] < amount {
		w[asset] = amount
	}
	w[asset] -= amount
	return true
}

func (s *Simulator) walletLocked(address string) map[string]float64 {
	w, ok := s.wallets[address]
	if !ok {
		w = make(map[string]float64)
		s.wallets[address] = w
	}
	return w
}

// CreateTransaction registers a pending transaction and returns its hash.
func (s *Simulator) CreateTransaction(req TxRequest) (string, error) {
	id := uuid.New()
	hash := wallet.TxHash(id[:], []byte(req.From), []byte(req.To), []byte(req.Asset), []byte(req.Type))
	tx := &Transaction{
		Hash:      hash,
		Type:      req.Type,
		From:      req.From,
		To:        req.To,
		Asset:     req.Asset,
		Amount:    req.Amount,
		Network:   req.Network,
		Status:    TxPending,
		CreatedAt: time.Now().UTC(),
		Metadata:  maps.Clone(req.Metadata),
	}
	if s.signer != nil {
		sig, err := s.signer.Sign(tx.Receipt())
		if err != nil {
			return "", fmt.Errorf("settlement: sign receipt: %w", err)
		}
		tx.Signature = sig
	}
	s.mu.Lock()
	s.txs[hash] = tx
	s.mu.Unlock()
	s.logger.Debug("transaction created", slog.String("tx_hash", hash), slog.String("type", req.Type))
	return hash, nil
}

// SimulateConfirmation waits a random number of blocks in [minBlocks,
// maxBlocks] and marks a pending transaction confirmed.
func (s *Simulator) SimulateConfirmation(ctx context.Context, hash string, minBlocks, maxBlocks int, blockTime time.Duration) (Confirmation, error) {
	s.mu.RLock()
	_, ok := s.txs[hash]
	s.mu.RUnlock()
	if !ok {
		return Confirmation{}, fmt.Errorf("settlement: confirm %s: %w", hash, domain.ErrTransactionNotFound)
	}
	minBlocks = max(minBlocks, 1)
	maxBlocks = max(maxBlocks, minBlocks)
	blocks := minBlocks + s.intN(maxBlocks-minBlocks+1)
	elapsed := time.Duration(blocks) * blockTime

	if err := s.sleep(ctx, elapsed); err != nil {
		return Confirmation{}, err
	}

	now := time.Now().UTC()
	s.mu.Lock()
	tx := s.txs[hash]
	if tx.Status == TxPending {
		tx.Status = TxConfirmed
		tx.ConfirmedAt = &now
		tx.Confirmations = blocks
	}
	s.mu.Unlock()

	return Confirmation{
		TxHash:              hash,
		Confirmations:       blocks,
		ConfirmationSeconds: elapsed.Seconds(),
		ConfirmedAt:         now,
	}, nil
}

// SimulateBankTransfer waits a processing time drawn uniformly from
// [minHours, maxHours].
func (s *Simulator) SimulateBankTransfer(ctx context.Context, amount float64, currency string, minHours, maxHours float64) (BankTransfer, error) {
	hours := s.uniform(minHours, maxHours)
	if err := s.sleep(ctx, time.Duration(hours*float64(time.Hour))); err != nil {
		return BankTransfer{}, err
	}
	return BankTransfer{
		TransferID:      "TRF-" + shortID(),
		Amount:          amount,
		Currency:        currency,
		ProcessingHours: hours,
		CompletedAt:     time.Now().UTC(),
	}, nil
}

// SimulateFXConversion waits a whole number of minutes drawn from
// [minMinutes, maxMinutes] and converts amount at rate.
func (s *Simulator) SimulateFXConversion(ctx context.Context, from, to string, amount, rate float64, minMinutes, maxMinutes int) (FXConversion, error) {
	maxMinutes = max(maxMinutes, minMinutes)
	minutes := minMinutes + s.intN(maxMinutes-minMinutes+1)
	if err := s.sleep(ctx, time.Duration(minutes)*time.Minute); err != nil {
		return FXConversion{}, err
	}
	return FXConversion{
		ConversionID:      "FX-" + shortID(),
		InputAmount:       amount,
		OutputAmount:      amount * rate,
		FromCurrency:      from,
		ToCurrency:        to,
		Rate:              rate,
		ProcessingMinutes: minutes,
		CompletedAt:       time.Now().UTC(),
	}, nil
}

// SimulateDelay waits a duration drawn uniformly from [minMinutes,
// maxMinutes] and returns the simulated minutes.
func (s *Simulator) SimulateDelay(ctx context.Context, minMinutes, maxMinutes float64) (float64, error) {
	minutes := s.uniform(minMinutes, maxMinutes)
	if err := s.sleep(ctx, time.Duration(minutes*float64(time.Minute))); err != nil {
		return 0, err
	}
	return minutes, nil
}

// TransactionStatus looks up a transaction. The second result is false for
// unknown hashes.
func (s *Simulator) TransactionStatus(hash string) (Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[hash]
	if !ok {
		return Transaction{}, false
	}
	out := *tx
	out.Metadata = maps.Clone(tx.Metadata)
	return out, true
}

// CancelTransaction cancels a pending transaction. Settled transactions
// report false.
func (s *Simulator) CancelTransaction(hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[hash]
	if !ok {
		return false, fmt.Errorf("settlement: cancel %s: %w", hash, domain.ErrTransactionNotFound)
	}
	if tx.Status != TxPending {
		return false, nil
	}
	tx.Status = TxCancelled
	return true, nil
}

// ReverseTransaction unwinds a confirmed transaction by crediting the
// amount back to its source wallet.
func (s *Simulator) ReverseTransaction(hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[hash]
	if !ok {
		return false, fmt.Errorf("settlement: reverse %s: %w", hash, domain.ErrTransactionNotFound)
	}
	if tx.Status != TxConfirmed {
		return false, nil
	}
	tx.Status = TxReversed
	if tx.From != "" {
		s.walletLocked(tx.From)[tx.Asset] += tx.Amount
	}
	return true, nil
}

// VerifyReceipt checks the operator signature of a registered transaction.
func (s *Simulator) VerifyReceipt(hash string) bool {
	tx, ok := s.TransactionStatus(hash)
	if !ok || s.signer == nil || tx.Signature == "" {
		return false
	}
	return s.signer.VerifyReceipt(tx.Receipt(), tx.Signature)
}

// IsFastNetwork reports whether network is in fast, case-insensitively.
func IsFastNetwork(fast []string, network string) bool {
	for _, n := range fast {
		if strings.EqualFold(n, network) {
			return true
		}
	}
	return false
}

func (s *Simulator) intN(n int) int {
	if n <= 1 {
		return 0
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.IntN(n)
}

func (s *Simulator) uniform(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return lo + s.rng.Float64()*(hi-lo)
}

// sleep waits for the scaled simulated duration d.
func (s *Simulator) sleep(ctx context.Context, d time.Duration) error {
	wait := time.Duration(float64(d) * s.cfg.TimeScale)
	if s.cfg.MaxDelay > 0 && wait > s.cfg.MaxDelay {
		wait = s.cfg.MaxDelay
	}
	if wait <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func shortID() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:16])
}
