package settlement

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/alanyoungcy/routeengine/internal/domain"
	"github.com/alanyoungcy/routeengine/internal/wallet"
)

func newSim(t *testing.T, opts ...Option) *Simulator {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(wallet.NewGenerator([]string{"solana"}), Config{Seed: 7}, logger, opts...)
}

func TestSubtractBalanceInsufficient(t *testing.T) {
	s := newSim(t)
	addr, err := s.GenerateWallet("ethereum")
	require.NoError(t, err)

	s.SetBalance(addr, "USDC", 100)
	assert.False(t, s.SubtractBalance(addr, "USDC", 150))
	assert.Equal(t, 100.0, s.Balance(addr, "USDC"))

	assert.True(t, s.SubtractBalance(addr, "USDC", 40))
	assert.Equal(t, 60.0, s.Balance(addr, "USDC"))
}

func TestLedgerNeverNegative(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := New(wallet.NewGenerator(nil), Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
		const addr = "0xabc"
		start := rapid.Float64Range(0, 1e6).Draw(t, "start")
		s.SetBalance(addr, "USD", start)

		ops := rapid.SliceOfN(rapid.Float64Range(0, 1e6), 1, 20).Draw(t, "ops")
		for _, amt := range ops {
			before := s.Balance(addr, "USD")
			ok := s.SubtractBalance(addr, "USD", amt)
			after := s.Balance(addr, "USD")
			if ok != (amt <= before) {
				t.Fatalf("subtract %v from %v returned %v", amt, before, ok)
			}
			if !ok && after != before {
				t.Fatalf("failed subtract changed balance %v -> %v", before, after)
			}
			if after < 0 {
				t.Fatalf("negative balance %v", after)
			}
		}
	})
}

func TestConcurrentLedger(t *testing.T) {
	s := newSim(t)
	const addr = "0xshared"
	s.SetBalance(addr, "USDC", 1000)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(2)
		go func() { defer wg.Done(); s.AddBalance(addr, "USDC", 1) }()
		go func() { defer wg.Done(); s.SubtractBalance(addr, "USDC", 1) }()
	}
	wg.Wait()
	assert.Equal(t, 1000.0, s.Balance(addr, "USDC"))
}

func TestDebitTopsUpAtomically(t *testing.T) {
	s := newSim(t)
	const addr = "0xwallet"
	s.SetBalance(addr, "USDC", 30)
	require.True(t, s.Debit(addr, "USDC", 100))
	assert.Equal(t, 0.0, s.Balance(addr, "USDC"))

	s.SetBalance(addr, "USDC", 250)
	require.True(t, s.Debit(addr, "USDC", 100))
	assert.Equal(t, 150.0, s.Balance(addr, "USDC"))
	assert.False(t, s.Debit(addr, "USDC", -1))
	assert.Equal(t, 150.0, s.Balance(addr, "USDC"))

	// Branches sharing a wallet and asset never see each other's debit.
	var wg sync.WaitGroup
	var failures atomic.Int32
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !s.Debit("0xshared", "USDC", 10) {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, failures.Load())
	assert.GreaterOrEqual(t, s.Balance("0xshared", "USDC"), 0.0)
}

func TestTransactionLifecycle(t *testing.T) {
	signer, err := wallet.NewReceiptSigner("", 137)
	require.NoError(t, err)
	s := newSim(t, WithSigner(signer))
	ctx := context.Background()

	hash, err := s.CreateTransaction(TxRequest{Type: "swap", From: "0xa", To: "0xa", Asset: "USDC", Amount: 10, Network: "polygon"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "0x"))
	assert.Len(t, hash, 66)

	tx, ok := s.TransactionStatus(hash)
	require.True(t, ok)
	assert.Equal(t, TxPending, tx.Status)
	assert.True(t, s.VerifyReceipt(hash))

	conf, err := s.SimulateConfirmation(ctx, hash, 3, 5, 2*time.Second)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, conf.Confirmations, 3)
	assert.LessOrEqual(t, conf.Confirmations, 5)
	assert.Equal(t, float64(conf.Confirmations*2), conf.ConfirmationSeconds)

	tx, _ = s.TransactionStatus(hash)
	assert.Equal(t, TxConfirmed, tx.Status)
	assert.Equal(t, conf.Confirmations, tx.Confirmations)

	cancelled, err := s.CancelTransaction(hash)
	require.NoError(t, err)
	assert.False(t, cancelled, "confirmed transactions cannot be cancelled")

	_, ok = s.TransactionStatus("0xunknown")
	assert.False(t, ok)
	_, err = s.SimulateConfirmation(ctx, "0xunknown", 1, 1, time.Second)
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestCancelAndReverse(t *testing.T) {
	s := newSim(t)
	pending, err := s.CreateTransaction(TxRequest{Type: "bridge", From: "0xa", Asset: "ETH", Amount: 2})
	require.NoError(t, err)
	ok, err := s.CancelTransaction(pending)
	require.NoError(t, err)
	assert.True(t, ok)

	settled, err := s.CreateTransaction(TxRequest{Type: "swap", From: "0xb", Asset: "ETH", Amount: 3})
	require.NoError(t, err)
	_, err = s.SimulateConfirmation(context.Background(), settled, 1, 1, 0)
	require.NoError(t, err)

	ok, err = s.ReverseTransaction(settled)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3.0, s.Balance("0xb", "ETH"))

	ok, err = s.ReverseTransaction(settled)
	require.NoError(t, err)
	assert.False(t, ok, "already reversed")
}

func TestSimulatedTransfers(t *testing.T) {
	s := newSim(t)
	ctx := context.Background()

	fx, err := s.SimulateFXConversion(ctx, "USD", "EUR", 100, 0.92, 5, 10)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(fx.ConversionID, "FX-"))
	assert.Len(t, fx.ConversionID, 19)
	assert.InDelta(t, 92, fx.OutputAmount, 1e-9)
	assert.GreaterOrEqual(t, fx.ProcessingMinutes, 5)
	assert.LessOrEqual(t, fx.ProcessingMinutes, 10)

	bank, err := s.SimulateBankTransfer(ctx, 500, "GBP", 0.5, 2)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(bank.TransferID, "TRF-"))
	assert.GreaterOrEqual(t, bank.ProcessingHours, 0.5)
	assert.LessOrEqual(t, bank.ProcessingHours, 2.0)

	mins, err := s.SimulateDelay(ctx, 10, 10)
	require.NoError(t, err)
	assert.Equal(t, 10.0, mins)
}

func TestSleepHonoursContext(t *testing.T) {
	s := New(wallet.NewGenerator(nil), Config{TimeScale: 1}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.SimulateDelay(ctx, 60, 60)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGenerateWalletSealsKey(t *testing.T) {
	v, err := wallet.NewVault("pw", 1000)
	require.NoError(t, err)
	s := newSim(t, WithVault(v))

	addr, err := s.GenerateWallet("solana")
	require.NoError(t, err)
	assert.False(t, strings.HasPrefix(addr, "0x"))
	assert.Equal(t, 1, v.Len())
	_, err = v.Open(addr)
	require.NoError(t, err)
	assert.Empty(t, s.Balances(addr))
}
