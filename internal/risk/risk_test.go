package risk

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vietddude/txguard/internal/audit"
	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/core/fault"
	"github.com/vietddude/txguard/internal/safety/breaker"
	"github.com/vietddude/txguard/internal/validation"
)

type mockWallet struct {
	mu       sync.Mutex
	balances domain.Balances
	calls    int
}

func (w *mockWallet) GetBalances(ctx context.Context) (domain.Balances, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	return w.balances.Clone(), nil
}

type mockFees struct{ fee int64 }

func (f mockFees) EstimateFee(ctx context.Context, req domain.TxRequest) (*big.Int, error) {
	return big.NewInt(f.fee), nil
}

type fixture struct {
	manager *Manager
	breaker *breaker.Breaker
	wallet  *mockWallet
	audit   *audit.Recorder
}

func newFixture(t *testing.T, fee int64) *fixture {
	t.Helper()
	rec := &audit.Recorder{}
	br := breaker.New(breaker.DefaultConfig(), rec)
	wallet := &mockWallet{balances: domain.Balances{
		"USDT": big.NewInt(1000),
		"ETH":  big.NewInt(50),
	}}

	capital, err := validation.NewCapitalSafetyValidator(validation.CapitalConfig{
		MaxTradeFractionBps: 5000,
		FeeAsset:            "ETH",
	}, br, rec)
	require.NoError(t, err)
	slippage, err := validation.NewSlippageEnforcer(100, br, rec)
	require.NoError(t, err)

	m, err := NewManager(Config{
		Breaker:    br,
		Wallet:     wallet,
		Monitor:    validation.NewBalanceMonitor(domain.Balances{"ETH": big.NewInt(1)}, br, rec),
		Reconciler: validation.NewBalanceReconciler(wallet, nil, br, rec),
		Capital:    capital,
		Slippage:   slippage,
		Fees:       validation.NewFeeManager(mockFees{fee: fee}, big.NewInt(20), br, rec),
		Audit:      rec,
	})
	require.NoError(t, err)
	return &fixture{manager: m, breaker: br, wallet: wallet, audit: rec}
}

func trade(amountIn int64) domain.Trade {
	return domain.Trade{
		TradeID:     "trade-1",
		AssetIn:     "USDT",
		AmountIn:    big.NewInt(amountIn),
		AssetOut:    "WBTC",
		ExpectedOut: big.NewInt(10_000),
	}
}

func TestPreTradeCheck_Passes(t *testing.T) {
	f := newFixture(t, 4)

	report, err := f.manager.PreTradeCheck(context.Background(), PreTradeInput{
		Trade:            trade(400),
		Requests:         []domain.TxRequest{{To: "approve"}, {To: "swap"}},
		ExpectedBalances: domain.Balances{"USDT": big.NewInt(1000), "ETH": big.NewInt(50)},
	})
	require.NoError(t, err)
	require.Equal(t, "8", report.Fees.Total.String())
	require.Equal(t, "9900", report.MinOut.String())
	require.Equal(t, "500", report.Capital.Cap.String())
	require.NotNil(t, report.Reconcile)
	require.NotNil(t, report.Monitor)
	require.True(t, f.audit.Has(audit.RiskPreTradePassed))
}

func TestPreTradeCheck_GateFailuresPropagate(t *testing.T) {
	tests := []struct {
		name  string
		fee   int64
		input func() PreTradeInput
		code  fault.Code
	}{
		{
			name: "reconciliation drift",
			fee:  1,
			input: func() PreTradeInput {
				return PreTradeInput{Trade: trade(100), ExpectedBalances: domain.Balances{"USDT": big.NewInt(990)}}
			},
			code: fault.CodeBalanceMismatch,
		},
		{
			name: "fee cap",
			fee:  11,
			input: func() PreTradeInput {
				return PreTradeInput{Trade: trade(100), Requests: []domain.TxRequest{{}, {}}}
			},
			code: fault.CodeFeeCapExceeded,
		},
		{
			name: "quote below min out",
			fee:  1,
			input: func() PreTradeInput {
				tr := trade(100)
				tr.QuotedMinOut = big.NewInt(9_000)
				return PreTradeInput{Trade: tr}
			},
			code: fault.CodeSlippageQuoteTooLow,
		},
		{
			name: "capital cap",
			fee:  1,
			input: func() PreTradeInput {
				return PreTradeInput{Trade: trade(600)}
			},
			code: fault.CodeTradeAmountExceeds,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.fee)
			_, err := f.manager.PreTradeCheck(context.Background(), tt.input())
			se, ok := fault.AsSafetyCheck(err)
			require.True(t, ok, "expected SafetyCheckError, got %v", err)
			require.Equal(t, tt.code, se.Code)
			require.True(t, f.breaker.IsHalted())
			require.False(t, f.audit.Has(audit.RiskPreTradePassed))
		})
	}
}

func TestPreTradeCheck_HaltedBreakerShortCircuits(t *testing.T) {
	f := newFixture(t, 1)
	f.breaker.Trip("manual", nil)

	_, err := f.manager.PreTradeCheck(context.Background(), PreTradeInput{Trade: trade(100)})
	require.True(t, fault.IsBreakerTripped(err))
	require.Equal(t, 0, f.wallet.calls, "no wallet call after breaker refusal")
}

func TestPostTradeCheck(t *testing.T) {
	f := newFixture(t, 1)

	report, err := f.manager.PostTradeCheck(context.Background(), PostTradeInput{
		TradeID:          "trade-1",
		ExpectedBalances: domain.Balances{"USDT": big.NewInt(1000), "ETH": big.NewInt(50)},
		ExpectedOut:      big.NewInt(10_000),
		ActualOut:        big.NewInt(9_950),
	})
	require.NoError(t, err)
	require.Equal(t, int64(50), report.Execution.RealizedBps)
	require.True(t, f.audit.Has(audit.RiskPostTradePassed))

	_, err = f.manager.PostTradeCheck(context.Background(), PostTradeInput{
		TradeID:     "trade-1",
		ExpectedOut: big.NewInt(10_000),
		ActualOut:   big.NewInt(9_899),
	})
	se, ok := fault.AsSafetyCheck(err)
	require.True(t, ok)
	require.Equal(t, fault.CodeSlippageExceeded, se.Code)
}

func TestPostTradeCheck_ReconcilesWhileHalted(t *testing.T) {
	f := newFixture(t, 1)
	f.breaker.Trip(breaker.ReasonAtomicFailed, nil)

	report, err := f.manager.PostTradeCheck(context.Background(), PostTradeInput{
		TradeID:          "trade-1",
		ExpectedBalances: domain.Balances{"USDT": big.NewInt(1000), "ETH": big.NewInt(50)},
	})
	require.NoError(t, err)
	require.NotNil(t, report.Reconcile)
	require.Equal(t, 1, f.wallet.calls)

	_, err = f.manager.PostTradeCheck(context.Background(), PostTradeInput{
		TradeID:          "trade-1",
		ExpectedBalances: domain.Balances{"USDT": big.NewInt(900), "ETH": big.NewInt(50)},
	})
	se, ok := fault.AsSafetyCheck(err)
	require.True(t, ok)
	require.Equal(t, fault.CodeBalanceMismatch, se.Code)
	require.Equal(t, breaker.ReasonAtomicFailed, f.breaker.Snapshot().Reason)
}

func TestPreTradeCheck_CapitalWithoutBalancesDoesNotTrip(t *testing.T) {
	rec := &audit.Recorder{}
	br := breaker.New(breaker.DefaultConfig(), rec)
	capital, err := validation.NewCapitalSafetyValidator(validation.CapitalConfig{}, br, rec)
	require.NoError(t, err)
	m, err := NewManager(Config{Breaker: br, Capital: capital, Audit: rec})
	require.NoError(t, err)

	_, err = m.PreTradeCheck(context.Background(), PreTradeInput{Trade: trade(100)})
	se, ok := fault.AsSafetyCheck(err)
	require.True(t, ok)
	require.Equal(t, fault.CodeWalletUnavailable, se.Code)
	require.False(t, br.IsHalted())

	report, err := m.PreTradeCheck(context.Background(), PreTradeInput{
		Trade:    trade(100),
		Balances: domain.Balances{"USDT": big.NewInt(1000)},
	})
	require.NoError(t, err)
	require.Equal(t, "1000", report.Capital.Cap.String())
}

func TestNewManager_RequiresBreaker(t *testing.T) {
	_, err := NewManager(Config{})
	require.Error(t, err)
}
