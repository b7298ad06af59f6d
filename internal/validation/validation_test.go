package validation

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vietddude/txguard/internal/audit"
	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/core/fault"
	"github.com/vietddude/txguard/internal/safety/breaker"
)

func amt(v int64) *big.Int { return big.NewInt(v) }

func bal(kv ...any) domain.Balances {
	out := domain.Balances{}
	for i := 0; i < len(kv); i += 2 {
		out[kv[i].(string)] = big.NewInt(int64(kv[i+1].(int)))
	}
	return out
}

func newBreaker() (*breaker.Breaker, *audit.Recorder) {
	rec := &audit.Recorder{}
	return breaker.New(breaker.DefaultConfig(), rec), rec
}

func requireCode(t *testing.T, err error, code fault.Code) *fault.SafetyCheckError {
	t.Helper()
	se, ok := fault.AsSafetyCheck(err)
	require.True(t, ok, "expected SafetyCheckError, got %v", err)
	require.Equal(t, code, se.Code)
	return se
}

func TestCapitalSafety_CapFromFraction(t *testing.T) {
	br, _ := newBreaker()
	v, err := NewCapitalSafetyValidator(CapitalConfig{MaxTradeFractionBps: 5000}, br, nil)
	require.NoError(t, err)

	_, err = v.Validate(CapitalInput{
		Balances: bal("USDT", 1000),
		Trade:    domain.Trade{TradeID: "t1", AssetIn: "USDT", AmountIn: amt(600)},
	})
	se := requireCode(t, err, fault.CodeTradeAmountExceeds)
	require.Equal(t, "500", se.Data["cap"])
	require.True(t, br.IsHalted())
	require.Equal(t, "trade_amount_exceeds_limits", br.Snapshot().Reason)

	br.Reset("test")
	res, err := v.Validate(CapitalInput{
		Balances: bal("USDT", 1000),
		Trade:    domain.Trade{TradeID: "t2", AssetIn: "USDT", AmountIn: amt(500)},
	})
	require.NoError(t, err)
	require.Equal(t, 0, res.Cap.Cmp(amt(500)))
}

func TestCapitalSafety_Table(t *testing.T) {
	tests := []struct {
		name     string
		cfg      CapitalConfig
		balances domain.Balances
		trade    domain.Trade
		fee      *big.Int
		code     fault.Code
		wantCap  int64
	}{
		{
			name:     "reserve reduces free balance",
			cfg:      CapitalConfig{MinReserve: bal("USDT", 300)},
			balances: bal("USDT", 1000),
			trade:    domain.Trade{AssetIn: "USDT", AmountIn: amt(700)},
			wantCap:  700,
		},
		{
			name:     "reserve above balance leaves nothing",
			cfg:      CapitalConfig{MinReserve: bal("USDT", 2000)},
			balances: bal("USDT", 1000),
			trade:    domain.Trade{AssetIn: "USDT", AmountIn: amt(1)},
			code:     fault.CodeTradeAmountExceeds,
		},
		{
			name:     "absolute max amount wins when smaller",
			cfg:      CapitalConfig{MaxTradeAmount: bal("USDT", 100)},
			balances: bal("USDT", 1000),
			trade:    domain.Trade{AssetIn: "USDT", AmountIn: amt(101)},
			code:     fault.CodeTradeAmountExceeds,
		},
		{
			name:     "zero amount",
			balances: bal("USDT", 1000),
			trade:    domain.Trade{AssetIn: "USDT", AmountIn: amt(0)},
			code:     fault.CodeInvalidTradeAmount,
		},
		{
			name:     "fee asset cannot cover fee plus buffer",
			cfg:      CapitalConfig{FeeAsset: "ETH", FeeBuffer: amt(5)},
			balances: bal("USDT", 1000, "ETH", 10),
			trade:    domain.Trade{AssetIn: "USDT", AmountIn: amt(100)},
			fee:      amt(6),
			code:     fault.CodeInsufficientFeeBalance,
		},
		{
			name:     "fee paid from traded asset",
			cfg:      CapitalConfig{FeeAsset: "ETH"},
			balances: bal("ETH", 100),
			trade:    domain.Trade{AssetIn: "ETH", AmountIn: amt(98)},
			fee:      amt(3),
			code:     fault.CodeInsufficientFeeBalance,
		},
		{
			name:     "fee covered",
			cfg:      CapitalConfig{FeeAsset: "ETH", FeeBuffer: amt(1)},
			balances: bal("USDT", 1000, "ETH", 10),
			trade:    domain.Trade{AssetIn: "USDT", AmountIn: amt(100)},
			fee:      amt(9),
			wantCap:  1000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			br, rec := newBreaker()
			v, err := NewCapitalSafetyValidator(tt.cfg, br, rec)
			require.NoError(t, err)

			res, err := v.Validate(CapitalInput{Balances: tt.balances, Trade: tt.trade, EstimatedFee: tt.fee})
			if tt.code != "" {
				requireCode(t, err, tt.code)
				require.True(t, br.IsHalted())
				require.True(t, rec.Has(audit.CapitalSafetyViolation))
				return
			}
			require.NoError(t, err)
			require.Equal(t, 0, res.Cap.Cmp(amt(tt.wantCap)), "cap %s", res.Cap)
			require.True(t, rec.Has(audit.CapitalSafetyPassed))
		})
	}
}

func TestCapitalSafety_InvalidFraction(t *testing.T) {
	_, err := NewCapitalSafetyValidator(CapitalConfig{MaxTradeFractionBps: 10001}, nil, nil)
	require.Error(t, err)
}

func TestReconciler_Tolerance(t *testing.T) {
	br, rec := newBreaker()
	r := NewBalanceReconciler(nil, nil, br, rec)

	_, err := r.Reconcile("t", bal("USDT", 100), bal("USDT", 97), bal("USDT", 5))
	require.NoError(t, err)
	require.True(t, rec.Has(audit.BalanceReconcilePassed))

	_, err = r.Reconcile("t", bal("USDT", 100), bal("USDT", 97), bal("USDT", 2))
	se := requireCode(t, err, fault.CodeBalanceMismatch)
	mismatches := se.Data["mismatches"].([]Mismatch)
	require.Len(t, mismatches, 1)
	require.Equal(t, "USDT", mismatches[0].Asset)
	require.Equal(t, 0, mismatches[0].Diff.Cmp(amt(3)))
	require.True(t, br.IsHalted())
}

func TestReconciler_UnionOfAssets(t *testing.T) {
	br, _ := newBreaker()
	r := NewBalanceReconciler(nil, nil, br, nil)

	_, err := r.Reconcile("t", bal("USDT", 100), bal("USDT", 100, "DUST", 1), nil)
	se := requireCode(t, err, fault.CodeBalanceMismatch)
	mismatches := se.Data["mismatches"].([]Mismatch)
	require.Equal(t, "DUST", mismatches[0].Asset)
}

type stubWallet struct {
	balances domain.Balances
	err      error
}

func (w *stubWallet) GetBalances(ctx context.Context) (domain.Balances, error) {
	return w.balances, w.err
}

func TestReconciler_Wallet(t *testing.T) {
	br, _ := newBreaker()
	r := NewBalanceReconciler(&stubWallet{balances: bal("ETH", 10)}, bal("ETH", 1), br, nil)

	res, err := r.ReconcileWallet(context.Background(), "t", bal("ETH", 9), nil)
	require.NoError(t, err)
	require.Equal(t, []string{"ETH"}, res.Assets)

	r = NewBalanceReconciler(&stubWallet{err: errors.New("rpc down")}, nil, br, nil)
	_, err = r.ReconcileWallet(context.Background(), "t", bal("ETH", 9), nil)
	require.Error(t, err)
	require.False(t, br.IsHalted(), "provider errors are not policy violations")

	r = NewBalanceReconciler(nil, nil, br, nil)
	_, err = r.ReconcileWallet(context.Background(), "t", bal("ETH", 9), nil)
	requireCode(t, err, fault.CodeWalletUnavailable)
}

func TestSlippage_RoundTrip(t *testing.T) {
	br, _ := newBreaker()
	s, err := NewSlippageEnforcer(DefaultMaxSlippageBps, br, nil)
	require.NoError(t, err)

	expected := amt(1_000_003)
	minOut, err := s.ComputeMinOut("t", expected, nil)
	require.NoError(t, err)
	require.Equal(t, "995002", minOut.String())

	res, err := s.AssertExecutionWithinLimits("t", expected, minOut, nil)
	require.NoError(t, err)
	require.Equal(t, int64(50), res.RealizedBps)
	require.False(t, br.IsHalted())

	_, err = s.AssertExecutionWithinLimits("t", expected, new(big.Int).Sub(minOut, amt(1)), nil)
	requireCode(t, err, fault.CodeSlippageExceeded)
	require.True(t, br.IsHalted())
	require.Equal(t, "slippage_exceeded", br.Snapshot().Reason)
}

func TestSlippage_Quote(t *testing.T) {
	br, rec := newBreaker()
	s, _ := NewSlippageEnforcer(100, br, rec)

	q, err := s.AssertQuoteWithinLimits("t", amt(10_000), amt(9_900), nil)
	require.NoError(t, err)
	require.Equal(t, 0, q.MinOut.Cmp(amt(9_900)))
	require.True(t, rec.Has(audit.SlippageQuotePassed))

	_, err = s.AssertQuoteWithinLimits("t", amt(10_000), amt(9_899), nil)
	requireCode(t, err, fault.CodeSlippageQuoteTooLow)

	q, err = s.AssertQuoteWithinLimits("t", amt(10_000), nil, Bps(0))
	require.NoError(t, err)
	require.Equal(t, 0, q.MinOut.Cmp(amt(10_000)))
}

func TestSlippage_InvalidConfig(t *testing.T) {
	_, err := NewSlippageEnforcer(-1, nil, nil)
	requireCode(t, err, fault.CodeInvalidSlippageConfig)

	br, _ := newBreaker()
	s, _ := NewSlippageEnforcer(50, br, nil)
	_, err = s.ComputeMinOut("t", amt(100), Bps(10_001))
	requireCode(t, err, fault.CodeInvalidSlippageConfig)
	_, err = s.ComputeMinOut("t", nil, nil)
	requireCode(t, err, fault.CodeMissingExpectedOut)
	require.False(t, br.IsHalted())
}

func TestRealizedSlippageBps(t *testing.T) {
	require.Equal(t, int64(0), RealizedSlippageBps(amt(100), amt(101)))
	require.Equal(t, int64(0), RealizedSlippageBps(amt(100), amt(100)))
	require.Equal(t, int64(300), RealizedSlippageBps(amt(100), amt(97)))
	require.Equal(t, int64(3333), RealizedSlippageBps(amt(3), amt(2)))
}

type stubFees struct {
	fees []int64
	i    int
	err  error
}

func (f *stubFees) EstimateFee(ctx context.Context, req domain.TxRequest) (*big.Int, error) {
	if f.err != nil {
		return nil, f.err
	}
	v := f.fees[f.i%len(f.fees)]
	f.i++
	return amt(v), nil
}

func TestFeeManager(t *testing.T) {
	br, rec := newBreaker()
	m := NewFeeManager(&stubFees{fees: []int64{3, 4}}, amt(6), br, rec)

	est, err := m.EstimateAll(context.Background(), "t", []domain.TxRequest{{To: "a"}, {To: "b"}})
	require.NoError(t, err)
	require.Equal(t, "7", est.Total.String())
	require.Len(t, est.PerStep, 2)

	require.NoError(t, m.AssertWithinCap("t", amt(6), nil))
	require.NoError(t, m.AssertWithinCap("t", est.Total, amt(10)))
	require.False(t, br.IsHalted())

	err = m.AssertWithinCap("t", est.Total, nil)
	requireCode(t, err, fault.CodeFeeCapExceeded)
	require.True(t, br.IsHalted())
	require.True(t, rec.Has(audit.FeeCapExceeded))
}

func TestFeeManager_UnboundedAndErrors(t *testing.T) {
	m := NewFeeManager(&stubFees{err: errors.New("rpc down")}, nil, nil, nil)
	require.NoError(t, m.AssertWithinCap("t", amt(1_000_000), nil))

	_, err := m.Estimate(context.Background(), "t", domain.TxRequest{})
	requireCode(t, err, fault.CodeFeeEstimateFailed)
}

func TestBalanceMonitor(t *testing.T) {
	br, rec := newBreaker()
	m := NewBalanceMonitor(bal("ETH", 5), br, rec)

	_, err := m.Check("t", bal("ETH", 5))
	require.NoError(t, err)
	require.True(t, rec.Has(audit.BalanceMonitorChecked))

	_, err = m.Check("t", bal("USDT", 100))
	se := requireCode(t, err, fault.CodeBalanceBelowMinimum)
	require.Len(t, se.Data["shortfalls"], 1)
	require.True(t, br.IsHalted())
}
