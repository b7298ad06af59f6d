package control

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/core/fault"
	"github.com/vietddude/txguard/internal/execution/atomic"
	"github.com/vietddude/txguard/internal/infra/chain"
	"github.com/vietddude/txguard/internal/risk"
)

// Trade stages reported by Simulate.
const (
	StagePreTrade  = "pre_trade"
	StageExecute   = "execute"
	StagePostTrade = "post_trade"
	StageDone      = "done"
)

// SimulationConfig describes a batch of identical demo swaps.
type SimulationConfig struct {
	Trades   int
	AssetIn  string
	AssetOut string
	AmountIn *big.Int
	// RateBps converts AmountIn to the expected output: out = in * RateBps / 10000.
	RateBps     int64
	SlippageBps *int64
	Recovery    atomic.RecoveryFunc
}

// TradeOutcome is the result of one simulated trade.
type TradeOutcome struct {
	TradeID   string `json:"trade_id"`
	Stage     string `json:"stage"`
	Completed int    `json:"completed_steps"`
	Error     string `json:"error,omitempty"`
}

// SimulationSummary aggregates a Simulate run.
type SimulationSummary struct {
	Trades   int            `json:"trades"`
	Settled  int            `json:"settled"`
	Rejected int            `json:"rejected"`
	Failed   int            `json:"failed"`
	Halted   bool           `json:"halted"`
	Outcomes []TradeOutcome `json:"outcomes"`
}

// Simulate pushes cfg.Trades swaps through the pre-trade gates, the atomic executor and the
// post-trade gates. It stops early once the breaker halts.
func (g *Guard) Simulate(ctx context.Context, cfg SimulationConfig) (*SimulationSummary, error) {
	if cfg.Trades <= 0 {
		return nil, errors.New("simulation requires at least one trade")
	}
	if cfg.AssetIn == "" || cfg.AssetOut == "" || cfg.AmountIn == nil || cfg.AmountIn.Sign() <= 0 {
		return nil, errors.New("simulation requires assets and a positive amount")
	}
	if cfg.RateBps <= 0 {
		cfg.RateBps = 10_000
	}

	summary := &SimulationSummary{}
	for range cfg.Trades {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		outcome := g.simulateTrade(ctx, cfg)
		summary.Trades++
		summary.Outcomes = append(summary.Outcomes, outcome)

		switch outcome.Stage {
		case StageDone:
			summary.Settled++
		case StagePreTrade:
			summary.Rejected++
		default:
			summary.Failed++
		}
		if g.breaker.IsHalted() {
			summary.Halted = true
			g.log.Warn("Circuit breaker halted, stopping simulation", "trades", summary.Trades)
			break
		}
	}
	return summary, nil
}

func (g *Guard) simulateTrade(ctx context.Context, cfg SimulationConfig) TradeOutcome {
	tradeID := uuid.NewString()
	outcome := TradeOutcome{TradeID: tradeID, Stage: StagePreTrade}

	expectedOut := new(big.Int).Mul(cfg.AmountIn, big.NewInt(cfg.RateBps))
	expectedOut.Quo(expectedOut, big.NewInt(10_000))

	trade := domain.Trade{
		TradeID:     tradeID,
		AssetIn:     cfg.AssetIn,
		AmountIn:    new(big.Int).Set(cfg.AmountIn),
		AssetOut:    cfg.AssetOut,
		ExpectedOut: expectedOut,
	}
	steps := swapSteps(trade, g.cfg.Retry.DefaultMaxAttempts)
	requests := make([]domain.TxRequest, len(steps))
	for i, s := range steps {
		requests[i] = s.Request
	}

	pre, err := g.risk.PreTradeCheck(ctx, risk.PreTradeInput{
		Trade:       trade,
		Requests:    requests,
		SlippageBps: cfg.SlippageBps,
	})
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	outcome.Stage = StageExecute
	result := g.executor.ExecuteSequence(ctx, tradeID, steps, cfg.Recovery)
	outcome.Completed = len(result.Completed)
	if !result.OK {
		outcome.Error = errString(result.Err)
		return outcome
	}

	outcome.Stage = StagePostTrade
	expected := expectedAfter(pre, trade, g.cfg.Risk.FeeAsset)
	actualOut := big.NewInt(0)
	if post, err := g.provider.GetBalances(ctx); err == nil {
		actualOut.Sub(post.Get(trade.AssetOut), pre.Balances.Get(trade.AssetOut))
		if trade.AssetOut == g.cfg.Risk.FeeAsset && pre.Fees != nil {
			actualOut.Add(actualOut, pre.Fees.Total)
		}
	}
	if _, err := g.risk.PostTradeCheck(ctx, risk.PostTradeInput{
		TradeID:          tradeID,
		ExpectedBalances: expected,
		ExpectedOut:      expectedOut,
		ActualOut:        actualOut,
		SlippageBps:      cfg.SlippageBps,
	}); err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	outcome.Stage = StageDone
	return outcome
}

// swapSteps builds an approval followed by a retryable swap that settles the balances.
func swapSteps(t domain.Trade, maxAttempts int) []domain.TransactionStep {
	return []domain.TransactionStep{
		{
			Scope: "approve",
			Request: domain.TxRequest{
				To:       "router",
				Metadata: map[string]string{"trade_id": t.TradeID, "asset": t.AssetIn},
			},
		},
		{
			Scope: "swap",
			Request: domain.TxRequest{
				To: "router",
				Metadata: map[string]string{
					"trade_id":          t.TradeID,
					chain.MetaAssetIn:   t.AssetIn,
					chain.MetaAmountIn:  t.AmountIn.String(),
					chain.MetaAssetOut:  t.AssetOut,
					chain.MetaAmountOut: t.ExpectedOut.String(),
				},
			},
			Retryable:   true,
			MaxAttempts: maxAttempts,
		},
	}
}

// expectedAfter is the pre-trade snapshot with the swap and the estimated fees applied.
func expectedAfter(pre *risk.PreTradeReport, t domain.Trade, feeAsset string) domain.Balances {
	if pre.Balances == nil {
		return nil
	}
	out := pre.Balances.Clone()
	out[t.AssetIn] = new(big.Int).Sub(out.Get(t.AssetIn), t.AmountIn)
	out[t.AssetOut] = new(big.Int).Add(out.Get(t.AssetOut), t.ExpectedOut)
	if feeAsset != "" && pre.Fees != nil {
		out[feeAsset] = new(big.Int).Sub(out.Get(feeAsset), pre.Fees.Total)
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	var tripped *fault.CircuitBreakerTrippedError
	if errors.As(err, &tripped) {
		return fmt.Sprintf("breaker halted: %s", tripped.Reason)
	}
	return err.Error()
}
