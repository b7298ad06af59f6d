// Package risk composes the validation gates into pre-trade and post-trade checks.
package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/vietddude/txguard/internal/audit"
	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/core/fault"
	"github.com/vietddude/txguard/internal/infra/chain"
	"github.com/vietddude/txguard/internal/safety/breaker"
	"github.com/vietddude/txguard/internal/validation"
)

// Config wires the manager. Breaker is required; every gate is optional and skipped when nil.
type Config struct {
	Breaker    breaker.Gate
	Wallet     chain.WalletProvider
	Monitor    *validation.BalanceMonitor
	Reconciler *validation.BalanceReconciler
	Capital    *validation.CapitalSafetyValidator
	Slippage   *validation.SlippageEnforcer
	Fees       *validation.FeeManager
	Audit      audit.Log
}

// PreTradeInput is what the strategy proposes to execute.
type PreTradeInput struct {
	Trade    domain.Trade
	Requests []domain.TxRequest
	// Balances is used when no wallet provider is configured.
	Balances         domain.Balances
	ExpectedBalances domain.Balances
	Tolerance        domain.Balances
	FeeCap           *big.Int
	SlippageBps      *int64
}

// PreTradeReport carries every quantity computed by a passing pre-trade check.
type PreTradeReport struct {
	TradeID   string                      `json:"trade_id"`
	Balances  domain.Balances             `json:"balances,omitempty"`
	Monitor   *validation.MonitorResult   `json:"monitor,omitempty"`
	Reconcile *validation.ReconcileResult `json:"reconcile,omitempty"`
	Fees      *validation.FeeEstimate     `json:"fees,omitempty"`
	MinOut    *big.Int                    `json:"min_out,omitempty"`
	Quote     *validation.SlippageQuote   `json:"quote,omitempty"`
	Capital   *validation.CapitalResult   `json:"capital,omitempty"`
}

// PostTradeInput describes the settled trade.
type PostTradeInput struct {
	TradeID          string
	ExpectedBalances domain.Balances
	Tolerance        domain.Balances
	ExpectedOut      *big.Int
	ActualOut        *big.Int
	SlippageBps      *int64
}

// PostTradeReport carries the quantities of a passing post-trade check.
type PostTradeReport struct {
	TradeID   string                        `json:"trade_id"`
	Balances  domain.Balances               `json:"balances,omitempty"`
	Reconcile *validation.ReconcileResult   `json:"reconcile,omitempty"`
	Execution *validation.ExecutionSlippage `json:"execution,omitempty"`
}

// Manager runs the gates in a fixed order. Gate errors are returned unchanged.
type Manager struct {
	cfg   Config
	audit audit.Log
	log   *slog.Logger
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Breaker == nil {
		return nil, errors.New("risk manager requires a circuit breaker")
	}
	return &Manager{
		cfg:   cfg,
		audit: audit.OrNop(cfg.Audit),
		log:   slog.Default().With("component", "risk"),
	}, nil
}

// PreTradeCheck runs breaker, wallet snapshot, balance monitor, reconciliation, fee estimate
// and cap, slippage, and capital safety, in that order.
func (m *Manager) PreTradeCheck(ctx context.Context, in PreTradeInput) (*PreTradeReport, error) {
	tradeID := in.Trade.TradeID
	report := &PreTradeReport{TradeID: tradeID}

	if err := m.cfg.Breaker.EnsureHealthy(); err != nil {
		return nil, err
	}

	balances, err := m.snapshot(ctx, in.Balances)
	if err != nil {
		return nil, err
	}
	report.Balances = balances

	if m.cfg.Monitor != nil && balances != nil {
		if report.Monitor, err = m.cfg.Monitor.Check(tradeID, balances); err != nil {
			return nil, err
		}
	}

	if m.cfg.Reconciler != nil && in.ExpectedBalances != nil && balances != nil {
		report.Reconcile, err = m.cfg.Reconciler.Reconcile(tradeID, in.ExpectedBalances, balances, in.Tolerance)
		if err != nil {
			return nil, err
		}
	}

	if m.cfg.Fees != nil && len(in.Requests) > 0 {
		if report.Fees, err = m.cfg.Fees.EstimateAll(ctx, tradeID, in.Requests); err != nil {
			return nil, err
		}
		if err := m.cfg.Fees.AssertWithinCap(tradeID, report.Fees.Total, in.FeeCap); err != nil {
			return nil, err
		}
	}

	if m.cfg.Slippage != nil && in.Trade.ExpectedOut != nil {
		if in.Trade.QuotedMinOut != nil {
			report.Quote, err = m.cfg.Slippage.AssertQuoteWithinLimits(
				tradeID, in.Trade.ExpectedOut, in.Trade.QuotedMinOut, in.SlippageBps)
			if err != nil {
				return nil, err
			}
			report.MinOut = report.Quote.MinOut
		} else {
			report.MinOut, err = m.cfg.Slippage.ComputeMinOut(tradeID, in.Trade.ExpectedOut, in.SlippageBps)
			if err != nil {
				return nil, err
			}
		}
	}

	if m.cfg.Capital != nil {
		if balances == nil {
			return nil, fault.NewSafetyCheck(fault.CodeWalletUnavailable,
				"capital safety needs a wallet provider or caller balances", map[string]any{"trade_id": tradeID})
		}
		var fee *big.Int
		if report.Fees != nil {
			fee = report.Fees.Total
		}
		report.Capital, err = m.cfg.Capital.Validate(validation.CapitalInput{
			Balances:     balances,
			Trade:        in.Trade,
			EstimatedFee: fee,
		})
		if err != nil {
			return nil, err
		}
	}

	data := map[string]any{"requests": len(in.Requests)}
	if report.Fees != nil {
		data["estimated_fee"] = report.Fees.Total.String()
	}
	if report.MinOut != nil {
		data["min_out"] = report.MinOut.String()
	}
	if report.Capital != nil {
		data["cap"] = report.Capital.Cap.String()
		data["free_balance"] = report.Capital.FreeBalance.String()
	}
	audit.Emit(m.audit, audit.LevelInfo, audit.RiskPreTradePassed, tradeID, "pre-trade checks passed", data)
	return report, nil
}

// PostTradeCheck runs wallet snapshot, reconciliation and, when ActualOut is known, the
// execution slippage check. It has no side effects, so it also runs while the breaker is halted.
func (m *Manager) PostTradeCheck(ctx context.Context, in PostTradeInput) (*PostTradeReport, error) {
	report := &PostTradeReport{TradeID: in.TradeID}

	balances, err := m.snapshot(ctx, nil)
	if err != nil {
		return nil, err
	}
	report.Balances = balances

	if m.cfg.Reconciler != nil && in.ExpectedBalances != nil && balances != nil {
		report.Reconcile, err = m.cfg.Reconciler.Reconcile(in.TradeID, in.ExpectedBalances, balances, in.Tolerance)
		if err != nil {
			return nil, err
		}
	}

	if m.cfg.Slippage != nil && in.ActualOut != nil && in.ExpectedOut != nil {
		report.Execution, err = m.cfg.Slippage.AssertExecutionWithinLimits(
			in.TradeID, in.ExpectedOut, in.ActualOut, in.SlippageBps)
		if err != nil {
			return nil, err
		}
	}

	data := map[string]any{}
	if report.Execution != nil {
		data["realized_bps"] = report.Execution.RealizedBps
	}
	if report.Reconcile != nil {
		data["reconciled_assets"] = report.Reconcile.Assets
	}
	audit.Emit(m.audit, audit.LevelInfo, audit.RiskPostTradePassed, in.TradeID, "post-trade checks passed", data)
	return report, nil
}

func (m *Manager) snapshot(ctx context.Context, fallback domain.Balances) (domain.Balances, error) {
	if m.cfg.Wallet == nil {
		if fallback == nil {
			return nil, nil
		}
		return fallback.Clone(), nil
	}
	balances, err := m.cfg.Wallet.GetBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch wallet balances: %w", err)
	}
	return balances.Clone(), nil
}
