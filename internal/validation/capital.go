package validation

import (
	"fmt"
	"math/big"

	"github.com/vietddude/txguard/internal/audit"
	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/core/fault"
	"github.com/vietddude/txguard/internal/safety/breaker"
)

// CapitalConfig bounds how much of the wallet a single trade may use.
type CapitalConfig struct {
	MinReserve          domain.Balances
	MaxTradeFractionBps int64
	MaxTradeAmount      domain.Balances
	FeeAsset            string
	FeeBuffer           *big.Int
}

// CapitalInput is one trade to validate.
type CapitalInput struct {
	Balances     domain.Balances
	Trade        domain.Trade
	EstimatedFee *big.Int
}

// CapitalResult records the quantities behind a passing capital check.
type CapitalResult struct {
	Asset       string   `json:"asset"`
	AmountIn    *big.Int `json:"amount_in"`
	Balance     *big.Int `json:"balance"`
	Reserve     *big.Int `json:"reserve"`
	FreeBalance *big.Int `json:"free_balance"`
	Cap         *big.Int `json:"cap"`
	FeeAsset    string   `json:"fee_asset,omitempty"`
	FeeFree     *big.Int `json:"fee_free,omitempty"`
	FeeRequired *big.Int `json:"fee_required,omitempty"`
}

// CapitalSafetyValidator caps trade size against the free balance.
type CapitalSafetyValidator struct {
	gate
	cfg CapitalConfig
}

func NewCapitalSafetyValidator(cfg CapitalConfig, b breaker.Gate, auditLog audit.Log) (*CapitalSafetyValidator, error) {
	if cfg.MaxTradeFractionBps == 0 {
		cfg.MaxTradeFractionBps = bpsDenominator
	}
	if cfg.MaxTradeFractionBps < 0 || cfg.MaxTradeFractionBps > bpsDenominator {
		return nil, fmt.Errorf("max trade fraction must be within (0, %d] bps, got %d", bpsDenominator, cfg.MaxTradeFractionBps)
	}
	if cfg.FeeBuffer == nil {
		cfg.FeeBuffer = new(big.Int)
	}
	cfg.MinReserve = cfg.MinReserve.Clone()
	cfg.MaxTradeAmount = cfg.MaxTradeAmount.Clone()
	return &CapitalSafetyValidator{gate: newGate(b, auditLog, "capital_safety"), cfg: cfg}, nil
}

// Validate checks amountIn against the free balance and trade cap, then checks the fee asset
// can cover the estimated fee plus buffer.
func (v *CapitalSafetyValidator) Validate(in CapitalInput) (*CapitalResult, error) {
	trade := in.Trade
	amountIn := trade.AmountIn
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, v.violate(audit.CapitalSafetyViolation, trade.TradeID, fault.CodeInvalidTradeAmount,
			"trade amount must be positive", map[string]any{
				"asset":     trade.AssetIn,
				"amount_in": str(amountIn),
			})
	}

	balance := in.Balances.Get(trade.AssetIn)
	reserve := v.cfg.MinReserve.Get(trade.AssetIn)
	free := freeBalance(balance, reserve)

	limit := new(big.Int).Mul(free, big.NewInt(v.cfg.MaxTradeFractionBps))
	limit.Quo(limit, big.NewInt(bpsDenominator))
	tradeCap := free
	if maxAmount, ok := v.cfg.MaxTradeAmount[trade.AssetIn]; ok && maxAmount != nil {
		tradeCap = maxAmount
	}
	if limit.Cmp(tradeCap) < 0 {
		tradeCap = limit
	}
	tradeCap = new(big.Int).Set(tradeCap)

	if amountIn.Cmp(tradeCap) > 0 || amountIn.Cmp(free) > 0 {
		return nil, v.violate(audit.CapitalSafetyViolation, trade.TradeID, fault.CodeTradeAmountExceeds,
			fmt.Sprintf("trade amount %s exceeds cap %s", amountIn, tradeCap), map[string]any{
				"asset":                  trade.AssetIn,
				"amount_in":              amountIn.String(),
				"balance":                balance.String(),
				"reserve":                reserve.String(),
				"free_balance":           free.String(),
				"cap":                    tradeCap.String(),
				"max_trade_fraction_bps": v.cfg.MaxTradeFractionBps,
			})
	}

	result := &CapitalResult{
		Asset:       trade.AssetIn,
		AmountIn:    new(big.Int).Set(amountIn),
		Balance:     balance,
		Reserve:     reserve,
		FreeBalance: free,
		Cap:         tradeCap,
	}

	if v.cfg.FeeAsset != "" && (in.EstimatedFee != nil || v.cfg.FeeBuffer.Sign() > 0) {
		required := new(big.Int).Add(v.cfg.FeeBuffer, orZero(in.EstimatedFee))
		feeFree := freeBalance(in.Balances.Get(v.cfg.FeeAsset), v.cfg.MinReserve.Get(v.cfg.FeeAsset))
		if v.cfg.FeeAsset == trade.AssetIn {
			feeFree.Sub(feeFree, amountIn)
		}
		if feeFree.Cmp(required) < 0 {
			return nil, v.violate(audit.CapitalSafetyViolation, trade.TradeID, fault.CodeInsufficientFeeBalance,
				fmt.Sprintf("fee asset %s cannot cover %s", v.cfg.FeeAsset, required), map[string]any{
					"fee_asset":     v.cfg.FeeAsset,
					"fee_free":      feeFree.String(),
					"estimated_fee": str(in.EstimatedFee),
					"fee_buffer":    v.cfg.FeeBuffer.String(),
					"required":      required.String(),
				})
		}
		result.FeeAsset = v.cfg.FeeAsset
		result.FeeFree = feeFree
		result.FeeRequired = required
	}

	audit.Emit(v.audit, audit.LevelInfo, audit.CapitalSafetyPassed, trade.TradeID, "capital safety passed", map[string]any{
		"asset":        result.Asset,
		"amount_in":    result.AmountIn.String(),
		"free_balance": result.FreeBalance.String(),
		"cap":          result.Cap.String(),
	})
	return result, nil
}

func freeBalance(balance, reserve *big.Int) *big.Int {
	free := new(big.Int).Sub(balance, reserve)
	if free.Sign() < 0 {
		free.SetInt64(0)
	}
	return free
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
