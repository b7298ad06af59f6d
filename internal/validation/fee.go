package validation

import (
	"context"
	"fmt"
	"math/big"

	"github.com/vietddude/txguard/internal/audit"
	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/core/fault"
	"github.com/vietddude/txguard/internal/infra/chain"
	"github.com/vietddude/txguard/internal/safety/breaker"
)

// FeeEstimate is the summed fee for a set of requests.
type FeeEstimate struct {
	Total    *big.Int   `json:"total"`
	PerStep  []*big.Int `json:"per_step"`
	Requests int        `json:"requests"`
}

// FeeManager estimates network fees and enforces a fee cap.
type FeeManager struct {
	gate
	provider chain.FeeProvider
	cap      *big.Int
}

// NewFeeManager creates a fee manager. A nil cap is unbounded.
func NewFeeManager(provider chain.FeeProvider, feeCap *big.Int, b breaker.Gate, auditLog audit.Log) *FeeManager {
	m := &FeeManager{gate: newGate(b, auditLog, "fee"), provider: provider}
	if feeCap != nil {
		m.cap = new(big.Int).Set(feeCap)
	}
	return m
}

// Estimate returns the provider's fee for one request.
func (m *FeeManager) Estimate(ctx context.Context, tradeID string, req domain.TxRequest) (*big.Int, error) {
	if m.provider == nil {
		return nil, m.reject(fault.CodeFeeEstimateFailed, "no fee provider configured", nil)
	}
	fee, err := m.provider.EstimateFee(ctx, req)
	if err != nil {
		return nil, fault.NewSafetyCheck(fault.CodeFeeEstimateFailed,
			fmt.Sprintf("fee estimate failed: %v", err), map[string]any{"to": req.To})
	}
	if fee == nil || fee.Sign() < 0 {
		return nil, m.reject(fault.CodeFeeEstimateFailed, "provider returned an invalid fee",
			map[string]any{"to": req.To, "fee": str(fee)})
	}

	audit.Emit(m.audit, audit.LevelDebug, audit.FeeEstimated, tradeID, "fee estimated", map[string]any{
		"to":  req.To,
		"fee": fee.String(),
	})
	return new(big.Int).Set(fee), nil
}

// EstimateAll estimates each request and sums the fees.
func (m *FeeManager) EstimateAll(ctx context.Context, tradeID string, reqs []domain.TxRequest) (*FeeEstimate, error) {
	est := &FeeEstimate{Total: new(big.Int), PerStep: make([]*big.Int, 0, len(reqs)), Requests: len(reqs)}
	for _, req := range reqs {
		fee, err := m.Estimate(ctx, tradeID, req)
		if err != nil {
			return nil, err
		}
		est.PerStep = append(est.PerStep, fee)
		est.Total.Add(est.Total, fee)
	}
	return est, nil
}

// AssertWithinCap fails with FEE_CAP_EXCEEDED when fee is above the cap. override replaces the
// configured cap for this call only.
func (m *FeeManager) AssertWithinCap(tradeID string, fee, override *big.Int) error {
	limit := m.cap
	if override != nil {
		limit = override
	}
	if limit == nil {
		audit.Emit(m.audit, audit.LevelDebug, audit.FeeCapOK, tradeID, "fee cap unbounded", map[string]any{
			"fee": str(fee),
		})
		return nil
	}

	if orZero(fee).Cmp(limit) > 0 {
		return m.violate(audit.FeeCapExceeded, tradeID, fault.CodeFeeCapExceeded,
			fmt.Sprintf("estimated fee %s exceeds cap %s", str(fee), limit),
			map[string]any{"fee": str(fee), "cap": limit.String()})
	}

	audit.Emit(m.audit, audit.LevelInfo, audit.FeeCapOK, tradeID, "fee within cap", map[string]any{
		"fee": str(fee),
		"cap": limit.String(),
	})
	return nil
}
