package validation

import (
	"math/big"

	"github.com/vietddude/txguard/internal/audit"
	"github.com/vietddude/txguard/internal/core/domain"
	"github.com/vietddude/txguard/internal/core/fault"
	"github.com/vietddude/txguard/internal/safety/breaker"
)

// Shortfall is one asset below its configured minimum.
type Shortfall struct {
	Asset   string   `json:"asset"`
	Minimum *big.Int `json:"minimum"`
	Actual  *big.Int `json:"actual"`
}

// MonitorResult describes a balance monitor pass.
type MonitorResult struct {
	Checked  []string        `json:"checked"`
	Balances domain.Balances `json:"balances"`
}

// BalanceMonitor enforces per-asset minimum balances on the wallet.
type BalanceMonitor struct {
	gate
	minimum domain.Balances
}

func NewBalanceMonitor(minimum domain.Balances, b breaker.Gate, auditLog audit.Log) *BalanceMonitor {
	return &BalanceMonitor{
		gate:    newGate(b, auditLog, "balance_monitor"),
		minimum: minimum.Clone(),
	}
}

// Check fails with BALANCE_BELOW_MINIMUM if any configured asset is under its minimum.
func (m *BalanceMonitor) Check(tradeID string, balances domain.Balances) (*MonitorResult, error) {
	var shortfalls []Shortfall
	for _, asset := range m.minimum.Assets() {
		minimum := m.minimum.Get(asset)
		actual := balances.Get(asset)
		if actual.Cmp(minimum) < 0 {
			shortfalls = append(shortfalls, Shortfall{Asset: asset, Minimum: minimum, Actual: actual})
		}
	}

	if len(shortfalls) > 0 {
		return nil, m.violate(audit.BalanceMonitorViolation, tradeID, fault.CodeBalanceBelowMinimum,
			"wallet balance below configured minimum", map[string]any{"shortfalls": shortfalls})
	}

	result := &MonitorResult{Checked: m.minimum.Assets(), Balances: balances.Clone()}
	audit.Emit(m.audit, audit.LevelInfo, audit.BalanceMonitorChecked, tradeID, "balances above minimum", map[string]any{
		"balances": balances.Strings(),
		"minimum":  m.minimum.Strings(),
	})
	return result, nil
}
