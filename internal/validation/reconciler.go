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

// Mismatch is one asset whose observed balance drifted beyond tolerance.
type Mismatch struct {
	Asset     string   `json:"asset"`
	Expected  *big.Int `json:"expected"`
	Actual    *big.Int `json:"actual"`
	Diff      *big.Int `json:"diff"`
	Tolerance *big.Int `json:"tolerance"`
}

// ReconcileResult describes a passing reconciliation.
type ReconcileResult struct {
	Assets   []string        `json:"assets"`
	Expected domain.Balances `json:"expected"`
	Actual   domain.Balances `json:"actual"`
}

// BalanceReconciler compares expected balances with observed ones.
type BalanceReconciler struct {
	gate
	wallet    chain.WalletProvider
	tolerance domain.Balances
}

// NewBalanceReconciler creates a reconciler. wallet is only needed by ReconcileWallet and
// tolerance is the default per-asset tolerance (absent assets tolerate nothing).
func NewBalanceReconciler(
	wallet chain.WalletProvider,
	tolerance domain.Balances,
	b breaker.Gate,
	auditLog audit.Log,
) *BalanceReconciler {
	return &BalanceReconciler{
		gate:      newGate(b, auditLog, "reconciler"),
		wallet:    wallet,
		tolerance: tolerance.Clone(),
	}
}

// Reconcile checks every asset in the union of expected and actual. A nil tolerance uses the
// configured default.
func (r *BalanceReconciler) Reconcile(
	tradeID string,
	expected, actual, tolerance domain.Balances,
) (*ReconcileResult, error) {
	if tolerance == nil {
		tolerance = r.tolerance
	}

	assets := domain.UnionAssets(expected, actual)
	audit.Emit(r.audit, audit.LevelDebug, audit.BalanceReconcileChecked, tradeID, "reconciling balances", map[string]any{
		"assets":   assets,
		"expected": expected.Strings(),
		"actual":   actual.Strings(),
	})

	var mismatches []Mismatch
	for _, asset := range assets {
		exp, act, tol := expected.Get(asset), actual.Get(asset), tolerance.Get(asset)
		diff := absDiff(exp, act)
		if diff.Cmp(tol) > 0 {
			mismatches = append(mismatches, Mismatch{
				Asset:     asset,
				Expected:  exp,
				Actual:    act,
				Diff:      diff,
				Tolerance: tol,
			})
		}
	}

	if len(mismatches) > 0 {
		return nil, r.violate(audit.BalanceReconcileMismatch, tradeID, fault.CodeBalanceMismatch,
			fmt.Sprintf("%d asset(s) outside reconciliation tolerance", len(mismatches)),
			map[string]any{"mismatches": mismatches})
	}

	audit.Emit(r.audit, audit.LevelInfo, audit.BalanceReconcilePassed, tradeID, "balances reconciled", map[string]any{
		"assets": assets,
	})
	return &ReconcileResult{Assets: assets, Expected: expected.Clone(), Actual: actual.Clone()}, nil
}

// ReconcileWallet fetches the live balances and reconciles them against expected.
func (r *BalanceReconciler) ReconcileWallet(
	ctx context.Context,
	tradeID string,
	expected, tolerance domain.Balances,
) (*ReconcileResult, error) {
	if r.wallet == nil {
		return nil, r.reject(fault.CodeWalletUnavailable, "no wallet provider configured", nil)
	}
	actual, err := r.wallet.GetBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch wallet balances: %w", err)
	}
	return r.Reconcile(tradeID, expected, actual, tolerance)
}
