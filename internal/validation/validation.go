// Package validation holds the pre-trade and post-trade safety gates. Every gate works on
// integral amounts and reports violations as *fault.SafetyCheckError. Policy violations also
// trip the circuit breaker.
package validation

import (
	"log/slog"
	"math/big"
	"strings"

	"github.com/vietddude/txguard/internal/audit"
	"github.com/vietddude/txguard/internal/core/fault"
	"github.com/vietddude/txguard/internal/metrics"
	"github.com/vietddude/txguard/internal/safety/breaker"
)

const bpsDenominator = 10_000

// gate carries what every validator shares.
type gate struct {
	breaker breaker.Gate
	audit   audit.Log
	log     *slog.Logger
}

func newGate(b breaker.Gate, auditLog audit.Log, component string) gate {
	return gate{
		breaker: b,
		audit:   audit.OrNop(auditLog),
		log:     slog.Default().With("component", component),
	}
}

// violate audits the violation, trips the breaker when configured, and returns the error.
func (g gate) violate(typ audit.Type, tradeID string, code fault.Code, msg string, data map[string]any) error {
	err := fault.NewSafetyCheck(code, msg, data)
	metrics.SafetyViolationsTotal.WithLabelValues(string(code)).Inc()
	g.log.Warn("Safety check failed", "code", code, "trade_id", tradeID, "message", msg)

	evt := make(map[string]any, len(data)+1)
	for k, v := range data {
		evt[k] = v
	}
	evt["code"] = string(code)
	audit.Emit(g.audit, audit.LevelError, typ, tradeID, msg, evt)

	if g.breaker != nil {
		g.breaker.Trip(strings.ToLower(string(code)), evt)
	}
	return err
}

// reject returns a SafetyCheckError without tripping. Used for caller misconfiguration.
func (g gate) reject(code fault.Code, msg string, data map[string]any) error {
	metrics.SafetyViolationsTotal.WithLabelValues(string(code)).Inc()
	return fault.NewSafetyCheck(code, msg, data)
}

// Bps is a convenience for optional basis-point overrides.
func Bps(v int64) *int64 { return &v }

func absDiff(a, b *big.Int) *big.Int {
	d := new(big.Int).Sub(a, b)
	return d.Abs(d)
}

func str(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
