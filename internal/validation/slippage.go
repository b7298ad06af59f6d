package validation

import (
	"fmt"
	"math/big"

	"github.com/vietddude/txguard/internal/audit"
	"github.com/vietddude/txguard/internal/core/fault"
	"github.com/vietddude/txguard/internal/safety/breaker"
)

// DefaultMaxSlippageBps is 0.5%.
const DefaultMaxSlippageBps int64 = 50

// SlippageQuote describes a validated quote.
type SlippageQuote struct {
	ExpectedOut    *big.Int `json:"expected_out"`
	MinOut         *big.Int `json:"min_out"`
	QuotedMinOut   *big.Int `json:"quoted_min_out,omitempty"`
	MaxSlippageBps int64    `json:"max_slippage_bps"`
}

// ExecutionSlippage describes a validated fill.
type ExecutionSlippage struct {
	ExpectedOut    *big.Int `json:"expected_out"`
	MinOut         *big.Int `json:"min_out"`
	ActualOut      *big.Int `json:"actual_out"`
	RealizedBps    int64    `json:"realized_bps"`
	MaxSlippageBps int64    `json:"max_slippage_bps"`
}

// SlippageEnforcer bounds how far a fill may fall below the expected output.
type SlippageEnforcer struct {
	gate
	maxBps int64
}

func NewSlippageEnforcer(maxSlippageBps int64, b breaker.Gate, auditLog audit.Log) (*SlippageEnforcer, error) {
	if maxSlippageBps < 0 || maxSlippageBps > bpsDenominator {
		return nil, fault.NewSafetyCheck(fault.CodeInvalidSlippageConfig,
			fmt.Sprintf("max slippage must be within [0, %d] bps", bpsDenominator),
			map[string]any{"max_slippage_bps": maxSlippageBps})
	}
	return &SlippageEnforcer{gate: newGate(b, auditLog, "slippage"), maxBps: maxSlippageBps}, nil
}

func (s *SlippageEnforcer) resolve(override *int64) (int64, error) {
	bps := s.maxBps
	if override != nil {
		bps = *override
	}
	if bps < 0 || bps > bpsDenominator {
		return 0, s.reject(fault.CodeInvalidSlippageConfig,
			fmt.Sprintf("slippage must be within [0, %d] bps", bpsDenominator),
			map[string]any{"max_slippage_bps": bps})
	}
	return bps, nil
}

// ComputeMinOut returns floor(expected * (10000 - bps) / 10000). A nil override uses the
// configured tolerance.
func (s *SlippageEnforcer) ComputeMinOut(tradeID string, expectedOut *big.Int, override *int64) (*big.Int, error) {
	bps, err := s.resolve(override)
	if err != nil {
		return nil, err
	}
	if expectedOut == nil || expectedOut.Sign() <= 0 {
		return nil, s.reject(fault.CodeMissingExpectedOut, "expected output must be positive",
			map[string]any{"expected_out": str(expectedOut)})
	}

	minOut := new(big.Int).Mul(expectedOut, big.NewInt(bpsDenominator-bps))
	minOut.Quo(minOut, big.NewInt(bpsDenominator))

	audit.Emit(s.audit, audit.LevelDebug, audit.SlippageMinOutComputed, tradeID, "min out computed", map[string]any{
		"expected_out":     expectedOut.String(),
		"min_out":          minOut.String(),
		"max_slippage_bps": bps,
	})
	return minOut, nil
}

// AssertQuoteWithinLimits fails with SLIPPAGE_QUOTE_TOO_LOW when the quoted minimum is below
// the computed one.
func (s *SlippageEnforcer) AssertQuoteWithinLimits(
	tradeID string,
	expectedOut, quotedMinOut *big.Int,
	override *int64,
) (*SlippageQuote, error) {
	minOut, err := s.ComputeMinOut(tradeID, expectedOut, override)
	if err != nil {
		return nil, err
	}
	bps, _ := s.resolve(override)
	quote := &SlippageQuote{ExpectedOut: new(big.Int).Set(expectedOut), MinOut: minOut, MaxSlippageBps: bps}
	if quotedMinOut == nil {
		return quote, nil
	}
	quote.QuotedMinOut = new(big.Int).Set(quotedMinOut)

	if quotedMinOut.Cmp(minOut) < 0 {
		return nil, s.violate(audit.SlippageViolation, tradeID, fault.CodeSlippageQuoteTooLow,
			fmt.Sprintf("quoted min out %s below required %s", quotedMinOut, minOut), map[string]any{
				"expected_out":     expectedOut.String(),
				"quoted_min_out":   quotedMinOut.String(),
				"min_out":          minOut.String(),
				"max_slippage_bps": bps,
			})
	}

	audit.Emit(s.audit, audit.LevelInfo, audit.SlippageQuotePassed, tradeID, "quote within slippage limits", map[string]any{
		"quoted_min_out": quotedMinOut.String(),
		"min_out":        minOut.String(),
	})
	return quote, nil
}

// AssertExecutionWithinLimits fails with SLIPPAGE_EXCEEDED when actualOut is below min out.
func (s *SlippageEnforcer) AssertExecutionWithinLimits(
	tradeID string,
	expectedOut, actualOut *big.Int,
	override *int64,
) (*ExecutionSlippage, error) {
	minOut, err := s.ComputeMinOut(tradeID, expectedOut, override)
	if err != nil {
		return nil, err
	}
	bps, _ := s.resolve(override)
	actual := orZero(actualOut)
	realized := RealizedSlippageBps(expectedOut, actual)

	if actual.Cmp(minOut) < 0 {
		return nil, s.violate(audit.SlippageViolation, tradeID, fault.CodeSlippageExceeded,
			fmt.Sprintf("actual out %s below min out %s", actual, minOut), map[string]any{
				"expected_out":     expectedOut.String(),
				"actual_out":       actual.String(),
				"min_out":          minOut.String(),
				"realized_bps":     realized,
				"max_slippage_bps": bps,
			})
	}

	audit.Emit(s.audit, audit.LevelInfo, audit.SlippageExecutionPassed, tradeID, "execution within slippage limits", map[string]any{
		"actual_out":   actual.String(),
		"min_out":      minOut.String(),
		"realized_bps": realized,
	})
	return &ExecutionSlippage{
		ExpectedOut:    new(big.Int).Set(expectedOut),
		MinOut:         minOut,
		ActualOut:      new(big.Int).Set(actual),
		RealizedBps:    realized,
		MaxSlippageBps: bps,
	}, nil
}

// RealizedSlippageBps returns floor((expected-actual)*10000/expected), or 0 when actual meets
// or beats expected.
func RealizedSlippageBps(expected, actual *big.Int) int64 {
	if expected == nil || expected.Sign() <= 0 || actual.Cmp(expected) >= 0 {
		return 0
	}
	d := new(big.Int).Sub(expected, actual)
	d.Mul(d, big.NewInt(bpsDenominator))
	d.Quo(d, expected)
	return d.Int64()
}
