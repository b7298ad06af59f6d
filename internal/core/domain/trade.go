package domain

import "math/big"

// Trade describes the intent a strategy wants to execute, as seen by the risk gates.
type Trade struct {
	TradeID      string   `json:"trade_id"`
	AssetIn      string   `json:"asset_in"`
	AmountIn     *big.Int `json:"amount_in"`
	AssetOut     string   `json:"asset_out"`
	ExpectedOut  *big.Int `json:"expected_out"`
	QuotedMinOut *big.Int `json:"quoted_min_out,omitempty"`
}
