package domain

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
)

// Balances maps an asset identifier to an integral quantity in the asset's smallest unit.
// Floating point is never used for settlement amounts.
type Balances map[string]*big.Int

// Get returns a copy of the balance for asset, zero when absent.
func (b Balances) Get(asset string) *big.Int {
	if v, ok := b[asset]; ok && v != nil {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// Clone returns a deep copy so callers can snapshot provider data.
func (b Balances) Clone() Balances {
	out := make(Balances, len(b))
	for asset, v := range b {
		if v == nil {
			out[asset] = new(big.Int)
			continue
		}
		out[asset] = new(big.Int).Set(v)
	}
	return out
}

// Assets returns the sorted asset keys.
func (b Balances) Assets() []string {
	assets := make([]string, 0, len(b))
	for asset := range b {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}

// Strings renders the balances as decimal strings, for logs and JSON.
func (b Balances) Strings() map[string]string {
	out := make(map[string]string, len(b))
	for asset, v := range b {
		out[asset] = AmountString(v)
	}
	return out
}

// UnionAssets returns the sorted union of asset keys across several mappings.
func UnionAssets(sets ...Balances) []string {
	seen := make(map[string]struct{})
	for _, s := range sets {
		for asset := range s {
			seen[asset] = struct{}{}
		}
	}
	assets := make([]string, 0, len(seen))
	for asset := range seen {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}

// ParseAmount parses a base-10 integer amount. Underscores are accepted as digit separators.
func ParseAmount(s string) (*big.Int, error) {
	clean := strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	if clean == "" {
		return nil, fmt.Errorf("empty amount")
	}
	v, ok := new(big.Int).SetString(clean, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

// MustAmount is ParseAmount for constants and tests.
func MustAmount(s string) *big.Int {
	v, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return v
}

// ParseBalances converts a string-valued mapping (as found in config) to Balances.
func ParseBalances(in map[string]string) (Balances, error) {
	out := make(Balances, len(in))
	for asset, raw := range in {
		v, err := ParseAmount(raw)
		if err != nil {
			return nil, fmt.Errorf("asset %s: %w", asset, err)
		}
		out[asset] = v
	}
	return out, nil
}

// AmountString formats an amount, treating nil as zero.
func AmountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
