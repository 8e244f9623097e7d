package sources

import (
	"strings"
)

// Stablecoin aliases, all quoted as USD
var stablecoinAliases = map[string]string{
	"USDT": "USD",
	"USDC": "USD",
	"BUSD": "USD",
	"DAI":  "USD",
	"TUSD": "USD",
	"USDP": "USD",
}

// Wrapped asset aliases
var wrappedAliases = map[string]string{
	"WBTC":  "BTC",
	"WETH":  "ETH",
	"STETH": "ETH",
}

// NormalizeAsset maps a single asset or currency code to its canonical form.
func NormalizeAsset(asset string) string {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	if normalized, ok := wrappedAliases[asset]; ok {
		return normalized
	}
	if normalized, ok := stablecoinAliases[asset]; ok {
		return normalized
	}
	return asset
}

// NormalizeSymbol converts a trading pair symbol to its canonical oracle form
// Examples:
//   - BTC/USDT -> BTC/USD
//   - WBTC/USD -> BTC/USD
//   - ETH/EUR -> ETH/EUR (no change)
func NormalizeSymbol(symbol string) string {
	base, quote, ok := strings.Cut(symbol, "/")
	if !ok || strings.Contains(quote, "/") {
		return symbol
	}
	return NormalizeAsset(base) + "/" + NormalizeAsset(quote)
}
