// Package cex provides REST adapters for centralized exchanges and price aggregators.
package cex

import (
	"github.com/StrathCole/oracle-engine/pkg/server/sources"
)

func init() {
	sources.Register("exchange.binance", NewBinanceAdapter)
	sources.Register("aggregator.coingecko", NewCoinGeckoAdapter)
}
