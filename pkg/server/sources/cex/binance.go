package cex

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/StrathCole/oracle-engine/pkg/server/sources"
)

const binanceBaseURL = "https://api.binance.com"

// BinanceAdapter quotes spot prices from the Binance REST ticker endpoint.
type BinanceAdapter struct {
	*sources.BaseAdapter
	apiURL string
	now    func() time.Time
}

var _ sources.Adapter = (*BinanceAdapter)(nil)

// BinancePriceTicker represents lightweight price data from /ticker/price endpoint
type BinancePriceTicker struct {
	Symbol string `json:"symbol"` // e.g., "BTCUSDT"
	Price  string `json:"price"`  // Current price
}

// NewBinanceAdapter creates a Binance adapter.
// Config: pairs (unified -> Binance symbol), optional api_url, rate_limit, burst, http_timeout.
func NewBinanceAdapter(config map[string]interface{}) (sources.Adapter, error) {
	pairs, err := sources.ParsePairsFromMap(config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pairs: %w", err)
	}

	return &BinanceAdapter{
		BaseAdapter: sources.NewBaseAdapter("binance", pairs, config),
		apiURL:      strings.TrimRight(sources.GetString(config, "api_url", binanceBaseURL), "/"),
		now:         time.Now,
	}, nil
}

// FetchOne returns the current ticker price for symbol/base.
func (a *BinanceAdapter) FetchOne(ctx context.Context, symbol, base string) (sources.Quote, error) {
	market, ok := a.SourceSymbol(symbol, base)
	if !ok {
		return sources.Quote{}, fmt.Errorf("%w: binance has no market for %s/%s", sources.ErrNoData, symbol, base)
	}

	var ticker BinancePriceTicker
	endpoint := a.apiURL + "/api/v3/ticker/price?symbol=" + url.QueryEscape(strings.ToUpper(market))
	if err := a.GetJSON(ctx, endpoint, nil, &ticker); err != nil {
		return sources.Quote{}, err
	}

	price, err := decimal.NewFromString(ticker.Price)
	if err != nil {
		return sources.Quote{}, fmt.Errorf("%w: price %q: %w", sources.ErrInvalidResponse, ticker.Price, err)
	}

	return sources.Quote{
		Symbol:       strings.ToUpper(symbol),
		BaseCurrency: strings.ToUpper(base),
		Value:        price,
		ObservedAt:   a.now(),
	}, nil
}

// FetchAll returns quotes for every configured market quoted in base.
func (a *BinanceAdapter) FetchAll(ctx context.Context, base string) ([]sources.Quote, error) {
	var tickers []BinancePriceTicker
	if err := a.GetJSON(ctx, a.apiURL+"/api/v3/ticker/price", nil, &tickers); err != nil {
		return nil, err
	}

	wantQuote := sources.NormalizeAsset(base)
	now := a.now()
	seen := make(map[string]bool)
	quotes := make([]sources.Quote, 0, len(tickers))

	for _, ticker := range tickers {
		for _, unified := range a.UnifiedSymbols(ticker.Symbol) {
			asset, quote, _ := strings.Cut(sources.NormalizeSymbol(unified), "/")
			if quote != wantQuote || seen[asset] {
				continue
			}

			price, err := decimal.NewFromString(ticker.Price)
			if err != nil {
				a.Logger().Warn("Failed to parse price", "symbol", ticker.Symbol, "price", ticker.Price, "error", err)
				continue
			}

			seen[asset] = true
			quotes = append(quotes, sources.Quote{
				Symbol:       asset,
				BaseCurrency: strings.ToUpper(base),
				Value:        price,
				ObservedAt:   now,
			})
		}
	}

	return quotes, nil
}
