package fiat

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/StrathCole/oracle-engine/pkg/server/sources"
)

const (
	frankfurterBaseURL    = "https://api.frankfurter.app"
	frankfurterRateLimit  = 1.0 // ECB reference rates change once per working day
	rateDivisionPrecision = 18
)

// FrankfurterAdapter quotes fiat rates from the Frankfurter API (free, no API key).
// https://www.frankfurter.app/docs/
//
// Config:
//
//	symbols: [EUR/USD, GBP/USD, JPY/USD]
//
// The quote for EUR/USD is the price of one EUR in USD.
type FrankfurterAdapter struct {
	*sources.BaseAdapter
	apiURL string
	now    func() time.Time
}

var _ sources.Adapter = (*FrankfurterAdapter)(nil)

type frankfurterResponse struct {
	Amount float64                    `json:"amount"`
	Base   string                     `json:"base"`
	Date   string                     `json:"date"`
	Rates  map[string]decimal.Decimal `json:"rates"`
}

// NewFrankfurterAdapter creates a Frankfurter adapter from its config map.
func NewFrankfurterAdapter(config map[string]interface{}) (sources.Adapter, error) {
	if _, ok := config["symbols"]; !ok {
		return nil, fmt.Errorf("%w", ErrMissingSymbolsInConfig)
	}

	pairs := make(map[string]string)
	for _, symbol := range sources.GetStringSlice(config, "symbols") {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if err := sources.ValidateSymbolFormat(symbol); err != nil {
			continue
		}
		asset, _, _ := strings.Cut(symbol, "/")
		pairs[symbol] = asset
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w", ErrNoValidSymbolsFrankfurt)
	}

	if _, ok := config["rate_limit"]; !ok {
		limited := make(map[string]interface{}, len(config)+1)
		for k, v := range config {
			limited[k] = v
		}
		limited["rate_limit"] = frankfurterRateLimit
		config = limited
	}

	a := &FrankfurterAdapter{
		BaseAdapter: sources.NewBaseAdapter("frankfurter", pairs, config),
		apiURL:      strings.TrimRight(sources.GetString(config, "api_url", frankfurterBaseURL), "/"),
		now:         time.Now,
	}
	a.Logger().Info("Initializing Frankfurter adapter", "symbols", len(pairs))
	return a, nil
}

// FetchOne returns the price of one unit of symbol in base.
func (a *FrankfurterAdapter) FetchOne(ctx context.Context, symbol, base string) (sources.Quote, error) {
	symbol = strings.ToUpper(symbol)
	base = strings.ToUpper(base)
	currency, ok := a.SourceSymbol(symbol, base)
	if !ok {
		return sources.Quote{}, fmt.Errorf("%w: frankfurter has no %s/%s", sources.ErrNoData, symbol, base)
	}

	data, err := a.latest(ctx, currency, []string{base})
	if err != nil {
		return sources.Quote{}, err
	}

	rate, ok := data.Rates[base]
	if !ok {
		return sources.Quote{}, fmt.Errorf("%w: %s in %s", sources.ErrNoData, currency, base)
	}
	if !rate.IsPositive() {
		return sources.Quote{}, fmt.Errorf("%w: %s/%s = %s", ErrNonPositiveRate, symbol, base, rate)
	}

	return sources.Quote{
		Symbol:       symbol,
		BaseCurrency: base,
		Value:        rate,
		ObservedAt:   a.now(),
	}, nil
}

// FetchAll returns every configured currency priced in base with a single
// request, inverting the base-denominated rates.
func (a *FrankfurterAdapter) FetchAll(ctx context.Context, base string) ([]sources.Quote, error) {
	base = strings.ToUpper(base)

	var currencies []string
	for _, asset := range a.SupportedAssets() {
		if asset == base {
			continue
		}
		if _, ok := a.SourceSymbol(asset, base); ok {
			currencies = append(currencies, asset)
		}
	}
	if len(currencies) == 0 {
		return nil, nil
	}
	sort.Strings(currencies)

	data, err := a.latest(ctx, base, currencies)
	if err != nil {
		return nil, err
	}

	now := a.now()
	quotes := make([]sources.Quote, 0, len(currencies))
	for _, currency := range currencies {
		rate, ok := data.Rates[currency]
		if !ok || !rate.IsPositive() {
			continue
		}
		quotes = append(quotes, sources.Quote{
			Symbol:       currency,
			BaseCurrency: base,
			Value:        decimal.NewFromInt(1).DivRound(rate, rateDivisionPrecision),
			ObservedAt:   now,
		})
	}

	a.Logger().Debug("Updated prices from Frankfurter", "count", len(quotes), "date", data.Date)
	return quotes, nil
}

func (a *FrankfurterAdapter) latest(ctx context.Context, from string, to []string) (frankfurterResponse, error) {
	q := url.Values{}
	q.Set("from", from)
	q.Set("to", strings.Join(to, ","))

	var data frankfurterResponse
	if err := a.GetJSON(ctx, a.apiURL+"/latest?"+q.Encode(), nil, &data); err != nil {
		return frankfurterResponse{}, err
	}
	if !strings.EqualFold(data.Base, from) {
		return frankfurterResponse{}, fmt.Errorf("%w: base %q, want %s", sources.ErrInvalidResponse, data.Base, from)
	}
	return data, nil
}
