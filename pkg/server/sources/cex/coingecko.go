package cex

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
	coingeckoBaseURL    = "https://api.coingecko.com/api/v3"
	coingeckoFreeLimit  = 0.25 // ~15 calls/minute on the free tier
	coingeckoProLimit   = 0.5  // ~30 calls/minute with an API key
	coingeckoUpdatedKey = "last_updated_at"
)

// CoinGeckoAdapter quotes prices from the CoinGecko simple price API.
// Pairs map a unified symbol to a CoinGecko coin id, e.g. "BTC/USD": "bitcoin";
// the quote currency of the pair is used as vs_currency.
type CoinGeckoAdapter struct {
	*sources.BaseAdapter
	apiURL string
	apiKey string
	now    func() time.Time
}

var _ sources.Adapter = (*CoinGeckoAdapter)(nil)

// NewCoinGeckoAdapter creates a CoinGecko adapter.
func NewCoinGeckoAdapter(config map[string]interface{}) (sources.Adapter, error) {
	pairs, err := sources.ParsePairsFromMap(config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pairs: %w", err)
	}

	apiKey := sources.GetString(config, "api_key", "")

	// Default rate limit depends on API key presence unless configured explicitly.
	if _, ok := config["rate_limit"]; !ok {
		limited := make(map[string]interface{}, len(config)+1)
		for k, v := range config {
			limited[k] = v
		}
		limited["rate_limit"] = coingeckoFreeLimit
		if apiKey != "" {
			limited["rate_limit"] = coingeckoProLimit
		}
		config = limited
	}

	return &CoinGeckoAdapter{
		BaseAdapter: sources.NewBaseAdapter("coingecko", pairs, config),
		apiURL:      strings.TrimRight(sources.GetString(config, "api_url", coingeckoBaseURL), "/"),
		apiKey:      apiKey,
		now:         time.Now,
	}, nil
}

// FetchOne returns the price of symbol in base.
func (a *CoinGeckoAdapter) FetchOne(ctx context.Context, symbol, base string) (sources.Quote, error) {
	id, ok := a.SourceSymbol(symbol, base)
	if !ok {
		return sources.Quote{}, fmt.Errorf("%w: coingecko has no id for %s/%s", sources.ErrNoData, symbol, base)
	}

	data, err := a.fetch(ctx, []string{id}, base)
	if err != nil {
		return sources.Quote{}, err
	}

	quote, ok := a.quote(data, id, symbol, base)
	if !ok {
		return sources.Quote{}, fmt.Errorf("%w: %s in %s", sources.ErrNoData, id, base)
	}
	return quote, nil
}

// FetchAll returns prices for every configured coin in base.
func (a *CoinGeckoAdapter) FetchAll(ctx context.Context, base string) ([]sources.Quote, error) {
	idToAsset := make(map[string]string)
	for _, asset := range a.SupportedAssets() {
		if id, ok := a.SourceSymbol(asset, base); ok {
			idToAsset[id] = asset
		}
	}
	if len(idToAsset) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(idToAsset))
	for id := range idToAsset {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	data, err := a.fetch(ctx, ids, base)
	if err != nil {
		return nil, err
	}

	quotes := make([]sources.Quote, 0, len(ids))
	for _, id := range ids {
		if q, ok := a.quote(data, id, idToAsset[id], base); ok {
			quotes = append(quotes, q)
		}
	}
	return quotes, nil
}

func (a *CoinGeckoAdapter) fetch(ctx context.Context, ids []string, base string) (map[string]map[string]decimal.Decimal, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", strings.ToLower(base))
	q.Set("include_last_updated_at", "true")
	if a.apiKey != "" {
		q.Set("x_cg_pro_api_key", a.apiKey)
	}

	var data map[string]map[string]decimal.Decimal
	if err := a.GetJSON(ctx, a.apiURL+"/simple/price?"+q.Encode(), nil, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (a *CoinGeckoAdapter) quote(data map[string]map[string]decimal.Decimal, id, symbol, base string) (sources.Quote, bool) {
	fields, ok := data[id]
	if !ok {
		return sources.Quote{}, false
	}
	price, ok := fields[strings.ToLower(base)]
	if !ok {
		return sources.Quote{}, false
	}

	observedAt := a.now()
	if ts, ok := fields[coingeckoUpdatedKey]; ok && ts.IsPositive() {
		observedAt = time.Unix(ts.IntPart(), 0).UTC()
	}

	return sources.Quote{
		Symbol:       strings.ToUpper(symbol),
		BaseCurrency: strings.ToUpper(base),
		Value:        price,
		ObservedAt:   observedAt,
	}, true
}
