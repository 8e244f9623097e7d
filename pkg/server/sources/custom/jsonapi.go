// Package custom provides a configurable adapter for arbitrary JSON price APIs.
package custom

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/StrathCole/oracle-engine/pkg/server/sources"
)

// JSONAPIAdapter fetches one URL per pair and extracts the value with gjson paths.
//
// Config:
//
//	url:            https://api.example.com/price?asset={symbol}&quote={base}
//	value_path:     data.price
//	timestamp_path: data.ts        (optional; unix seconds, unix millis or RFC3339)
//	assets:         [BTC, ETH]
//	headers:        {X-Api-Key: "..."}
//
// Placeholders: {symbol}, {base}, {symbol_lower}, {base_lower}.
type JSONAPIAdapter struct {
	*sources.BaseAdapter
	urlTemplate   string
	valuePath     string
	timestampPath string
	headers       map[string]string
	assets        []string
	now           func() time.Time
}

var _ sources.Adapter = (*JSONAPIAdapter)(nil)

// NewJSONAPIAdapter creates a JSON API adapter from its config map.
func NewJSONAPIAdapter(config map[string]interface{}) (sources.Adapter, error) {
	a := &JSONAPIAdapter{
		urlTemplate:   sources.GetString(config, "url", ""),
		valuePath:     sources.GetString(config, "value_path", ""),
		timestampPath: sources.GetString(config, "timestamp_path", ""),
		headers:       sources.GetStringMap(config, "headers"),
		now:           time.Now,
	}

	for _, asset := range sources.GetStringSlice(config, "assets") {
		a.assets = append(a.assets, strings.ToUpper(asset))
	}
	sort.Strings(a.assets)

	a.BaseAdapter = sources.NewBaseAdapter(sources.GetString(config, "name", "jsonapi"), nil, config)

	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Validate checks the adapter configuration.
func (a *JSONAPIAdapter) Validate() error {
	if a.urlTemplate == "" {
		return fmt.Errorf("%w: url is required", sources.ErrInvalidConfig)
	}
	if _, err := url.Parse(a.render("X", "Y")); err != nil {
		return fmt.Errorf("%w: url: %w", sources.ErrInvalidConfig, err)
	}
	if a.valuePath == "" {
		return fmt.Errorf("%w: value_path is required", sources.ErrInvalidConfig)
	}
	if len(a.assets) == 0 {
		return fmt.Errorf("%w: assets is required", sources.ErrInvalidConfig)
	}
	return nil
}

// SupportedAssets returns the configured assets.
func (a *JSONAPIAdapter) SupportedAssets() []string {
	return append([]string(nil), a.assets...)
}

func (a *JSONAPIAdapter) supports(symbol string) bool {
	i := sort.SearchStrings(a.assets, symbol)
	return i < len(a.assets) && a.assets[i] == symbol
}

func (a *JSONAPIAdapter) render(symbol, base string) string {
	r := strings.NewReplacer(
		"{symbol}", url.QueryEscape(symbol),
		"{base}", url.QueryEscape(base),
		"{symbol_lower}", url.QueryEscape(strings.ToLower(symbol)),
		"{base_lower}", url.QueryEscape(strings.ToLower(base)),
	)
	return r.Replace(a.urlTemplate)
}

// FetchOne fetches and extracts the value for symbol/base.
func (a *JSONAPIAdapter) FetchOne(ctx context.Context, symbol, base string) (sources.Quote, error) {
	symbol = strings.ToUpper(symbol)
	base = strings.ToUpper(base)
	if !a.supports(symbol) {
		return sources.Quote{}, fmt.Errorf("%w: %s not configured", sources.ErrNoData, symbol)
	}

	body, err := a.GetBody(ctx, a.render(symbol, base), a.headers)
	if err != nil {
		return sources.Quote{}, err
	}
	if !gjson.ValidBytes(body) {
		return sources.Quote{}, fmt.Errorf("%w: body is not JSON", sources.ErrInvalidResponse)
	}

	res := gjson.GetBytes(body, a.valuePath)
	if !res.Exists() || res.Type == gjson.Null {
		return sources.Quote{}, fmt.Errorf("%w: %s missing at %s", sources.ErrNoData, symbol, a.valuePath)
	}

	value, err := decimal.NewFromString(strings.TrimSpace(res.String()))
	if err != nil {
		return sources.Quote{}, fmt.Errorf("%w: value %q: %w", sources.ErrInvalidResponse, res.String(), err)
	}

	observedAt := a.now()
	if a.timestampPath != "" {
		if ts, ok := parseTimestamp(gjson.GetBytes(body, a.timestampPath)); ok {
			observedAt = ts
		}
	}

	return sources.Quote{
		Symbol:       symbol,
		BaseCurrency: base,
		Value:        value,
		ObservedAt:   observedAt,
	}, nil
}

// FetchAll fetches every configured asset in turn. Assets without data are skipped.
func (a *JSONAPIAdapter) FetchAll(ctx context.Context, base string) ([]sources.Quote, error) {
	quotes := make([]sources.Quote, 0, len(a.assets))
	var errs []error
	for _, asset := range a.assets {
		q, err := a.FetchOne(ctx, asset, base)
		if errors.Is(err, sources.ErrNoData) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", asset, err))
			continue
		}
		quotes = append(quotes, q)
	}
	if len(quotes) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return quotes, nil
}

// parseTimestamp accepts unix seconds, unix milliseconds or RFC3339 strings.
func parseTimestamp(res gjson.Result) (time.Time, bool) {
	switch res.Type {
	case gjson.Number:
		n := res.Int()
		if n <= 0 {
			return time.Time{}, false
		}
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), true
		}
		return time.Unix(n, 0).UTC(), true
	case gjson.String:
		t, err := time.Parse(time.RFC3339, res.String())
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	default:
		return time.Time{}, false
	}
}

func init() {
	sources.Register("custom.jsonapi", NewJSONAPIAdapter)
}
