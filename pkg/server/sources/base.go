package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/StrathCole/oracle-engine/pkg/logging"
	"github.com/StrathCole/oracle-engine/pkg/version"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxResponseBytes   = 4 << 20
)

// BaseAdapter provides pair mapping, rate limiting and HTTP plumbing shared by
// the REST adapters.
type BaseAdapter struct {
	name string
	// pairs maps unified symbols (e.g. "BTC/USDT") to provider symbols (e.g. "BTCUSDT").
	pairs map[string]string
	// canonical maps normalized unified symbols to provider symbols.
	canonical map[string]string
	client    *http.Client
	limiter   *rate.Limiter
	logger    *logging.Logger
}

// NewBaseAdapter creates a base adapter from pair mappings and the raw source
// config. Recognized keys: "rate_limit" (requests per second), "burst" and
// "http_timeout" (duration string).
func NewBaseAdapter(name string, pairs map[string]string, config map[string]interface{}) *BaseAdapter {
	limit := rate.Inf
	if rps := GetFloat(config, "rate_limit", 0); rps > 0 {
		limit = rate.Limit(rps)
	}
	burst := GetInt(config, "burst", 1)
	if burst < 1 {
		burst = 1
	}

	canonical := make(map[string]string, len(pairs))
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		norm := NormalizeSymbol(k)
		if _, taken := canonical[norm]; !taken {
			canonical[norm] = pairs[k]
		}
	}

	return &BaseAdapter{
		name:      name,
		pairs:     pairs,
		canonical: canonical,
		client:    &http.Client{Timeout: GetDuration(config, "http_timeout", defaultHTTPTimeout)},
		limiter:   rate.NewLimiter(limit, burst),
		logger:    GetLoggerFromConfig(config).With("adapter", name),
	}
}

// Name returns the adapter name
func (b *BaseAdapter) Name() string {
	return b.name
}

// Logger returns the logger
func (b *BaseAdapter) Logger() *logging.Logger {
	return b.logger
}

// SourceSymbol returns the provider symbol for symbol/base. An exact pair key
// wins over a normalized match, so "BTC/USD" can be served by a "BTC/USDT" market.
func (b *BaseAdapter) SourceSymbol(symbol, base string) (string, bool) {
	unified := strings.ToUpper(symbol) + "/" + strings.ToUpper(base)
	if s, ok := b.pairs[unified]; ok {
		return s, true
	}
	s, ok := b.canonical[NormalizeSymbol(unified)]
	return s, ok
}

// UnifiedSymbols returns the unified symbols that map to the provider symbol.
func (b *BaseAdapter) UnifiedSymbols(sourceSymbol string) []string {
	var out []string
	for unified, s := range b.pairs {
		if strings.EqualFold(s, sourceSymbol) {
			out = append(out, unified)
		}
	}
	sort.Strings(out)
	return out
}

// SupportedAssets returns the normalized base assets of every configured pair, sorted.
func (b *BaseAdapter) SupportedAssets() []string {
	seen := make(map[string]bool, len(b.canonical))
	out := make([]string, 0, len(b.canonical))
	for norm := range b.canonical {
		asset, _, _ := strings.Cut(norm, "/")
		if !seen[asset] {
			seen[asset] = true
			out = append(out, asset)
		}
	}
	sort.Strings(out)
	return out
}

// Validate checks that at least one pair is configured.
func (b *BaseAdapter) Validate() error {
	if len(b.pairs) == 0 {
		return fmt.Errorf("%w: %s", ErrNoPairsConfigured, b.name)
	}
	for unified := range b.pairs {
		if err := ValidateSymbolFormat(unified); err != nil {
			return err
		}
	}
	return nil
}

// GetBody performs a rate-limited GET and returns the response body.
func (b *BaseAdapter) GetBody(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRateLimitExceeded, b.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.AgentString())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		b.logger.Warn("Rate limit exceeded", "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: %s returned 429", ErrRateLimitExceeded, b.name)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

// GetJSON performs a rate-limited GET and decodes the JSON response into out.
func (b *BaseAdapter) GetJSON(ctx context.Context, url string, headers map[string]string, out interface{}) error {
	body, err := b.GetBody(ctx, url, headers)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	return nil
}
