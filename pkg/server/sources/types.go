package sources

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// SourceType represents the kind of price provider behind a source
type SourceType string

const (
	SourceTypeExchange   SourceType = "exchange"
	SourceTypeAggregator SourceType = "aggregator"
	SourceTypeOnChain    SourceType = "onchain"
	SourceTypeOracle     SourceType = "oracle"
	SourceTypeCustom     SourceType = "custom"
)

// Status is the health state of a source.
//
//	Active  --N failures-->  Error  --reactivate/cooldown-->  Testing  --1 success-->  Active
//	Testing --failure--> Error
//	Inactive is operator controlled and never left automatically.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusError    Status = "error"
	StatusTesting  Status = "testing"
)

// Default policy values.
const (
	DefaultTimeout          = 5 * time.Second
	DefaultUpdateInterval   = 15 * time.Second
	DefaultFailureThreshold = 3
	DefaultCooldown         = 5 * time.Minute
	MaxWeight               = 100.0
)

// Policy is the per-source retry/health policy consumed by the health state machine.
type Policy struct {
	Timeout          time.Duration `json:"timeout"`
	UpdateInterval   time.Duration `json:"update_interval"`
	FailureThreshold int           `json:"failure_threshold"`
	// Cooldown is how long a source stays in Error before it is moved to Testing
	// automatically. Zero disables automatic reactivation.
	Cooldown time.Duration `json:"cooldown"`
}

// withDefaults fills unset policy fields.
func (p Policy) withDefaults() Policy {
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	if p.UpdateInterval <= 0 {
		p.UpdateInterval = DefaultUpdateInterval
	}
	if p.FailureThreshold <= 0 {
		p.FailureThreshold = DefaultFailureThreshold
	}
	return p
}

// SourceConfig describes one configured source and its health fields.
type SourceConfig struct {
	ID                    string     `json:"id"`
	Name                  string     `json:"name"`
	Type                  SourceType `json:"type"`
	Weight                float64    `json:"weight"`
	Status                Status     `json:"status"`
	SupportedAssets       []string   `json:"supported_assets"`
	Policy                Policy     `json:"policy"`
	LastSuccessfulFetchAt *time.Time `json:"last_successful_fetch_at,omitempty"`
	ConsecutiveFailures   int        `json:"consecutive_failures"`
	// ErrorSince is when the source last entered Error; zero otherwise.
	ErrorSince time.Time `json:"error_since,omitempty"`
}

// Supports reports whether the source lists symbol among its assets.
func (c SourceConfig) Supports(symbol string) bool {
	for _, s := range c.SupportedAssets {
		if s == symbol {
			return true
		}
	}
	return false
}

// clone returns a deep copy safe to hand out of the registry.
func (c SourceConfig) clone() SourceConfig {
	out := c
	out.SupportedAssets = append([]string(nil), c.SupportedAssets...)
	if c.LastSuccessfulFetchAt != nil {
		t := *c.LastSuccessfulFetchAt
		out.LastSuccessfulFetchAt = &t
	}
	return out
}

// Quote is a single value reported by an adapter.
type Quote struct {
	Symbol       string          `json:"symbol"`
	BaseCurrency string          `json:"base_currency"`
	Value        decimal.Decimal `json:"value"`
	ObservedAt   time.Time       `json:"observed_at"`
}

// Observation is a validated quote tagged with its source and the weight that
// source had at fetch time.
type Observation struct {
	SourceID     string          `json:"source_id"`
	Symbol       string          `json:"symbol"`
	BaseCurrency string          `json:"base_currency"`
	Value        decimal.Decimal `json:"value"`
	ObservedAt   time.Time       `json:"observed_at"`
	SourceWeight float64         `json:"source_weight"`
}

// Adapter is the contract every price provider implements. Adapters are
// untrusted: any call may fail, hang or return garbage.
type Adapter interface {
	// FetchOne returns the current quote for symbol in baseCurrency.
	// It returns ErrNoData when the provider has no value for the pair right now.
	FetchOne(ctx context.Context, symbol, baseCurrency string) (Quote, error)

	// FetchAll returns quotes for every supported asset in baseCurrency.
	FetchAll(ctx context.Context, baseCurrency string) ([]Quote, error)

	// SupportedAssets returns the asset symbols this adapter can quote.
	SupportedAssets() []string

	// Validate checks the adapter configuration.
	Validate() error
}

// AdapterFactory builds an adapter from its raw configuration map.
type AdapterFactory func(config map[string]interface{}) (Adapter, error)
