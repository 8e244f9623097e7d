package aggregator

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/StrathCole/oracle-engine/pkg/server/sources"
)

// Defaults applied by PairConfig.withDefaults.
const (
	DefaultOutlierThreshold = 0.05
	DefaultWidenFactor      = 2.0
	DefaultMinSources       = 1
	DefaultMaxClockSkew     = 5 * time.Second
)

// NoDataReason explains why a cycle produced no value.
type NoDataReason string

const (
	NoDataNoObservations      NoDataReason = "no_observations"
	NoDataNoFreshData         NoDataReason = "no_fresh_data"
	NoDataInsufficientSources NoDataReason = "insufficient_sources"
)

// PairConfig holds the aggregation parameters of one pair.
type PairConfig struct {
	Symbol       string
	BaseCurrency string
	MaxStaleness time.Duration
	// OutlierThreshold is a fraction, 0.05 means 5%.
	OutlierThreshold float64
	WidenFactor      float64
	MinSources       int
	// MaxClockSkew is how far past now an observation may be stamped before
	// it is dropped as stale.
	MaxClockSkew time.Duration
}

// Key returns "SYMBOL/BASE".
func (p PairConfig) Key() string {
	return p.Symbol + "/" + p.BaseCurrency
}

// Validate rejects configurations the aggregator cannot work with.
func (p PairConfig) Validate() error {
	switch {
	case p.Symbol == "" || p.BaseCurrency == "":
		return fmt.Errorf("%w: symbol and base currency are required", ErrInvalidPairConfig)
	case p.MaxStaleness <= 0:
		return fmt.Errorf("%w: %s max staleness must be positive", ErrInvalidPairConfig, p.Key())
	case p.OutlierThreshold < 0:
		return fmt.Errorf("%w: %s outlier threshold must not be negative", ErrInvalidPairConfig, p.Key())
	case p.WidenFactor != 0 && p.WidenFactor < 1:
		return fmt.Errorf("%w: %s widen factor must be >= 1", ErrInvalidPairConfig, p.Key())
	case p.MinSources < 0:
		return fmt.Errorf("%w: %s min sources must not be negative", ErrInvalidPairConfig, p.Key())
	case p.MaxClockSkew < 0:
		return fmt.Errorf("%w: %s max clock skew must not be negative", ErrInvalidPairConfig, p.Key())
	}
	return nil
}

func (p PairConfig) withDefaults() PairConfig {
	if p.OutlierThreshold <= 0 {
		p.OutlierThreshold = DefaultOutlierThreshold
	}
	if p.WidenFactor < 1 {
		p.WidenFactor = DefaultWidenFactor
	}
	if p.MinSources <= 0 {
		p.MinSources = DefaultMinSources
	}
	if p.MaxClockSkew <= 0 {
		p.MaxClockSkew = DefaultMaxClockSkew
	}
	return p
}

// Factors are the confidence components, each in [0, 1].
type Factors struct {
	Coverage  float64 `json:"coverage"`
	Freshness float64 `json:"freshness"`
	Agreement float64 `json:"agreement"`
}

// AggregatedPrice is the output of one aggregation cycle. It is never
// modified after the engine hands it to publishers.
type AggregatedPrice struct {
	Symbol          string                `json:"symbol"`
	BaseCurrency    string                `json:"base_currency"`
	Value           decimal.Decimal       `json:"value"`
	Timestamp       time.Time             `json:"timestamp"`
	ConfidenceScore int                   `json:"confidence_score"`
	Contributing    []sources.Observation `json:"contributing_observations"`
	RejectedCount   int                   `json:"rejected_count"`
	// StaleCount includes observations stamped too far in the future.
	StaleCount int `json:"stale_count"`
	// ThresholdUsed is the outlier threshold after the optional widening pass.
	ThresholdUsed float64      `json:"threshold_used"`
	NoData        bool         `json:"no_data"`
	NoDataReason  NoDataReason `json:"no_data_reason,omitempty"`
	Factors       Factors      `json:"factors"`
	Signature     []byte       `json:"signature,omitempty"`
}

// Key returns "SYMBOL/BASE".
func (p AggregatedPrice) Key() string {
	return p.Symbol + "/" + p.BaseCurrency
}
