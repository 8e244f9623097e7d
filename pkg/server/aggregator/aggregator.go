package aggregator

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/StrathCole/oracle-engine/pkg/logging"
	"github.com/StrathCole/oracle-engine/pkg/metrics"
	"github.com/StrathCole/oracle-engine/pkg/server/sources"
)

// Aggregator computes one AggregatedPrice from the observations of a pair.
// It holds no per-pair state; the same inputs always give the same output.
type Aggregator struct {
	logger *logging.Logger
}

// New creates an aggregator.
func New(logger *logging.Logger) *Aggregator {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Aggregator{logger: logger.With("component", "aggregator")}
}

// Aggregate filters stale and future-dated observations, rejects outliers against the weighted
// median and returns the weighted mean of the survivors with a confidence score.
// activeCount is the number of Active sources configured for the pair and now
// is the cycle time used both for staleness and as the price timestamp.
func (a *Aggregator) Aggregate(obs []sources.Observation, pair PairConfig, activeCount int, now time.Time) AggregatedPrice {
	start := time.Now()
	defer func() {
		metrics.RecordAggregation(pair.Key(), time.Since(start))
	}()

	pair = pair.withDefaults()
	out := AggregatedPrice{
		Symbol:        pair.Symbol,
		BaseCurrency:  pair.BaseCurrency,
		Value:         decimal.Zero,
		Timestamp:     now,
		ThresholdUsed: pair.OutlierThreshold,
	}

	if len(obs) == 0 {
		return a.noData(out, NoDataNoObservations)
	}

	fresh := make([]sources.Observation, 0, len(obs))
	horizon := now.Add(pair.MaxClockSkew)
	for _, o := range obs {
		if pair.MaxStaleness > 0 && now.Sub(o.ObservedAt) > pair.MaxStaleness {
			continue
		}
		if o.ObservedAt.After(horizon) {
			continue
		}
		fresh = append(fresh, o)
	}
	out.StaleCount = len(obs) - len(fresh)
	metrics.RecordStaleDrops(pair.Key(), out.StaleCount)

	if len(fresh) == 0 {
		return a.noData(out, NoDataNoFreshData)
	}

	weights := effectiveWeights(fresh)
	items := make([]weighted, len(fresh))
	for i, o := range fresh {
		items[i] = weighted{obs: o, index: i, weight: weights[i]}
	}

	survivors, rejected, used := rejectOutliers(items, pair.OutlierThreshold, pair.WidenFactor)
	out.RejectedCount = rejected
	out.ThresholdUsed = used
	out.Contributing = make([]sources.Observation, len(survivors))
	for i, s := range survivors {
		out.Contributing[i] = s.obs
	}
	metrics.RecordOutlierRejections(pair.Key(), rejected)

	if rejected > 0 {
		a.logger.Debug("rejected outliers",
			"pair", pair.Key(),
			"rejected", rejected,
			"threshold", used,
		)
	}

	if len(survivors) < pair.MinSources {
		return a.noData(out, NoDataInsufficientSources)
	}

	out.Value = weightedMean(survivors)
	out.ConfidenceScore, out.Factors = confidence(survivors, activeCount, pair.OutlierThreshold, pair.MaxStaleness, now)
	metrics.RecordConfidence(pair.Key(), out.ConfidenceScore)

	return out
}

func (a *Aggregator) noData(out AggregatedPrice, reason NoDataReason) AggregatedPrice {
	out.NoData = true
	out.NoDataReason = reason
	out.ConfidenceScore = 0
	out.Value = decimal.Zero
	out.Factors = Factors{}
	metrics.RecordNoData(out.Key(), string(reason))
	return out
}
