package aggregator

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/oracle-engine/pkg/logging"
	"github.com/StrathCole/oracle-engine/pkg/server/sources"
)

var testNow = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func testPair() PairConfig {
	return PairConfig{
		Symbol:           "BTC",
		BaseCurrency:     "USD",
		MaxStaleness:     time.Minute,
		OutlierThreshold: 0.05,
		WidenFactor:      2,
		MinSources:       1,
	}
}

func observation(id, value string, weight float64, age time.Duration) sources.Observation {
	return sources.Observation{
		SourceID:     id,
		Symbol:       "BTC",
		BaseCurrency: "USD",
		Value:        decimal.RequireFromString(value),
		ObservedAt:   testNow.Add(-age),
		SourceWeight: weight,
	}
}

func newTestAggregator() *Aggregator {
	return New(logging.NewNoopLogger())
}

func contributingIDs(p AggregatedPrice) []string {
	ids := make([]string, 0, len(p.Contributing))
	for _, o := range p.Contributing {
		ids = append(ids, o.SourceID)
	}
	return ids
}

// Three agreeing sources with weights 50/30/20.
func TestAggregate_WeightedAgreement(t *testing.T) {
	obs := []sources.Observation{
		observation("a", "100", 50, 0),
		observation("b", "101", 30, 0),
		observation("c", "102", 20, 0),
	}

	p := newTestAggregator().Aggregate(obs, testPair(), 3, testNow)

	require.False(t, p.NoData)
	assert.InDelta(t, 100.7, p.Value.InexactFloat64(), 1e-9)
	assert.Equal(t, 0, p.RejectedCount)
	assert.Greater(t, p.ConfidenceScore, 80)
	assert.Equal(t, []string{"a", "b", "c"}, contributingIDs(p))
	assert.Equal(t, testNow, p.Timestamp)
	assert.InDelta(t, 1.0, p.Factors.Coverage, 1e-9)
	assert.InDelta(t, 1.0, p.Factors.Freshness, 1e-9)
}

// One manipulated source is rejected; the rest carry the value.
func TestAggregate_RejectsOutlier(t *testing.T) {
	obs := []sources.Observation{
		observation("a", "100", 1, 0),
		observation("b", "101", 1, 0),
		observation("c", "500", 1, 0),
	}

	p := newTestAggregator().Aggregate(obs, testPair(), 3, testNow)

	require.False(t, p.NoData)
	assert.Equal(t, 1, p.RejectedCount)
	assert.Equal(t, []string{"a", "b"}, contributingIDs(p))
	assert.True(t, p.Value.Equal(decimal.RequireFromString("100.5")), p.Value.String())
	assert.InDelta(t, 0.05, p.ThresholdUsed, 1e-12)
}

func TestAggregate_IdenticalValuesFullAgreement(t *testing.T) {
	for n := 1; n <= 6; n++ {
		t.Run(fmt.Sprintf("%d sources", n), func(t *testing.T) {
			obs := make([]sources.Observation, n)
			for i := range obs {
				obs[i] = observation(fmt.Sprintf("s%d", i), "42.42", float64(i+1), 0)
			}
			p := newTestAggregator().Aggregate(obs, testPair(), n, testNow)
			assert.InDelta(t, 1.0, p.Factors.Agreement, 0)
			assert.Equal(t, 100, p.ConfidenceScore)
			assert.True(t, p.Value.Equal(decimal.RequireFromString("42.42")))
		})
	}
}

func TestAggregate_NeverRejectsMoreThanHalf(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	agg := newTestAggregator()

	for iter := 0; iter < 200; iter++ {
		n := 1 + rng.Intn(9)
		obs := make([]sources.Observation, n)
		for i := range obs {
			v := decimal.NewFromFloat(1 + rng.Float64()*1000).Round(4)
			obs[i] = observation(fmt.Sprintf("s%d", i), v.String(), float64(1+rng.Intn(100)), 0)
		}

		p := agg.Aggregate(obs, testPair(), n, testNow)

		require.False(t, p.NoData)
		assert.LessOrEqual(t, p.RejectedCount*2, n, "iteration %d", iter)
		assert.Equal(t, n, p.RejectedCount+len(p.Contributing))
	}
}

func TestAggregate_RejectsEverythingAboveThreshold(t *testing.T) {
	obs := []sources.Observation{
		observation("a", "100", 1, 0),
		observation("b", "100.1", 1, 0),
		observation("c", "99.9", 1, 0),
		observation("d", "100.2", 1, 0),
		observation("e", "107", 1, 0),
	}

	p := newTestAggregator().Aggregate(obs, testPair(), 5, testNow)

	assert.Equal(t, 1, p.RejectedCount)
	assert.Equal(t, []string{"a", "b", "c", "d"}, contributingIDs(p))
}

func TestAggregate_WidensOnceWhenMajorityWouldBeRejected(t *testing.T) {
	// Median is 100; b and c deviate 7% and 8%: over 5% but within the widened 10%.
	obs := []sources.Observation{
		observation("a", "100", 1, 0),
		observation("b", "107", 1, 0),
		observation("c", "92", 1, 0),
	}

	p := newTestAggregator().Aggregate(obs, testPair(), 3, testNow)

	assert.Equal(t, 0, p.RejectedCount)
	assert.InDelta(t, 0.10, p.ThresholdUsed, 1e-12)
	assert.Len(t, p.Contributing, 3)
}

func TestAggregate_CapsRejectionsAtHalfAfterWidening(t *testing.T) {
	// Median 100; four sources far away on both sides, even after widening.
	obs := []sources.Observation{
		observation("a", "40", 1, 0),
		observation("b", "60", 1, 0),
		observation("c", "100", 1, 0),
		observation("d", "150", 1, 0),
		observation("e", "200", 1, 0),
	}

	p := newTestAggregator().Aggregate(obs, testPair(), 5, testNow)

	assert.Equal(t, 2, p.RejectedCount)
	// The two most deviant (40 at 60%, 200 at 100%) go.
	assert.Equal(t, []string{"b", "c", "d"}, contributingIDs(p))
}

func TestAggregate_CapKeepsTiesAtTheCut(t *testing.T) {
	// 50 and 150 both deviate 50% from the median 100; only one of them
	// would fit under the cap, so both stay.
	obs := []sources.Observation{
		observation("a", "50", 1, 0),
		observation("b", "60", 1, 0),
		observation("c", "100", 1, 0),
		observation("d", "150", 1, 0),
		observation("e", "200", 1, 0),
	}

	p := newTestAggregator().Aggregate(obs, testPair(), 5, testNow)

	assert.Equal(t, 1, p.RejectedCount)
	assert.Equal(t, []string{"a", "b", "c", "d"}, contributingIDs(p))
}

func TestAggregate_TwoSourceSplitDoesNotDependOnIDs(t *testing.T) {
	for _, ids := range [][2]string{{"a", "b"}, {"b", "a"}, {"zz", "aa"}} {
		obs := []sources.Observation{
			observation(ids[0], "100", 50, 0),
			observation(ids[1], "200", 50, 0),
		}

		p := newTestAggregator().Aggregate(obs, testPair(), 2, testNow)

		require.False(t, p.NoData)
		assert.Equal(t, 0, p.RejectedCount, ids)
		assert.Len(t, p.Contributing, 2, ids)
		assert.True(t, p.Value.Equal(decimal.NewFromInt(150)), p.Value.String())
		assert.InDelta(t, 0.0, p.Factors.Agreement, 1e-12)
		assert.Equal(t, 1, p.ConfidenceScore)
	}
}

func TestAggregate_Idempotent(t *testing.T) {
	obs := []sources.Observation{
		observation("a", "100.123456789", 13, 5*time.Second),
		observation("b", "100.987654321", 7, 10*time.Second),
		observation("c", "99.5", 42, 0),
		observation("d", "130", 5, 0),
	}
	agg := newTestAggregator()

	first := agg.Aggregate(obs, testPair(), 4, testNow)
	second := agg.Aggregate(obs, testPair(), 4, testNow)

	assert.Equal(t, first, second)
	assert.Equal(t, first.Value.String(), second.Value.String())

	// Input order does not matter for value or score.
	reversed := []sources.Observation{obs[3], obs[2], obs[1], obs[0]}
	third := agg.Aggregate(reversed, testPair(), 4, testNow)
	assert.True(t, first.Value.Equal(third.Value))
	assert.Equal(t, first.ConfidenceScore, third.ConfidenceScore)
	assert.Equal(t, first.RejectedCount, third.RejectedCount)
}

func TestAggregate_NoObservations(t *testing.T) {
	p := newTestAggregator().Aggregate(nil, testPair(), 3, testNow)

	assert.True(t, p.NoData)
	assert.Equal(t, NoDataNoObservations, p.NoDataReason)
	assert.Equal(t, 0, p.ConfidenceScore)
	assert.True(t, p.Value.IsZero())
	assert.Equal(t, "BTC", p.Symbol)
}

func TestAggregate_StaleObservations(t *testing.T) {
	obs := []sources.Observation{
		observation("a", "100", 1, 2*time.Minute),
		observation("b", "101", 1, 90*time.Second),
	}

	p := newTestAggregator().Aggregate(obs, testPair(), 2, testNow)

	assert.True(t, p.NoData)
	assert.Equal(t, NoDataNoFreshData, p.NoDataReason)
	assert.Equal(t, 2, p.StaleCount)
	assert.Equal(t, 0, p.RejectedCount)
}

func TestAggregate_StaleDropsAreReportedSeparately(t *testing.T) {
	obs := []sources.Observation{
		observation("a", "100", 1, 0),
		observation("b", "100", 1, 2*time.Minute),
		observation("c", "100", 1, 30*time.Second),
	}

	p := newTestAggregator().Aggregate(obs, testPair(), 3, testNow)

	require.False(t, p.NoData)
	assert.Equal(t, 1, p.StaleCount)
	assert.Equal(t, 0, p.RejectedCount)
	assert.Equal(t, []string{"a", "c"}, contributingIDs(p))
	// Oldest survivor is 30s old out of 60s.
	assert.InDelta(t, 0.5, p.Factors.Freshness, 1e-9)
	assert.InDelta(t, 2.0/3.0, p.Factors.Coverage, 1e-9)
	assert.Equal(t, 33, p.ConfidenceScore)
}

func TestAggregate_FutureDatedObservationsAreDropped(t *testing.T) {
	obs := []sources.Observation{
		observation("a", "100", 1, -10*time.Hour),
		observation("b", "101", 1, -2*time.Second),
	}

	p := newTestAggregator().Aggregate(obs, testPair(), 2, testNow)

	require.False(t, p.NoData)
	assert.Equal(t, 1, p.StaleCount)
	assert.Equal(t, []string{"b"}, contributingIDs(p))

	p = newTestAggregator().Aggregate(obs[:1], testPair(), 1, testNow)
	assert.True(t, p.NoData)
	assert.Equal(t, NoDataNoFreshData, p.NoDataReason)
	assert.Equal(t, 0, p.ConfidenceScore)
}

func TestAggregate_SingleSourceCoveragePenalty(t *testing.T) {
	obs := []sources.Observation{observation("a", "100", 10, 0)}

	p := newTestAggregator().Aggregate(obs, testPair(), 4, testNow)

	require.False(t, p.NoData)
	assert.InDelta(t, 1.0, p.Factors.Agreement, 0)
	assert.InDelta(t, 0.25, p.Factors.Coverage, 1e-9)
	assert.Equal(t, 25, p.ConfidenceScore)
}

func TestAggregate_MinSources(t *testing.T) {
	pair := testPair()
	pair.MinSources = 3
	obs := []sources.Observation{
		observation("a", "100", 1, 0),
		observation("b", "100", 1, 0),
	}

	p := newTestAggregator().Aggregate(obs, pair, 2, testNow)

	assert.True(t, p.NoData)
	assert.Equal(t, NoDataInsufficientSources, p.NoDataReason)
	assert.Equal(t, 0, p.ConfidenceScore)
	assert.Len(t, p.Contributing, 2)
}

func TestAggregate_ScoreNeverZeroWithContributors(t *testing.T) {
	// Oldest observation almost at max staleness: freshness near 0.
	obs := []sources.Observation{observation("a", "100", 1, 59*time.Second+900*time.Millisecond)}

	p := newTestAggregator().Aggregate(obs, testPair(), 1, testNow)

	require.False(t, p.NoData)
	assert.Equal(t, 1, p.ConfidenceScore)
}

func TestAggregate_ZeroWeightsFallBackToEqual(t *testing.T) {
	obs := []sources.Observation{
		observation("a", "100", 0, 0),
		observation("b", "102", 0, 0),
	}

	p := newTestAggregator().Aggregate(obs, testPair(), 2, testNow)

	assert.True(t, p.Value.Equal(decimal.NewFromInt(101)), p.Value.String())
}

func TestAggregate_ZeroWeightSourceDoesNotMoveTheMean(t *testing.T) {
	obs := []sources.Observation{
		observation("a", "100", 1, 0),
		observation("b", "100.5", 1, 0),
		observation("z", "100.4", 0, 0),
	}

	p := newTestAggregator().Aggregate(obs, testPair(), 3, testNow)

	require.False(t, p.NoData)
	assert.Equal(t, 0, p.RejectedCount)
	assert.True(t, p.Value.Equal(decimal.RequireFromString("100.25")), p.Value.String())
}

func TestWeightedMedian(t *testing.T) {
	mk := func(vals []string, weights []float64) []weighted {
		out := make([]weighted, len(vals))
		for i := range vals {
			out[i] = weighted{obs: observation(fmt.Sprintf("s%d", i), vals[i], weights[i], 0), index: i, weight: weights[i]}
		}
		return out
	}

	tests := []struct {
		name    string
		vals    []string
		weights []float64
		want    string
	}{
		{"single", []string{"5"}, []float64{1}, "5"},
		{"odd equal", []string{"3", "1", "2"}, []float64{1, 1, 1}, "2"},
		{"even equal averages", []string{"1", "2", "3", "4"}, []float64{1, 1, 1, 1}, "2.5"},
		{"heavy low value", []string{"1", "2", "3"}, []float64{10, 1, 1}, "1"},
		{"heavy high value", []string{"1", "2", "3"}, []float64{1, 1, 10}, "3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := weightedMedian(mk(tt.vals, tt.weights))
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}

func TestPairConfigValidate(t *testing.T) {
	assert.NoError(t, testPair().Validate())

	bad := testPair()
	bad.MaxStaleness = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidPairConfig)

	bad = testPair()
	bad.OutlierThreshold = -0.1
	assert.ErrorIs(t, bad.Validate(), ErrInvalidPairConfig)

	bad = testPair()
	bad.WidenFactor = 0.5
	assert.ErrorIs(t, bad.Validate(), ErrInvalidPairConfig)

	bad = testPair()
	bad.MaxClockSkew = -time.Second
	assert.ErrorIs(t, bad.Validate(), ErrInvalidPairConfig)
}
