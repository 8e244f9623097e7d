package fetcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/oracle-engine/pkg/logging"
	"github.com/StrathCole/oracle-engine/pkg/server/sources"
)

// fakeAdapter answers FetchOne with a configurable behaviour.
type fakeAdapter struct {
	value decimal.Decimal
	err   error
	delay time.Duration
	// ignoreCtx makes the adapter sleep through cancellation.
	ignoreCtx bool
	panics    bool
	calls     atomic.Int32
}

func (f *fakeAdapter) FetchOne(ctx context.Context, symbol, base string) (sources.Quote, error) {
	f.calls.Add(1)
	if f.panics {
		panic("boom")
	}
	if f.delay > 0 {
		if f.ignoreCtx {
			time.Sleep(f.delay)
		} else {
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
				return sources.Quote{}, ctx.Err()
			}
		}
	}
	if f.err != nil {
		return sources.Quote{}, f.err
	}
	return sources.Quote{Symbol: symbol, BaseCurrency: base, Value: f.value}, nil
}

func (f *fakeAdapter) FetchAll(context.Context, string) ([]sources.Quote, error) { return nil, nil }
func (f *fakeAdapter) SupportedAssets() []string                                 { return []string{"BTC"} }
func (f *fakeAdapter) Validate() error                                           { return nil }

func value(v string) *fakeAdapter {
	return &fakeAdapter{value: decimal.RequireFromString(v)}
}

type fixture struct {
	registry *sources.Registry
	orch     *Orchestrator
	now      time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	reg := sources.NewRegistry(logging.NewNoopLogger())
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	return &fixture{
		registry: reg,
		orch:     New(reg, logging.NewNoopLogger(), opts...),
		now:      now,
	}
}

func (f *fixture) add(t *testing.T, id string, weight float64, timeout time.Duration, a sources.Adapter) {
	t.Helper()
	require.NoError(t, f.registry.Add(sources.SourceConfig{
		ID:              id,
		Weight:          weight,
		SupportedAssets: []string{"BTC"},
		Policy:          sources.Policy{Timeout: timeout, FailureThreshold: 3},
	}, a))
}

func (f *fixture) collect(d time.Duration) Result {
	return f.orch.Collect(context.Background(), "BTC", "USD", time.Now().Add(d))
}

func outcomeKinds(res Result) map[string]OutcomeKind {
	out := make(map[string]OutcomeKind, len(res.Outcomes))
	for _, o := range res.Outcomes {
		out[o.SourceID] = o.Kind
	}
	return out
}

func TestCollect_MixedOutcomes(t *testing.T) {
	f := newFixture(t)
	f.add(t, "good", 50, time.Second, value("100"))
	f.add(t, "broken", 30, time.Second, &fakeAdapter{err: errors.New("connection refused")})
	f.add(t, "empty", 20, time.Second, &fakeAdapter{err: sources.ErrNoData})
	f.add(t, "slow", 10, 50*time.Millisecond, &fakeAdapter{value: decimal.NewFromInt(1), delay: time.Second})
	f.add(t, "zero", 10, time.Second, value("0"))

	res := f.collect(2 * time.Second)

	require.Len(t, res.Observations, 1)
	obs := res.Observations[0]
	assert.Equal(t, "good", obs.SourceID)
	assert.InDelta(t, 50.0, obs.SourceWeight, 1e-9)
	assert.Equal(t, f.now, obs.ObservedAt)
	assert.Equal(t, 5, res.ActiveCount)

	assert.Equal(t, map[string]OutcomeKind{
		"good":   OutcomeSuccess,
		"broken": OutcomeFailure,
		"empty":  OutcomeEmpty,
		"slow":   OutcomeTimeout,
		"zero":   OutcomeFailure,
	}, outcomeKinds(res))

	for _, id := range []string{"broken", "empty", "slow", "zero"} {
		cfg, err := f.registry.Get(id)
		require.NoError(t, err)
		assert.Equal(t, 1, cfg.ConsecutiveFailures, id)
	}
	good, _ := f.registry.Get("good")
	require.NotNil(t, good.LastSuccessfulFetchAt)
}

func TestCollect_HangingSourceDoesNotStallCycle(t *testing.T) {
	f := newFixture(t)
	f.add(t, "fast", 1, time.Second, value("100"))
	f.add(t, "hung", 1, 50*time.Millisecond, &fakeAdapter{value: decimal.NewFromInt(1), delay: 3 * time.Second, ignoreCtx: true})

	start := time.Now()
	res := f.collect(5 * time.Second)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, time.Second)
	require.Len(t, res.Observations, 1)
	assert.Equal(t, OutcomeTimeout, outcomeKinds(res)["hung"])
}

func TestCollect_CycleDeadlineIsHardCutoff(t *testing.T) {
	f := newFixture(t)
	f.add(t, "fast", 1, time.Second, value("100"))
	f.add(t, "slow", 1, 10*time.Second, &fakeAdapter{value: decimal.NewFromInt(1), delay: 5 * time.Second, ignoreCtx: true})

	start := time.Now()
	res := f.collect(100 * time.Millisecond)

	assert.Less(t, time.Since(start), time.Second)
	require.Len(t, res.Observations, 1)
	assert.Equal(t, "fast", res.Observations[0].SourceID)
	assert.Equal(t, OutcomeTimeout, outcomeKinds(res)["slow"])

	slow, _ := f.registry.Get("slow")
	assert.Equal(t, 1, slow.ConsecutiveFailures)
}

// All sources fail: no observations, every failure counter increments.
func TestCollect_AllSourcesFail(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"a", "b", "c"} {
		f.add(t, id, 1, 20*time.Millisecond, &fakeAdapter{value: decimal.NewFromInt(1), delay: time.Second})
	}

	res := f.collect(time.Second)

	assert.Empty(t, res.Observations)
	assert.Equal(t, 3, res.ActiveCount)
	for _, id := range []string{"a", "b", "c"} {
		cfg, _ := f.registry.Get(id)
		assert.Equal(t, 1, cfg.ConsecutiveFailures, id)
	}
}

func TestCollect_TestingSourceIsFetchedNotAggregated(t *testing.T) {
	f := newFixture(t)
	f.add(t, "active", 1, time.Second, value("100"))
	trial := value("101")
	require.NoError(t, f.registry.Add(sources.SourceConfig{
		ID:              "trial",
		Status:          sources.StatusError,
		SupportedAssets: []string{"BTC"},
	}, trial))
	require.NoError(t, f.registry.Reactivate("trial"))

	res := f.collect(time.Second)

	require.Len(t, res.Observations, 1)
	assert.Equal(t, "active", res.Observations[0].SourceID)
	assert.Equal(t, 1, res.ActiveCount)
	assert.Equal(t, int32(1), trial.calls.Load())

	cfg, _ := f.registry.Get("trial")
	assert.Equal(t, sources.StatusActive, cfg.Status)
}

func TestCollect_ErrorSourcesAreNotQueried(t *testing.T) {
	f := newFixture(t)
	down := value("100")
	require.NoError(t, f.registry.Add(sources.SourceConfig{
		ID:              "down",
		Status:          sources.StatusError,
		SupportedAssets: []string{"BTC"},
	}, down))

	res := f.collect(time.Second)

	assert.Empty(t, res.Outcomes)
	assert.Zero(t, down.calls.Load())
}

func TestCollect_BoundedWorkersStillCollectAll(t *testing.T) {
	f := newFixture(t, WithMaxWorkers(1))
	f.add(t, "a", 1, time.Second, value("100"))
	f.add(t, "b", 1, time.Second, value("101"))
	f.add(t, "c", 1, time.Second, value("102"))

	res := f.collect(time.Second)

	require.Len(t, res.Observations, 3)
	assert.Equal(t, "a", res.Observations[0].SourceID)
	assert.Equal(t, "b", res.Observations[1].SourceID)
	assert.Equal(t, "c", res.Observations[2].SourceID)
}

func TestCollect_AdapterPanicIsFailure(t *testing.T) {
	f := newFixture(t)
	f.add(t, "panics", 1, time.Second, &fakeAdapter{panics: true})
	f.add(t, "good", 1, time.Second, value("100"))

	res := f.collect(time.Second)

	require.Len(t, res.Observations, 1)
	assert.Equal(t, OutcomeFailure, outcomeKinds(res)["panics"])
}

func TestCollect_NoEligibleSources(t *testing.T) {
	f := newFixture(t)
	res := f.collect(time.Second)
	assert.Empty(t, res.Observations)
	assert.Zero(t, res.ActiveCount)
}

func TestCollect_PairMismatchIsFailure(t *testing.T) {
	f := newFixture(t)
	f.add(t, "wrong", 1, time.Second, &mismatchAdapter{})

	res := f.collect(time.Second)
	assert.Empty(t, res.Observations)
	assert.Equal(t, OutcomeFailure, outcomeKinds(res)["wrong"])
}

func TestCollect_FutureDatedQuoteIsFailure(t *testing.T) {
	f := newFixture(t, WithMaxClockSkew(2*time.Second))
	f.add(t, "ahead", 1, time.Second, &datedAdapter{at: f.now.Add(10 * time.Hour)})
	f.add(t, "skewed", 1, time.Second, &datedAdapter{at: f.now.Add(time.Second)})

	res := f.collect(time.Second)

	require.Len(t, res.Observations, 1)
	assert.Equal(t, "skewed", res.Observations[0].SourceID)
	assert.Equal(t, OutcomeFailure, outcomeKinds(res)["ahead"])

	ahead, _ := f.registry.Get("ahead")
	assert.Equal(t, 1, ahead.ConsecutiveFailures)
	assert.Nil(t, ahead.LastSuccessfulFetchAt)
}

type datedAdapter struct {
	fakeAdapter
	at time.Time
}

func (d *datedAdapter) FetchOne(_ context.Context, symbol, base string) (sources.Quote, error) {
	return sources.Quote{Symbol: symbol, BaseCurrency: base, Value: decimal.NewFromInt(100), ObservedAt: d.at}, nil
}

type mismatchAdapter struct{ fakeAdapter }

func (m *mismatchAdapter) FetchOne(context.Context, string, string) (sources.Quote, error) {
	return sources.Quote{Symbol: "ETH", BaseCurrency: "USD", Value: decimal.NewFromInt(5)}, nil
}
