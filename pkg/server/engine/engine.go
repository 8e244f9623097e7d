package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/StrathCole/oracle-engine/pkg/logging"
	"github.com/StrathCole/oracle-engine/pkg/metrics"
	"github.com/StrathCole/oracle-engine/pkg/server/aggregator"
	"github.com/StrathCole/oracle-engine/pkg/server/fetcher"
	"github.com/StrathCole/oracle-engine/pkg/server/history"
	"github.com/StrathCole/oracle-engine/pkg/server/publish"
	"github.com/StrathCole/oracle-engine/pkg/server/signer"
	"github.com/StrathCole/oracle-engine/pkg/server/sources"
)

const (
	DefaultCycleDeadline  = 10 * time.Second
	DefaultPublishTimeout = 5 * time.Second
)

// Collector gathers observations for one pair.
type Collector interface {
	Collect(ctx context.Context, symbol, base string, deadline time.Time) fetcher.Result
}

// HealthManager moves cooled-down Error sources back to Testing.
type HealthManager interface {
	ReactivateExpired(now time.Time) []string
}

var (
	_ Collector     = (*fetcher.Orchestrator)(nil)
	_ HealthManager = (*sources.Registry)(nil)
)

// Engine owns one Pipeline per pair and runs their cycles.
type Engine struct {
	collector  Collector
	health     HealthManager
	aggregator *aggregator.Aggregator
	signer     signer.Signer
	publisher  publish.Publisher
	deadline   time.Duration
	pubTimeout time.Duration
	logger     *logging.Logger
	now        func() time.Time

	mu        sync.RWMutex
	pipelines map[string]*Pipeline
	order     []string
}

// Option configures an Engine.
type Option func(*Engine)

func WithSigner(s signer.Signer) Option {
	return func(e *Engine) { e.signer = s }
}

func WithPublisher(p publish.Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithHealthManager(h HealthManager) Option {
	return func(e *Engine) { e.health = h }
}

// WithCycleDeadline bounds the collect phase of every cycle.
func WithCycleDeadline(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.deadline = d
		}
	}
}

// WithPublishTimeout bounds the publish step so a stalled sink cannot hold
// the pair's cycle.
func WithPublishTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.pubTimeout = d
		}
	}
}

// WithClock overrides the clock that stamps prices.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine without pairs.
func New(collector Collector, logger *logging.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	e := &Engine{
		collector:  collector,
		aggregator: aggregator.New(logger),
		deadline:   DefaultCycleDeadline,
		pubTimeout: DefaultPublishTimeout,
		logger:     logger.With("component", "engine"),
		now:        time.Now,
		pipelines:  make(map[string]*Pipeline),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddPair registers a pair. Invalid settings are rejected without affecting
// other pairs.
func (e *Engine) AddPair(s PairSettings) error {
	p, err := newPipeline(s)
	if err != nil {
		return err
	}
	key := s.Pair.Key()

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pipelines[key]; ok {
		return fmt.Errorf("%w: %s", ErrPairExists, key)
	}
	e.pipelines[key] = p
	e.order = append(e.order, key)
	return nil
}

// Pairs returns the registered pair keys in registration order.
func (e *Engine) Pairs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.order...)
}

func (e *Engine) pipeline(key string) (*Pipeline, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.pipelines[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPair, key)
	}
	return p, nil
}

// RunCycle runs one cycle for the pair. A cycle requested while the previous
// one is still running is skipped with ErrCycleInProgress. Source failures
// never fail a cycle; they show up as NoData or a lower confidence.
func (e *Engine) RunCycle(ctx context.Context, key string) (aggregator.AggregatedPrice, error) {
	p, err := e.pipeline(key)
	if err != nil {
		return aggregator.AggregatedPrice{}, err
	}
	if !p.running.CompareAndSwap(false, true) {
		metrics.RecordCycle(key, "coalesced", 0)
		e.logger.Debug("cycle skipped, previous still running", "pair", key)
		return aggregator.AggregatedPrice{}, ErrCycleInProgress
	}
	defer p.running.Store(false)

	start := time.Now()
	cfg := p.cfg

	if e.health != nil {
		if moved := e.health.ReactivateExpired(e.now()); len(moved) > 0 {
			e.logger.Info("sources back on probation", "sources", moved)
		}
	}

	res := e.collector.Collect(ctx, cfg.Symbol, cfg.BaseCurrency, start.Add(e.deadline))
	price := e.aggregator.Aggregate(res.Observations, cfg, res.ActiveCount, e.now())

	if last, ok := p.admit(price.Timestamp); !ok {
		metrics.RecordCycle(key, "out_of_order", time.Since(start))
		e.logger.Error("dropping out of order price",
			"pair", key,
			"timestamp", price.Timestamp,
			"last", last,
		)
		return price, fmt.Errorf("%w: %s", ErrOutOfOrder, key)
	}

	if !price.NoData && e.signer != nil {
		sig, err := e.signer.Sign(ctx, price)
		if err != nil {
			e.logger.Error("signing failed, publishing unsigned", "pair", key, "error", err)
		} else {
			price.Signature = sig
		}
	}

	sealed := e.fold(p, price)
	p.store(price)
	e.publish(ctx, price, sealed)

	result := "ok"
	if price.NoData {
		result = "no_data"
		e.logger.Warn("no data", "pair", key, "reason", string(price.NoDataReason), "stale", price.StaleCount)
	} else {
		e.logger.Debug("price aggregated",
			"pair", key,
			"value", price.Value.String(),
			"confidence", price.ConfidenceScore,
			"sources", len(price.Contributing),
			"rejected", price.RejectedCount,
		)
	}
	metrics.RecordCycle(key, result, time.Since(start))
	return price, nil
}

// fold applies a price to every interval of the pair and returns the buckets
// it sealed. NoData prices are not history.
func (e *Engine) fold(p *Pipeline, price aggregator.AggregatedPrice) []history.Bucket {
	if price.NoData {
		return nil
	}
	key := price.Key()
	tick := history.Tick{Value: price.Value, Timestamp: price.Timestamp}

	var sealed []history.Bucket
	for _, iv := range p.book.Intervals() {
		_, s, err := p.book.Fold(tick, iv.Label)
		if err != nil {
			if errors.Is(err, history.ErrLateTick) {
				metrics.RecordLateTick(key, iv.Label)
			}
			e.logger.Warn("history fold rejected", "pair", key, "interval", iv.Label, "error", err)
			continue
		}
		if s != nil {
			metrics.RecordBucketSealed(key, iv.Label)
			sealed = append(sealed, *s)
		}
	}
	return sealed
}

func (e *Engine) publish(ctx context.Context, price aggregator.AggregatedPrice, sealed []history.Bucket) {
	if e.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, e.pubTimeout)
	defer cancel()
	if err := e.publisher.PublishPrice(ctx, price); err != nil {
		e.logger.Error("publish price failed", "pair", price.Key(), "error", err)
	}
	for _, b := range sealed {
		if err := e.publisher.PublishBucket(ctx, b); err != nil {
			e.logger.Error("publish bucket failed", "pair", price.Key(), "interval", b.Interval, "error", err)
		}
	}
}

// RunAll runs one cycle for every pair concurrently and returns the prices in
// registration order. Pairs whose cycle was skipped or dropped are omitted.
func (e *Engine) RunAll(ctx context.Context) []aggregator.AggregatedPrice {
	keys := e.Pairs()
	prices := make([]*aggregator.AggregatedPrice, len(keys))

	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			price, err := e.RunCycle(ctx, key)
			if err != nil {
				e.logger.Warn("cycle did not emit", "pair", key, "error", err)
				return
			}
			prices[i] = &price
		}(i, key)
	}
	wg.Wait()

	out := make([]aggregator.AggregatedPrice, 0, len(keys))
	for _, p := range prices {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out
}

// Latest returns the last price emitted for the pair.
func (e *Engine) Latest(key string) (aggregator.AggregatedPrice, error) {
	p, err := e.pipeline(key)
	if err != nil {
		return aggregator.AggregatedPrice{}, err
	}
	price, ok := p.Latest()
	if !ok {
		return aggregator.AggregatedPrice{}, fmt.Errorf("%w: %s has not emitted yet", ErrNoPrice, key)
	}
	return price, nil
}

// LatestAll returns the last emitted price of every pair that has one.
func (e *Engine) LatestAll() []aggregator.AggregatedPrice {
	var out []aggregator.AggregatedPrice
	for _, key := range e.Pairs() {
		if price, err := e.Latest(key); err == nil {
			out = append(out, price)
		}
	}
	return out
}

// History returns up to limit buckets of the pair for interval, oldest first.
func (e *Engine) History(key, interval string, limit int, includeOpen bool) ([]history.Bucket, error) {
	p, err := e.pipeline(key)
	if err != nil {
		return nil, err
	}
	return p.book.Recent(interval, limit, includeOpen)
}
