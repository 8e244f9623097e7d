package fetcher

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/StrathCole/oracle-engine/pkg/logging"
	"github.com/StrathCole/oracle-engine/pkg/metrics"
	"github.com/StrathCole/oracle-engine/pkg/server/sources"
)

// OutcomeKind classifies the result of one fetch call.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeEmpty   OutcomeKind = "empty"
	OutcomeFailure OutcomeKind = "failure"
	OutcomeTimeout OutcomeKind = "timeout"
)

// Outcome is the resolved result of one source for one collect call.
type Outcome struct {
	SourceID string        `json:"source_id"`
	Kind     OutcomeKind   `json:"kind"`
	Err      error         `json:"-"`
	Latency  time.Duration `json:"latency"`
}

// Result is what one Collect call produced.
type Result struct {
	// Observations from Active sources, in registration order.
	Observations []sources.Observation
	// ActiveCount is the number of Active sources for the pair when the collect started.
	ActiveCount int
	Outcomes    []Outcome
}

// Registry is the subset of the source registry the orchestrator needs.
type Registry interface {
	ListEligible(symbol string) []sources.SourceConfig
	Adapter(id string) (sources.Adapter, error)
	ReportOutcome(id string, success bool, observedAt time.Time) error
}

var _ Registry = (*sources.Registry)(nil)

// DefaultMaxClockSkew is how far ahead of the local clock a quote may be stamped.
const DefaultMaxClockSkew = 5 * time.Second

// Orchestrator runs concurrent, independently bounded fetches.
type Orchestrator struct {
	registry   Registry
	maxWorkers int
	maxSkew    time.Duration
	logger     *logging.Logger
	now        func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxWorkers caps the worker pool. Zero or less means one worker per eligible source.
func WithMaxWorkers(n int) Option {
	return func(o *Orchestrator) { o.maxWorkers = n }
}

// WithMaxClockSkew sets how far in the future a quote may be stamped before it
// counts as a failure. Zero or less keeps DefaultMaxClockSkew.
func WithMaxClockSkew(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.maxSkew = d
		}
	}
}

// WithClock overrides the clock used to stamp observations that lack a provider time.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator over registry.
func New(registry Registry, logger *logging.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	o := &Orchestrator{
		registry: registry,
		maxSkew:  DefaultMaxClockSkew,
		logger:   logger.With("component", "fetcher"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type job struct {
	index int
	src   sources.SourceConfig
}

type result struct {
	index   int
	quote   sources.Quote
	err     error
	latency time.Duration
}

// Collect fetches symbol/base from every eligible source and returns when all
// of them resolved or deadline passed, whichever comes first. Sources that did
// not resolve in time count as failures and their late results are dropped.
// Source errors never surface as an error of Collect.
func (o *Orchestrator) Collect(ctx context.Context, symbol, base string, deadline time.Time) Result {
	start := time.Now()
	eligible := o.registry.ListEligible(symbol)

	res := Result{}
	for _, src := range eligible {
		if src.Status == sources.StatusActive {
			res.ActiveCount++
		}
	}
	if len(eligible) == 0 {
		return res
	}

	cycleCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	workers := len(eligible)
	if o.maxWorkers > 0 && o.maxWorkers < workers {
		workers = o.maxWorkers
	}

	jobs := make(chan job, len(eligible))
	// Buffered so workers never block on a collector that already returned.
	results := make(chan result, len(eligible))

	for i := 0; i < workers; i++ {
		go o.worker(cycleCtx, symbol, base, jobs, results)
	}
	for i, src := range eligible {
		jobs <- job{index: i, src: src}
	}
	close(jobs)

	resolved := make([]*result, len(eligible))
	pending := len(eligible)

collect:
	for pending > 0 {
		select {
		case r := <-results:
			resolved[r.index] = &r
			pending--
		case <-cycleCtx.Done():
			break collect
		}
	}

	for i, src := range eligible {
		r := resolved[i]
		if r == nil {
			r = &result{index: i, err: fmt.Errorf("%w: cycle deadline", ErrTimeout), latency: time.Since(start)}
		}
		outcome, obs := o.resolve(src, symbol, base, r)
		res.Outcomes = append(res.Outcomes, outcome)
		if obs != nil && src.Status == sources.StatusActive {
			res.Observations = append(res.Observations, *obs)
		}
	}

	return res
}

func (o *Orchestrator) worker(ctx context.Context, symbol, base string, jobs <-chan job, results chan<- result) {
	for j := range jobs {
		results <- o.fetch(ctx, symbol, base, j)
	}
}

// fetch runs one adapter call bounded by the source timeout. The call runs in
// its own goroutine so that an adapter ignoring its context cannot hold the worker.
func (o *Orchestrator) fetch(ctx context.Context, symbol, base string, j job) result {
	start := time.Now()

	if ctx.Err() != nil {
		return result{index: j.index, err: fmt.Errorf("%w: cycle deadline", ErrTimeout)}
	}

	adapter, err := o.registry.Adapter(j.src.ID)
	if err != nil {
		return result{index: j.index, err: err}
	}

	timeout := j.src.Policy.Timeout
	if timeout <= 0 {
		timeout = sources.DefaultTimeout
	}
	srcCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		quote sources.Quote
		err   error
	}
	done := make(chan reply, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				o.logger.Error("adapter panicked", "source", j.src.ID, "panic", p, "stack", string(debug.Stack()))
				done <- reply{err: fmt.Errorf("adapter panic: %v", p)}
			}
		}()
		q, err := adapter.FetchOne(srcCtx, symbol, base)
		done <- reply{quote: q, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil && srcCtx.Err() != nil {
			r.err = fmt.Errorf("%w: %w", ErrTimeout, srcCtx.Err())
		}
		return result{index: j.index, quote: r.quote, err: r.err, latency: time.Since(start)}
	case <-srcCtx.Done():
		return result{index: j.index, err: fmt.Errorf("%w: %w", ErrTimeout, srcCtx.Err()), latency: time.Since(start)}
	}
}

// resolve classifies a result, validates the quote and reports the outcome.
func (o *Orchestrator) resolve(src sources.SourceConfig, symbol, base string, r *result) (Outcome, *sources.Observation) {
	outcome := Outcome{SourceID: src.ID, Latency: r.latency}
	var obs *sources.Observation

	err := r.err
	if err == nil {
		err = validateQuote(r.quote, symbol, base, o.now().Add(o.maxSkew))
	}

	switch {
	case err == nil:
		observedAt := r.quote.ObservedAt
		if observedAt.IsZero() {
			observedAt = o.now()
		}
		outcome.Kind = OutcomeSuccess
		obs = &sources.Observation{
			SourceID:     src.ID,
			Symbol:       symbol,
			BaseCurrency: base,
			Value:        r.quote.Value,
			ObservedAt:   observedAt,
			SourceWeight: src.Weight,
		}
		o.report(src.ID, true, observedAt)
	case errors.Is(err, sources.ErrNoData):
		outcome.Kind = OutcomeEmpty
		outcome.Err = err
		o.report(src.ID, false, time.Time{})
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		outcome.Kind = OutcomeTimeout
		outcome.Err = err
		o.report(src.ID, false, time.Time{})
	default:
		outcome.Kind = OutcomeFailure
		outcome.Err = err
		o.report(src.ID, false, time.Time{})
	}

	metrics.RecordFetch(src.ID, string(outcome.Kind), outcome.Latency)
	if outcome.Err != nil {
		o.logger.Debug("source fetch did not succeed",
			"source", src.ID,
			"symbol", symbol,
			"base", base,
			"outcome", string(outcome.Kind),
			"error", outcome.Err,
		)
	}
	return outcome, obs
}

func (o *Orchestrator) report(id string, success bool, observedAt time.Time) {
	if err := o.registry.ReportOutcome(id, success, observedAt); err != nil {
		// Source removed while the fetch was in flight.
		o.logger.Warn("failed to report outcome", "source", id, "error", err)
	}
}

func validateQuote(q sources.Quote, symbol, base string, horizon time.Time) error {
	if !q.Value.IsPositive() {
		return fmt.Errorf("%w: %s", ErrNonPositiveValue, q.Value.String())
	}
	if q.ObservedAt.After(horizon) {
		return fmt.Errorf("%w: %s", ErrFutureTimestamp, q.ObservedAt.Format(time.RFC3339))
	}
	if q.Symbol != "" && !strings.EqualFold(q.Symbol, symbol) {
		return fmt.Errorf("%w: got %s", ErrPairMismatch, q.Symbol)
	}
	if q.BaseCurrency != "" && !strings.EqualFold(q.BaseCurrency, base) {
		return fmt.Errorf("%w: got base %s", ErrPairMismatch, q.BaseCurrency)
	}
	return nil
}
