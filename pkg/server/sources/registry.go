package sources

import (
	"fmt"
	"sync"
	"time"

	"github.com/StrathCole/oracle-engine/pkg/logging"
	"github.com/StrathCole/oracle-engine/pkg/metrics"
)

// entry pairs a source's configuration with its adapter. Health fields are
// guarded by the entry's own mutex so that sources never contend with each other.
type entry struct {
	mu      sync.Mutex
	cfg     SourceConfig
	adapter Adapter
}

// Registry holds configured sources, their adapters and their health state.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	logger  *logging.Logger
	now     func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock overrides the registry clock.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logging.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	r := &Registry{
		entries: make(map[string]*entry),
		logger:  logger.With("component", "registry"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add registers a source with its adapter. The weight is stored as given; a
// zero weight gives the source no influence unless every weight is zero. An
// empty status defaults to Active.
func (r *Registry) Add(cfg SourceConfig, adapter Adapter) error {
	if cfg.ID == "" {
		return fmt.Errorf("%w: source id is required", ErrInvalidConfig)
	}
	if adapter == nil {
		return fmt.Errorf("%w: %s", ErrNilAdapter, cfg.ID)
	}
	if cfg.Weight < 0 || cfg.Weight > MaxWeight {
		return fmt.Errorf("%w: %s has %v", ErrInvalidWeight, cfg.ID, cfg.Weight)
	}
	if cfg.Status == "" {
		cfg.Status = StatusActive
	}
	if len(cfg.SupportedAssets) == 0 {
		cfg.SupportedAssets = adapter.SupportedAssets()
	}
	cfg.Policy = cfg.Policy.withDefaults()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[cfg.ID]; exists {
		return fmt.Errorf("%w: %s", ErrSourceExists, cfg.ID)
	}
	r.entries[cfg.ID] = &entry{cfg: cfg.clone(), adapter: adapter}
	r.order = append(r.order, cfg.ID)

	metrics.RecordSourceStatus(cfg.ID, string(cfg.Status))
	return nil
}

// Remove unregisters a source.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	delete(r.entries, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	return e, nil
}

// snapshot returns entries in registration order.
func (r *Registry) snapshot() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id])
	}
	return out
}

// Get returns a copy of the source configuration.
func (r *Registry) Get(id string) (SourceConfig, error) {
	e, err := r.lookup(id)
	if err != nil {
		return SourceConfig{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.clone(), nil
}

// Adapter returns the adapter registered for id.
func (r *Registry) Adapter(id string) (Adapter, error) {
	e, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.adapter, nil
}

// List returns copies of every source in registration order.
func (r *Registry) List() []SourceConfig {
	entries := r.snapshot()
	out := make([]SourceConfig, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.cfg.clone())
		e.mu.Unlock()
	}
	return out
}

// ListActiveSources returns Active sources supporting symbol, in registration order.
func (r *Registry) ListActiveSources(symbol string) []SourceConfig {
	return r.filter(symbol, func(s Status) bool { return s == StatusActive })
}

// ListEligible returns sources that should be fetched for symbol: Active ones
// plus Testing ones, which are fetched on probation but never aggregated.
func (r *Registry) ListEligible(symbol string) []SourceConfig {
	return r.filter(symbol, func(s Status) bool { return s == StatusActive || s == StatusTesting })
}

func (r *Registry) filter(symbol string, keep func(Status) bool) []SourceConfig {
	entries := r.snapshot()
	out := make([]SourceConfig, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if keep(e.cfg.Status) && e.cfg.Supports(symbol) {
			out = append(out, e.cfg.clone())
		}
		e.mu.Unlock()
	}
	return out
}

// SetWeight updates a source weight. Observations already taken keep the
// weight they were fetched with.
func (r *Registry) SetWeight(id string, weight float64) error {
	if weight < 0 || weight > MaxWeight {
		return fmt.Errorf("%w: %v", ErrInvalidWeight, weight)
	}
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.cfg.Weight = weight
	e.mu.Unlock()
	return nil
}

// SetEnabled moves a source to Inactive or back to Active. Only operators use it.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if enabled {
		if e.cfg.Status != StatusInactive {
			return nil
		}
		e.cfg.Status = StatusActive
		e.cfg.ConsecutiveFailures = 0
	} else {
		e.cfg.Status = StatusInactive
	}
	e.cfg.ErrorSince = time.Time{}
	metrics.RecordSourceStatus(id, string(e.cfg.Status))
	return nil
}

// ReportOutcome records the result of one fetch and advances the health state.
//
// Success moves Active, Testing and Error sources to Active and resets the
// failure counter. Failure increments the counter; an Active source moves to
// Error when the counter reaches its threshold, a Testing source moves back to
// Error immediately. Inactive sources keep their status.
func (r *Registry) ReportOutcome(id string, success bool, observedAt time.Time) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.cfg.Status
	if success {
		e.cfg.ConsecutiveFailures = 0
		if e.cfg.LastSuccessfulFetchAt == nil || observedAt.After(*e.cfg.LastSuccessfulFetchAt) {
			t := observedAt
			e.cfg.LastSuccessfulFetchAt = &t
		}
		if prev != StatusInactive {
			e.cfg.Status = StatusActive
			e.cfg.ErrorSince = time.Time{}
		}
		metrics.RecordSourceSuccess(id, observedAt)
	} else {
		e.cfg.ConsecutiveFailures++
		switch {
		case prev == StatusTesting:
			r.toError(e)
		case prev == StatusActive && e.cfg.ConsecutiveFailures >= e.cfg.Policy.FailureThreshold:
			r.toError(e)
		}
	}

	if e.cfg.Status != prev {
		r.logger.Info("source status changed",
			"source", id,
			"from", string(prev),
			"to", string(e.cfg.Status),
			"consecutive_failures", e.cfg.ConsecutiveFailures,
		)
		metrics.RecordSourceStatus(id, string(e.cfg.Status))
	}
	return nil
}

func (r *Registry) toError(e *entry) {
	e.cfg.Status = StatusError
	e.cfg.ErrorSince = r.now()
}

// Reactivate moves a source from Error to Testing. The next successful fetch
// promotes it to Active.
func (r *Registry) Reactivate(id string) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cfg.Status != StatusError {
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, e.cfg.Status)
	}
	r.toTesting(e)
	return nil
}

// ReactivateExpired moves every Error source whose cooldown has elapsed at now
// to Testing and returns their ids.
func (r *Registry) ReactivateExpired(now time.Time) []string {
	var moved []string
	for _, e := range r.snapshot() {
		e.mu.Lock()
		cooldown := e.cfg.Policy.Cooldown
		if e.cfg.Status == StatusError && cooldown > 0 && !now.Before(e.cfg.ErrorSince.Add(cooldown)) {
			r.toTesting(e)
			moved = append(moved, e.cfg.ID)
		}
		e.mu.Unlock()
	}
	return moved
}

func (r *Registry) toTesting(e *entry) {
	e.cfg.Status = StatusTesting
	e.cfg.ConsecutiveFailures = 0
	e.cfg.ErrorSince = time.Time{}
	r.logger.Info("source reactivated", "source", e.cfg.ID, "status", string(StatusTesting))
	metrics.RecordSourceStatus(e.cfg.ID, string(StatusTesting))
}
