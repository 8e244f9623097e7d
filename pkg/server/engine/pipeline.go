package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/StrathCole/oracle-engine/pkg/server/aggregator"
	"github.com/StrathCole/oracle-engine/pkg/server/history"
)

// PairSettings describes one pair to aggregate.
type PairSettings struct {
	Pair             aggregator.PairConfig
	HistoryIntervals []string
	HistoryRetention int
}

// Pipeline is the state owned by one pair: its history book and last
// emission. Only the cycle holding running writes to it.
type Pipeline struct {
	cfg     aggregator.PairConfig
	book    *history.Book
	running atomic.Bool

	mu            sync.RWMutex
	lastTimestamp time.Time
	latest        *aggregator.AggregatedPrice
}

func newPipeline(s PairSettings) (*Pipeline, error) {
	if err := s.Pair.Validate(); err != nil {
		return nil, err
	}
	book, err := history.NewBook(s.Pair.Symbol, s.Pair.BaseCurrency, s.HistoryIntervals, s.HistoryRetention)
	if err != nil {
		return nil, err
	}
	return &Pipeline{cfg: s.Pair, book: book}, nil
}

// admit records ts as the newest emission unless it is older than the last one.
func (p *Pipeline) admit(ts time.Time) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ts.Before(p.lastTimestamp) {
		return p.lastTimestamp, false
	}
	p.lastTimestamp = ts
	return ts, true
}

func (p *Pipeline) store(price aggregator.AggregatedPrice) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latest = &price
}

// Latest returns the last emitted price, which may be a NoData marker.
func (p *Pipeline) Latest() (aggregator.AggregatedPrice, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.latest == nil {
		return aggregator.AggregatedPrice{}, false
	}
	return *p.latest, true
}
