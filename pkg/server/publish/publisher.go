package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/StrathCole/oracle-engine/pkg/metrics"
	"github.com/StrathCole/oracle-engine/pkg/server/aggregator"
	"github.com/StrathCole/oracle-engine/pkg/server/history"
)

// Publisher receives the output of every cycle: one price (possibly NoData)
// and zero or more sealed buckets. Implementations must not modify the values.
type Publisher interface {
	Name() string
	PublishPrice(ctx context.Context, price aggregator.AggregatedPrice) error
	PublishBucket(ctx context.Context, bucket history.Bucket) error
	Close() error
}

// HistoryStore serves sealed buckets persisted outside the process.
type HistoryStore interface {
	QueryBuckets(ctx context.Context, symbol, base, interval string, limit int) ([]history.Bucket, error)
}

var _ Publisher = (*Multi)(nil)

// Multi fans out to several publishers. A failing publisher does not stop the
// others; errors are joined.
type Multi struct {
	publishers []Publisher
}

// NewMulti combines publishers. Nil entries are skipped.
func NewMulti(publishers ...Publisher) *Multi {
	m := &Multi{}
	for _, p := range publishers {
		if p != nil {
			m.publishers = append(m.publishers, p)
		}
	}
	return m
}

// Add appends a publisher.
func (m *Multi) Add(p Publisher) {
	if p != nil {
		m.publishers = append(m.publishers, p)
	}
}

// Len returns the number of publishers.
func (m *Multi) Len() int {
	return len(m.publishers)
}

func (m *Multi) Name() string {
	return "multi"
}

func (m *Multi) PublishPrice(ctx context.Context, price aggregator.AggregatedPrice) error {
	eventType := string(priceEventType(price))
	var errs []error
	for _, p := range m.publishers {
		err := p.PublishPrice(ctx, price)
		metrics.RecordPublish(p.Name(), eventType, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) PublishBucket(ctx context.Context, bucket history.Bucket) error {
	var errs []error
	for _, p := range m.publishers {
		err := p.PublishBucket(ctx, bucket)
		metrics.RecordPublish(p.Name(), string(EventBucket), err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Close() error {
	var errs []error
	for _, p := range m.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}
