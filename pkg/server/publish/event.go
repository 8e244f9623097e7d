package publish

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/StrathCole/oracle-engine/pkg/server/aggregator"
	"github.com/StrathCole/oracle-engine/pkg/server/history"
)

// EventType tags the payload of an Event.
type EventType string

const (
	EventPrice  EventType = "price"
	EventNoData EventType = "no_data"
	EventBucket EventType = "bucket"
)

// Event is the envelope written to Kafka, Redis and WebSocket clients.
type Event struct {
	ID        string                      `json:"id"`
	Type      EventType                   `json:"type"`
	Pair      string                      `json:"pair"`
	EmittedAt time.Time                   `json:"emitted_at"`
	Price     *aggregator.AggregatedPrice `json:"price,omitempty"`
	Bucket    *history.Bucket             `json:"bucket,omitempty"`
}

func priceEventType(p aggregator.AggregatedPrice) EventType {
	if p.NoData {
		return EventNoData
	}
	return EventPrice
}

// NewPriceEvent wraps a price, or a NoData marker, in an event.
func NewPriceEvent(p aggregator.AggregatedPrice) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      priceEventType(p),
		Pair:      p.Key(),
		EmittedAt: time.Now().UTC(),
		Price:     &p,
	}
}

// NewBucketEvent wraps a sealed bucket in an event.
func NewBucketEvent(b history.Bucket) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      EventBucket,
		Pair:      b.Symbol + "/" + b.BaseCurrency,
		EmittedAt: time.Now().UTC(),
		Bucket:    &b,
	}
}

// Marshal encodes the event as JSON.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
