package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/StrathCole/oracle-engine/pkg/logging"
	"github.com/StrathCole/oracle-engine/pkg/server/aggregator"
	"github.com/StrathCole/oracle-engine/pkg/server/history"
)

const (
	DefaultPriceTopic   = "oracle.prices"
	DefaultHistoryTopic = "oracle.history"
)

// messageWriter is the part of kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaOptions configures a KafkaPublisher.
type KafkaOptions struct {
	Brokers      []string
	PriceTopic   string
	HistoryTopic string
	WriteTimeout time.Duration
}

var _ Publisher = (*KafkaPublisher)(nil)

// KafkaPublisher writes price and bucket events keyed by pair, so every event
// of one pair lands on the same partition in order.
type KafkaPublisher struct {
	writer       messageWriter
	priceTopic   string
	historyTopic string
	logger       *logging.Logger
}

// NewKafkaPublisher creates a publisher backed by a kafka.Writer.
func NewKafkaPublisher(opts KafkaOptions, logger *logging.Logger) (*KafkaPublisher, error) {
	if len(opts.Brokers) == 0 {
		return nil, ErrBrokersRequired
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(opts.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: opts.WriteTimeout,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newKafkaPublisher(w, opts, logger), nil
}

func newKafkaPublisher(w messageWriter, opts KafkaOptions, logger *logging.Logger) *KafkaPublisher {
	if opts.PriceTopic == "" {
		opts.PriceTopic = DefaultPriceTopic
	}
	if opts.HistoryTopic == "" {
		opts.HistoryTopic = DefaultHistoryTopic
	}
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &KafkaPublisher{
		writer:       w,
		priceTopic:   opts.PriceTopic,
		historyTopic: opts.HistoryTopic,
		logger:       logger.With("publisher", "kafka"),
	}
}

func (k *KafkaPublisher) Name() string {
	return "kafka"
}

func (k *KafkaPublisher) PublishPrice(ctx context.Context, price aggregator.AggregatedPrice) error {
	return k.write(ctx, k.priceTopic, NewPriceEvent(price))
}

func (k *KafkaPublisher) PublishBucket(ctx context.Context, bucket history.Bucket) error {
	return k.write(ctx, k.historyTopic, NewBucketEvent(bucket))
}

func (k *KafkaPublisher) write(ctx context.Context, topic string, ev Event) error {
	value, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(ev.Pair),
		Value: value,
		Time:  ev.EmittedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "event_id", Value: []byte(ev.ID)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", topic, err)
	}
	k.logger.Debug("published event", "topic", topic, "type", ev.Type, "pair", ev.Pair)
	return nil
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}
