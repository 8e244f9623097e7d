package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/StrathCole/oracle-engine/pkg/logging"
	"github.com/StrathCole/oracle-engine/pkg/server/aggregator"
	"github.com/StrathCole/oracle-engine/pkg/server/history"
)

// redisClient is the part of redis.Client the publisher uses.
type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisOptions configures a RedisPublisher.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
	Channel  string
}

var _ Publisher = (*RedisPublisher)(nil)

// RedisPublisher keeps the latest price and the latest sealed bucket of every
// pair under TTL'd keys and announces every event on a pub/sub channel.
// NoData results are announced but never overwrite the cached price.
type RedisPublisher struct {
	client  redisClient
	prefix  string
	ttl     time.Duration
	channel string
	logger  *logging.Logger
}

// NewRedisPublisher connects to Redis and verifies the connection.
func NewRedisPublisher(ctx context.Context, opts RedisOptions, logger *logging.Logger) (*RedisPublisher, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("%w: redis", ErrAddrRequired)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisPublisher(client, opts, logger), nil
}

func newRedisPublisher(client redisClient, opts RedisOptions, logger *logging.Logger) *RedisPublisher {
	if opts.Prefix == "" {
		opts.Prefix = "oracle"
	}
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &RedisPublisher{
		client:  client,
		prefix:  opts.Prefix,
		ttl:     opts.TTL,
		channel: opts.Channel,
		logger:  logger.With("publisher", "redis"),
	}
}

func (r *RedisPublisher) Name() string {
	return "redis"
}

// PriceKey returns the key holding the latest price of a pair.
func (r *RedisPublisher) PriceKey(pair string) string {
	return r.prefix + ":price:" + pair
}

// BucketKey returns the key holding the latest sealed bucket of a pair and interval.
func (r *RedisPublisher) BucketKey(pair, interval string) string {
	return r.prefix + ":bucket:" + pair + ":" + interval
}

func (r *RedisPublisher) PublishPrice(ctx context.Context, price aggregator.AggregatedPrice) error {
	ev := NewPriceEvent(price)
	data, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("marshal price event: %w", err)
	}
	if !price.NoData {
		if err := r.client.Set(ctx, r.PriceKey(ev.Pair), data, r.ttl).Err(); err != nil {
			return fmt.Errorf("redis set: %w", err)
		}
	}
	return r.announce(ctx, data)
}

func (r *RedisPublisher) PublishBucket(ctx context.Context, bucket history.Bucket) error {
	ev := NewBucketEvent(bucket)
	data, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("marshal bucket event: %w", err)
	}
	if err := r.client.Set(ctx, r.BucketKey(ev.Pair, bucket.Interval), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return r.announce(ctx, data)
}

func (r *RedisPublisher) announce(ctx context.Context, data []byte) error {
	if r.channel == "" {
		return nil
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (r *RedisPublisher) Close() error {
	return r.client.Close()
}
