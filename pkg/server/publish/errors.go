// Package publish delivers aggregated prices and sealed history buckets to
// downstream systems: Kafka, Redis, ClickHouse and WebSocket clients.
package publish

import "errors"

var (
	ErrBrokersRequired = errors.New("kafka brokers are required")
	ErrAddrRequired    = errors.New("address is required")
	ErrInvalidTable    = errors.New("invalid table name")
)
