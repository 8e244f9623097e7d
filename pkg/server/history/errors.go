// Package history folds aggregated price ticks into epoch-aligned OHLC buckets.
package history

import "errors"

var (
	// ErrInvalidInterval indicates an interval label that cannot be parsed.
	ErrInvalidInterval = errors.New("invalid interval")
	// ErrUnknownInterval indicates an interval that is not configured for the pair.
	ErrUnknownInterval = errors.New("interval not configured")
	// ErrLateTick indicates a tick for a window that is already sealed.
	ErrLateTick = errors.New("tick belongs to a sealed window")
)
