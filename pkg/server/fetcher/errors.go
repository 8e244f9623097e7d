// Package fetcher fans out fetch calls to the eligible sources of a pair,
// bounds them by per-source timeouts and a cycle deadline, and reports each
// outcome to the source registry.
package fetcher

import "errors"

var (
	// ErrTimeout indicates that a source did not answer within its timeout or the cycle deadline.
	ErrTimeout = errors.New("source timed out")
	// ErrNonPositiveValue indicates that a source returned a zero or negative value.
	ErrNonPositiveValue = errors.New("value must be positive")
	// ErrPairMismatch indicates that a source answered for a different pair.
	ErrPairMismatch = errors.New("quote pair does not match request")
	// ErrFutureTimestamp indicates that a quote is stamped further ahead than the allowed clock skew.
	ErrFutureTimestamp = errors.New("quote timestamp is in the future")
)
