// Package engine runs the per-pair aggregation pipelines: collect, aggregate,
// sign, fold into history and publish.
package engine

import "errors"

var (
	ErrCycleInProgress = errors.New("cycle already in progress")
	ErrOutOfOrder      = errors.New("price timestamp older than last emitted")
	ErrUnknownPair     = errors.New("unknown pair")
	ErrPairExists      = errors.New("pair already registered")
	ErrNoPrice         = errors.New("no price emitted")
)
