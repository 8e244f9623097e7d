// Package aggregator turns the observations of one pair into a single
// confidence-scored price: freshness filter, weighted-median outlier
// rejection, weighted mean and confidence scoring.
package aggregator

import "errors"

var (
	// ErrInvalidPairConfig indicates a pair configuration the aggregator cannot work with.
	ErrInvalidPairConfig = errors.New("invalid pair config")
)
