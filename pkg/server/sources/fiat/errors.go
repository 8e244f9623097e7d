// Package fiat provides fiat currency rate adapters.
package fiat

import "errors"

var (
	// ErrMissingSymbolsInConfig indicates that symbols are missing in the configuration.
	ErrMissingSymbolsInConfig = errors.New("missing 'symbols' in config")
	// ErrNoValidSymbolsFrankfurt indicates that no valid symbols are available for Frankfurter.
	ErrNoValidSymbolsFrankfurt = errors.New("no valid symbols for Frankfurter")
	// ErrNonPositiveRate indicates a zero or negative rate in the provider response.
	ErrNonPositiveRate = errors.New("non-positive rate")
)
