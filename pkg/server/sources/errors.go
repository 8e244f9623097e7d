// Package sources provides the price source adapter contract, the source
// registry with its health state machine, and shared adapter helpers.
package sources

import "errors"

var (
	// ErrNoData indicates that the source has no value for the pair right now.
	ErrNoData = errors.New("no data for pair")
	// ErrUnexpectedStatus indicates an unexpected HTTP status code.
	ErrUnexpectedStatus = errors.New("unexpected HTTP status code")
	// ErrRateLimitExceeded indicates that a rate limit has been exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrInvalidResponse indicates an invalid response from the source.
	ErrInvalidResponse = errors.New("invalid response")
	// ErrInvalidConfig indicates that the source configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrNoPairsConfigured indicates that no valid pairs are configured.
	ErrNoPairsConfigured = errors.New("no pairs configured")
	// ErrInvalidSymbolFormat indicates that the symbol format is invalid.
	ErrInvalidSymbolFormat = errors.New("symbol must be in BASE/QUOTE format")
	// ErrEmptyBaseCurrency indicates that the symbol BASE currency cannot be empty.
	ErrEmptyBaseCurrency = errors.New("symbol BASE currency cannot be empty")
	// ErrEmptyQuoteCurrency indicates that the symbol QUOTE currency cannot be empty.
	ErrEmptyQuoteCurrency = errors.New("symbol QUOTE currency cannot be empty")
	// ErrUnknownAdapter indicates that no factory is registered for the adapter key.
	ErrUnknownAdapter = errors.New("unknown adapter")
	// ErrUnknownSource indicates that the source id is not registered.
	ErrUnknownSource = errors.New("unknown source")
	// ErrSourceExists indicates that a source with the same id is already registered.
	ErrSourceExists = errors.New("source already registered")
	// ErrInvalidWeight indicates a weight outside [0, 100].
	ErrInvalidWeight = errors.New("weight must be within [0, 100]")
	// ErrInvalidTransition indicates a status change the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrNilAdapter indicates that a source was registered without an adapter.
	ErrNilAdapter = errors.New("adapter is nil")
)
