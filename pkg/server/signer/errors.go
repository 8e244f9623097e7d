// Package signer produces and verifies signatures over aggregated prices.
package signer

import "errors"

var (
	ErrInvalidKey       = errors.New("invalid private key")
	ErrKeyNotSet        = errors.New("signer key environment variable not set")
	ErrNoDataPrice      = errors.New("refusing to sign a NoData price")
	ErrInvalidSignature = errors.New("invalid signature")
)
