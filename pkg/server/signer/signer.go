package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/StrathCole/oracle-engine/pkg/metrics"
	"github.com/StrathCole/oracle-engine/pkg/server/aggregator"
)

// Signer signs an aggregated price. The returned bytes are attached to the
// price verbatim.
type Signer interface {
	Sign(ctx context.Context, price aggregator.AggregatedPrice) ([]byte, error)
}

var _ Signer = (*ECDSASigner)(nil)

// payload is the canonical signed form of a price. Field order is fixed by
// the struct, so the msgpack encoding is stable.
type payload struct {
	Symbol       string `msgpack:"symbol"`
	BaseCurrency string `msgpack:"base"`
	Value        string `msgpack:"value"`
	TimestampMs  int64  `msgpack:"ts"`
	Confidence   int    `msgpack:"confidence"`
}

// Digest returns keccak256(msgpack(symbol, base, value, timestamp ms, confidence)).
func Digest(price aggregator.AggregatedPrice) ([]byte, error) {
	data, err := msgpack.Marshal(payload{
		Symbol:       price.Symbol,
		BaseCurrency: price.BaseCurrency,
		Value:        price.Value.String(),
		TimestampMs:  price.Timestamp.UnixMilli(),
		Confidence:   price.ConfidenceScore,
	})
	if err != nil {
		return nil, fmt.Errorf("encode price: %w", err)
	}
	return crypto.Keccak256(data), nil
}

// ECDSASigner signs digests with a secp256k1 key. Signatures are 65 bytes,
// [R || S || V], recoverable to the signer address.
type ECDSASigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewECDSASigner parses a hex encoded private key, with or without 0x prefix.
func NewECDSASigner(hexKey string) (*ECDSASigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return &ECDSASigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// FromEnv builds a signer from the hex key in the named environment variable.
func FromEnv(name string) (*ECDSASigner, error) {
	hexKey := os.Getenv(name)
	if hexKey == "" {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotSet, name)
	}
	return NewECDSASigner(hexKey)
}

// Address returns the address derived from the signing key.
func (s *ECDSASigner) Address() common.Address {
	return s.address
}

// Sign signs the digest of price.
func (s *ECDSASigner) Sign(_ context.Context, price aggregator.AggregatedPrice) (sig []byte, err error) {
	defer func() { metrics.RecordSignature(err) }()

	if price.NoData {
		return nil, fmt.Errorf("%w: %s", ErrNoDataPrice, price.Key())
	}
	digest, err := Digest(price)
	if err != nil {
		return nil, err
	}
	sig, err = crypto.Sign(digest, s.key)
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", price.Key(), err)
	}
	return sig, nil
}

// Verify checks that sig over price was produced by address.
func Verify(price aggregator.AggregatedPrice, sig []byte, address common.Address) error {
	if len(sig) != crypto.SignatureLength {
		return fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	digest, err := Digest(price)
	if err != nil {
		return err
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if got := crypto.PubkeyToAddress(*pub); got != address {
		return fmt.Errorf("%w: signed by %s", ErrInvalidSignature, got.Hex())
	}
	return nil
}
