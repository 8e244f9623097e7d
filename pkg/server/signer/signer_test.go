package signer

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/oracle-engine/pkg/server/aggregator"
)

// Well-known development key; never funded.
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func testPrice() aggregator.AggregatedPrice {
	return aggregator.AggregatedPrice{
		Symbol:          "BTC",
		BaseCurrency:    "USD",
		Value:           decimal.RequireFromString("100.7"),
		Timestamp:       time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		ConfidenceScore: 84,
	}
}

func TestSignAndVerify(t *testing.T) {
	s, err := NewECDSASigner("0x" + testKey)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), s.Address())

	price := testPrice()
	sig, err := s.Sign(context.Background(), price)
	require.NoError(t, err)
	assert.Len(t, sig, 65)

	require.NoError(t, Verify(price, sig, s.Address()))

	again, err := s.Sign(context.Background(), price)
	require.NoError(t, err)
	assert.Equal(t, sig, again, "signatures are deterministic")
}

func TestVerifyRejectsTamperedPrice(t *testing.T) {
	s, err := NewECDSASigner(testKey)
	require.NoError(t, err)

	price := testPrice()
	sig, err := s.Sign(context.Background(), price)
	require.NoError(t, err)

	tampered := price
	tampered.Value = decimal.RequireFromString("100.8")
	assert.ErrorIs(t, Verify(tampered, sig, s.Address()), ErrInvalidSignature)

	assert.ErrorIs(t, Verify(price, sig[:10], s.Address()), ErrInvalidSignature)
	assert.ErrorIs(t, Verify(price, sig, common.Address{}), ErrInvalidSignature)
}

func TestDigestIgnoresUnsignedFields(t *testing.T) {
	a := testPrice()
	b := testPrice()
	b.RejectedCount = 3
	b.Factors = aggregator.Factors{Coverage: 0.5}

	da, err := Digest(a)
	require.NoError(t, err)
	db, err := Digest(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)

	b.ConfidenceScore = 85
	db, err = Digest(b)
	require.NoError(t, err)
	assert.NotEqual(t, da, db)
}

func TestSignRefusesNoData(t *testing.T) {
	s, err := NewECDSASigner(testKey)
	require.NoError(t, err)

	price := testPrice()
	price.NoData = true
	_, err = s.Sign(context.Background(), price)
	assert.ErrorIs(t, err, ErrNoDataPrice)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("TEST_ORACLE_SIGNER_KEY", "")
	_, err := FromEnv("TEST_ORACLE_SIGNER_KEY")
	assert.ErrorIs(t, err, ErrKeyNotSet)

	t.Setenv("TEST_ORACLE_SIGNER_KEY", "not-hex")
	_, err = FromEnv("TEST_ORACLE_SIGNER_KEY")
	assert.ErrorIs(t, err, ErrInvalidKey)

	t.Setenv("TEST_ORACLE_SIGNER_KEY", testKey)
	s, err := FromEnv("TEST_ORACLE_SIGNER_KEY")
	require.NoError(t, err)
	assert.NotEqual(t, common.Address{}, s.Address())
}
