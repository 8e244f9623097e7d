package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_KeyValueFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "json")

	logger.Info("source failed", "source", "binance", "attempt", 2, "error", errors.New("timeout"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "source failed", entry["message"])
	assert.Equal(t, "binance", entry["source"])
	assert.Equal(t, float64(2), entry["attempt"])
	assert.Equal(t, "timeout", entry["error"])
}

func TestLogger_WithCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "json").With("pair", "BTC/USD")

	logger.Warn("late tick")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "BTC/USD", entry["pair"])
	assert.Equal(t, "warn", entry["level"])
}

func TestLogger_OddFieldCountIgnoresDangling(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "json")

	logger.Info("msg", "key")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	_, ok := entry["key"]
	assert.False(t, ok)
}

func TestNoopLogger(t *testing.T) {
	logger := NewNoopLogger()
	assert.NotPanics(t, func() {
		logger.Debug("x", "a", 1)
		logger.With("b", 2).Error("y")
	})
}
