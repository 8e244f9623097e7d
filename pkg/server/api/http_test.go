package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/oracle-engine/pkg/logging"
	"github.com/StrathCole/oracle-engine/pkg/server/aggregator"
	"github.com/StrathCole/oracle-engine/pkg/server/engine"
	"github.com/StrathCole/oracle-engine/pkg/server/history"
	"github.com/StrathCole/oracle-engine/pkg/server/publish"
	"github.com/StrathCole/oracle-engine/pkg/server/sources"
)

var testTime = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type fakePrices struct {
	prices  map[string]aggregator.AggregatedPrice
	buckets []history.Bucket
}

func (f *fakePrices) Latest(key string) (aggregator.AggregatedPrice, error) {
	p, ok := f.prices[key]
	if !ok {
		return aggregator.AggregatedPrice{}, fmt.Errorf("%w: %s", engine.ErrUnknownPair, key)
	}
	return p, nil
}

func (f *fakePrices) LatestAll() []aggregator.AggregatedPrice {
	var out []aggregator.AggregatedPrice
	for _, p := range f.prices {
		out = append(out, p)
	}
	return out
}

func (f *fakePrices) History(key, interval string, limit int, includeOpen bool) ([]history.Bucket, error) {
	if _, ok := f.prices[key]; !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrUnknownPair, key)
	}
	if interval != "1m" {
		return nil, fmt.Errorf("%w: %s", history.ErrUnknownInterval, interval)
	}
	var out []history.Bucket
	for _, b := range f.buckets {
		if b.Sealed || includeOpen {
			out = append(out, b)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

type fakeSources struct {
	list        []sources.SourceConfig
	reactivated []string
	toggled     map[string]bool
}

func (f *fakeSources) List() []sources.SourceConfig { return f.list }

func (f *fakeSources) Reactivate(id string) error {
	for _, s := range f.list {
		if s.ID != id {
			continue
		}
		if s.Status != sources.StatusError {
			return fmt.Errorf("%w: %s is %s", sources.ErrInvalidTransition, id, s.Status)
		}
		f.reactivated = append(f.reactivated, id)
		return nil
	}
	return fmt.Errorf("%w: %s", sources.ErrUnknownSource, id)
}

func (f *fakeSources) SetEnabled(id string, enabled bool) error {
	for _, s := range f.list {
		if s.ID == id {
			if f.toggled == nil {
				f.toggled = make(map[string]bool)
			}
			f.toggled[id] = enabled
			return nil
		}
	}
	return fmt.Errorf("%w: %s", sources.ErrUnknownSource, id)
}

type fakeStore struct {
	buckets []history.Bucket
	err     error
}

func (f *fakeStore) QueryBuckets(context.Context, string, string, string, int) ([]history.Bucket, error) {
	return f.buckets, f.err
}

var _ publish.HistoryStore = (*fakeStore)(nil)

func bucket(minute int, sealed bool) history.Bucket {
	return history.Bucket{
		Symbol:       "BTC",
		BaseCurrency: "USD",
		Interval:     "1m",
		Start:        testTime.Add(time.Duration(minute) * time.Minute),
		Open:         decimal.NewFromInt(10),
		High:         decimal.NewFromInt(12),
		Low:          decimal.NewFromInt(9),
		Close:        decimal.NewFromInt(11),
		TickCount:    4,
		Sealed:       sealed,
	}
}

func newTestServer(t *testing.T) (*Server, *fakeSources) {
	t.Helper()
	prices := &fakePrices{
		prices: map[string]aggregator.AggregatedPrice{
			"BTC/USD": {
				Symbol:          "BTC",
				BaseCurrency:    "USD",
				Value:           decimal.RequireFromString("100.7"),
				Timestamp:       testTime,
				ConfidenceScore: 84,
			},
		},
		buckets: []history.Bucket{bucket(0, true), bucket(1, true), bucket(2, false)},
	}
	srcs := &fakeSources{list: []sources.SourceConfig{
		{ID: "binance", Status: sources.StatusActive, Weight: 50},
		{ID: "kraken", Status: sources.StatusError, Weight: 30, ConsecutiveFailures: 3},
	}}
	return NewServer(":0", prices, srcs, logging.NewNoopLogger()), srcs
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(t, s.Handler(), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestPrices(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/v1/prices")
	require.Equal(t, http.StatusOK, rec.Code)
	var all []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all, 1)
	assert.Equal(t, "100.7", all[0]["value"])

	rec = do(t, h, http.MethodGet, "/v1/prices/btc/usd")
	require.Equal(t, http.StatusOK, rec.Code)
	var one map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	assert.Equal(t, "BTC", one["symbol"])
	assert.EqualValues(t, 84, one["confidence_score"])

	rec = do(t, h, http.MethodGet, "/v1/prices/DOGE/USD")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown pair")

	rec = do(t, h, http.MethodPost, "/v1/prices")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHistory(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/v1/history/BTC/USD?interval=1m")
	require.Equal(t, http.StatusOK, rec.Code)
	var buckets []history.Bucket
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &buckets))
	assert.Len(t, buckets, 2)

	rec = do(t, h, http.MethodGet, "/v1/history/BTC/USD?interval=1m&limit=1&open=true")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &buckets))
	require.Len(t, buckets, 1)
	assert.False(t, buckets[0].Sealed)

	rec = do(t, h, http.MethodGet, "/v1/history/BTC/USD?interval=1w")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/history/BTC/USD?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/history/ETH/USD")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryFromStore(t *testing.T) {
	s, _ := newTestServer(t)
	store := &fakeStore{buckets: []history.Bucket{bucket(-2, true), bucket(-1, true), bucket(0, true)}}
	s.SetHistoryStore(store)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/v1/history/BTC/USD?interval=1m&open=true&limit=3")
	require.Equal(t, http.StatusOK, rec.Code)
	var buckets []history.Bucket
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &buckets))
	require.Len(t, buckets, 3)
	assert.True(t, buckets[0].Start.Equal(testTime.Add(-time.Minute)))
	assert.False(t, buckets[2].Sealed, "open bucket from memory is appended")

	store.err = errors.New("connection reset")
	rec = do(t, h, http.MethodGet, "/v1/history/BTC/USD")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSources(t *testing.T) {
	s, srcs := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/v1/sources")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []sources.SourceConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, sources.StatusError, list[1].Status)

	rec = do(t, h, http.MethodPost, "/v1/sources/kraken/reactivate")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"kraken"}, srcs.reactivated)
	assert.Contains(t, rec.Body.String(), `"testing"`)

	rec = do(t, h, http.MethodPost, "/v1/sources/binance/reactivate")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/sources/nope/reactivate")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSources_EnableDisable(t *testing.T) {
	s, srcs := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/v1/sources/binance/disable")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"binance","enabled":false}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/v1/sources/kraken/enable")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]bool{"binance": false, "kraken": true}, srcs.toggled)

	rec = do(t, h, http.MethodPost, "/v1/sources/nope/enable")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/sources/binance/disable")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWebSocketStreamsSubscribedPairs(t *testing.T) {
	ws := NewWebSocketServer(":0", logging.NewNoopLogger())
	go ws.broadcastUpdates()
	defer ws.Stop()

	srv := httptest.NewServer(ws.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return ws.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(WebSocketMessage{Type: "subscribe", Pairs: []string{"eth/usd"}}))
	var ack map[string]interface{}
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "subscribed", ack["type"])

	ctx := context.Background()
	require.NoError(t, ws.PublishPrice(ctx, aggregator.AggregatedPrice{Symbol: "BTC", BaseCurrency: "USD", Value: decimal.NewFromInt(1)}))
	require.NoError(t, ws.PublishPrice(ctx, aggregator.AggregatedPrice{Symbol: "ETH", BaseCurrency: "USD", NoData: true}))

	var ev publish.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "ETH/USD", ev.Pair, "BTC/USD is filtered out")
	assert.Equal(t, publish.EventNoData, ev.Type)
	require.NotNil(t, ev.Price)
	assert.True(t, ev.Price.NoData)

	require.NoError(t, conn.WriteJSON(WebSocketMessage{Type: "ping"}))
	var pong map[string]string
	require.NoError(t, conn.ReadJSON(&pong))
	assert.Equal(t, "pong", pong["type"])
}
