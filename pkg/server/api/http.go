// Package api exposes aggregated prices, history and source health over HTTP,
// and streams price events over WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/StrathCole/oracle-engine/pkg/logging"
	"github.com/StrathCole/oracle-engine/pkg/metrics"
	"github.com/StrathCole/oracle-engine/pkg/server/aggregator"
	"github.com/StrathCole/oracle-engine/pkg/server/engine"
	"github.com/StrathCole/oracle-engine/pkg/server/history"
	"github.com/StrathCole/oracle-engine/pkg/server/publish"
	"github.com/StrathCole/oracle-engine/pkg/server/sources"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = history.DefaultRetention
)

// PriceReader serves emitted prices and in-memory history.
type PriceReader interface {
	Latest(key string) (aggregator.AggregatedPrice, error)
	LatestAll() []aggregator.AggregatedPrice
	History(key, interval string, limit int, includeOpen bool) ([]history.Bucket, error)
}

// SourceManager lists sources and applies operator actions.
type SourceManager interface {
	List() []sources.SourceConfig
	Reactivate(id string) error
	SetEnabled(id string, enabled bool) error
}

var (
	_ PriceReader   = (*engine.Engine)(nil)
	_ SourceManager = (*sources.Registry)(nil)
)

// Server represents the HTTP API server.
type Server struct {
	addr    string
	prices  PriceReader
	sources SourceManager
	store   publish.HistoryStore
	server  *http.Server
	logger  *logging.Logger

	certFile string
	keyFile  string
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, prices PriceReader, srcs SourceManager, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Server{
		addr:    addr,
		prices:  prices,
		sources: srcs,
		logger:  logger.With("component", "http"),
	}
}

// SetHistoryStore makes sealed history queries read from store instead of memory.
func (s *Server) SetHistoryStore(store publish.HistoryStore) {
	s.store = store
}

// SetTLS serves HTTPS with the given certificate and key.
func (s *Server) SetTLS(certFile, keyFile string) {
	s.certFile = certFile
	s.keyFile = keyFile
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.instrument("/health", s.handleHealth))
	mux.HandleFunc("GET /v1/prices", s.instrument("/v1/prices", s.handlePrices))
	mux.HandleFunc("GET /v1/prices/{symbol}/{base}", s.instrument("/v1/prices/pair", s.handlePrice))
	mux.HandleFunc("GET /v1/history/{symbol}/{base}", s.instrument("/v1/history", s.handleHistory))
	mux.HandleFunc("GET /v1/sources", s.instrument("/v1/sources", s.handleSources))
	mux.HandleFunc("POST /v1/sources/{id}/reactivate", s.instrument("/v1/sources/reactivate", s.handleReactivate))
	mux.HandleFunc("POST /v1/sources/{id}/enable", s.instrument("/v1/sources/enable", s.handleSetEnabled(true)))
	mux.HandleFunc("POST /v1/sources/{id}/disable", s.instrument("/v1/sources/disable", s.handleSetEnabled(false)))
	return mux
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "addr", s.addr, "tls", s.certFile != "")
	var err error
	if s.certFile != "" {
		err = s.server.ListenAndServeTLS(s.certFile, s.keyFile)
	} else {
		err = s.server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		s.logger.Info("Stopping HTTP server")
		return s.server.Shutdown(ctx)
	}
	return nil
}

// statusRecorder captures the status code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		metrics.RecordHTTPRequest(endpoint, strconv.Itoa(rec.status), time.Since(start))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handlePrices(w http.ResponseWriter, _ *http.Request) {
	prices := s.prices.LatestAll()
	if prices == nil {
		prices = []aggregator.AggregatedPrice{}
	}
	s.sendJSON(w, http.StatusOK, prices)
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	price, err := s.prices.Latest(pairKey(r))
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, price)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	symbol, base := pairParts(r)
	interval := r.URL.Query().Get("interval")
	if interval == "" {
		interval = "1m"
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.sendJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	includeOpen := r.URL.Query().Get("open") == "true"

	// Validates the pair and interval even when the store answers.
	buckets, err := s.prices.History(symbol+"/"+base, interval, limit, includeOpen)
	if err != nil {
		s.sendError(w, err)
		return
	}

	if s.store != nil {
		sealed, err := s.store.QueryBuckets(r.Context(), symbol, base, interval, limit)
		if err != nil {
			s.logger.Error("history store query failed", "pair", symbol+"/"+base, "error", err)
			s.sendJSON(w, http.StatusServiceUnavailable, errorBody{Error: "history store unavailable"})
			return
		}
		if includeOpen && len(buckets) > 0 && !buckets[len(buckets)-1].Sealed {
			sealed = append(sealed, buckets[len(buckets)-1])
			if len(sealed) > limit {
				sealed = sealed[len(sealed)-limit:]
			}
		}
		buckets = sealed
	}
	if buckets == nil {
		buckets = []history.Bucket{}
	}
	s.sendJSON(w, http.StatusOK, buckets)
}

func (s *Server) handleSources(w http.ResponseWriter, _ *http.Request) {
	s.sendJSON(w, http.StatusOK, s.sources.List())
}

func (s *Server) handleReactivate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sources.Reactivate(id); err != nil {
		s.sendError(w, err)
		return
	}
	s.logger.Info("source reactivated by operator", "source", id)
	s.sendJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(sources.StatusTesting)})
}

// handleSetEnabled takes a source out of rotation (Inactive) or puts an
// Inactive source back to Active.
func (s *Server) handleSetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := s.sources.SetEnabled(id, enabled); err != nil {
			s.sendError(w, err)
			return
		}
		s.logger.Info("source toggled by operator", "source", id, "enabled", enabled)
		s.sendJSON(w, http.StatusOK, map[string]interface{}{"id": id, "enabled": enabled})
	}
}

func pairParts(r *http.Request) (string, string) {
	return strings.ToUpper(r.PathValue("symbol")), strings.ToUpper(r.PathValue("base"))
}

func pairKey(r *http.Request) string {
	symbol, base := pairParts(r)
	return symbol + "/" + base
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) sendError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrUnknownPair),
		errors.Is(err, engine.ErrNoPrice),
		errors.Is(err, sources.ErrUnknownSource),
		errors.Is(err, history.ErrUnknownInterval):
		status = http.StatusNotFound
	case errors.Is(err, sources.ErrInvalidTransition):
		status = http.StatusConflict
	}
	s.sendJSON(w, status, errorBody{Error: err.Error()})
}

// sendJSON sends a JSON response.
func (s *Server) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}
