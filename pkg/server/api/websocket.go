package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/StrathCole/oracle-engine/pkg/logging"
	"github.com/StrathCole/oracle-engine/pkg/server/aggregator"
	"github.com/StrathCole/oracle-engine/pkg/server/history"
	"github.com/StrathCole/oracle-engine/pkg/server/publish"
)

var _ publish.Publisher = (*WebSocketServer)(nil)

// WebSocketServer streams price, NoData and bucket events to subscribed clients.
type WebSocketServer struct {
	addr     string
	logger   *logging.Logger
	upgrader websocket.Upgrader

	// Client management
	mu      sync.RWMutex
	clients map[*WebSocketClient]bool

	updates chan publish.Event

	// Server control
	ctx    context.Context
	cancel context.CancelFunc
}

// WebSocketClient represents a connected WebSocket client.
type WebSocketClient struct {
	conn            *websocket.Conn
	send            chan []byte
	server          *WebSocketServer
	subscribedAll   bool
	subscribedPairs map[string]bool
	mu              sync.RWMutex
}

// WebSocketMessage represents a client message.
type WebSocketMessage struct {
	Type  string   `json:"type"`  // "subscribe", "unsubscribe", "ping"
	Pairs []string `json:"pairs"` // e.g. ["BTC/USD"]; empty or "*" means all
}

// NewWebSocketServer creates a new WebSocket server.
func NewWebSocketServer(addr string, logger *logging.Logger) *WebSocketServer {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &WebSocketServer{
		addr:   addr,
		logger: logger.With("component", "websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		clients: make(map[*WebSocketClient]bool),
		updates: make(chan publish.Event, 100),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Handler returns the /ws route.
func (s *WebSocketServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Start serves WebSocket connections until Stop is called.
func (s *WebSocketServer) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go s.broadcastUpdates()

	s.logger.Info("Starting WebSocket server", "addr", s.addr)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("WebSocket server error", "error", err)
		}
	}()

	<-s.ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// Stop stops the WebSocket server.
func (s *WebSocketServer) Stop() {
	s.cancel()
}

func (s *WebSocketServer) Name() string {
	return "websocket"
}

func (s *WebSocketServer) PublishPrice(_ context.Context, price aggregator.AggregatedPrice) error {
	return s.enqueue(publish.NewPriceEvent(price))
}

func (s *WebSocketServer) PublishBucket(_ context.Context, bucket history.Bucket) error {
	return s.enqueue(publish.NewBucketEvent(bucket))
}

func (s *WebSocketServer) Close() error {
	s.Stop()
	return nil
}

func (s *WebSocketServer) enqueue(ev publish.Event) error {
	select {
	case s.updates <- ev:
		return nil
	case <-time.After(100 * time.Millisecond):
		s.logger.Warn("Update channel full, dropping event", "pair", ev.Pair, "type", ev.Type)
		return ErrUpdateDropped
	}
}

func (s *WebSocketServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	client := &WebSocketClient{
		conn:            conn,
		send:            make(chan []byte, 256),
		server:          s,
		subscribedAll:   true,
		subscribedPairs: make(map[string]bool),
	}

	s.registerClient(client)

	go client.writePump()
	go client.readPump()

	s.logger.Info("New WebSocket client connected", "remote", conn.RemoteAddr())
}

func (s *WebSocketServer) registerClient(client *WebSocketClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client] = true
}

func (s *WebSocketServer) unregisterClient(client *WebSocketClient) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		close(client.send)
	}
}

// ClientCount returns the number of connected clients.
func (s *WebSocketServer) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *WebSocketServer) broadcastUpdates() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.updates:
			s.broadcast(ev)
		}
	}
}

func (s *WebSocketServer) broadcast(ev publish.Event) {
	data, err := ev.Marshal()
	if err != nil {
		s.logger.Error("Failed to marshal event", "error", err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for client := range s.clients {
		if client.shouldReceive(ev.Pair) {
			select {
			case client.send <- data:
			default:
				s.logger.Warn("Client send buffer full, skipping update", "pair", ev.Pair)
			}
		}
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.server.logger.Error("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.server.unregisterClient(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.logger.Error("WebSocket error", "error", err)
			}
			break
		}

		c.handleMessage(message)
	}
}

func (c *WebSocketClient) handleMessage(data []byte) {
	var msg WebSocketMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.server.logger.Warn("Invalid client message", "error", err)
		return
	}

	switch msg.Type {
	case "subscribe":
		c.subscribe(msg.Pairs)
	case "unsubscribe":
		c.unsubscribe(msg.Pairs)
	case "ping":
		c.reply(map[string]string{"type": "pong"})
		return
	default:
		c.server.logger.Warn("Unknown message type", "type", msg.Type)
		return
	}
	c.reply(map[string]interface{}{"type": msg.Type + "d", "pairs": c.subscriptions()})
}

func allPairs(pairs []string) bool {
	return len(pairs) == 0 || (len(pairs) == 1 && pairs[0] == "*")
}

func (c *WebSocketClient) subscribe(pairs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if allPairs(pairs) {
		c.subscribedAll = true
		c.subscribedPairs = make(map[string]bool)
		return
	}
	c.subscribedAll = false
	for _, p := range pairs {
		c.subscribedPairs[strings.ToUpper(p)] = true
	}
}

func (c *WebSocketClient) unsubscribe(pairs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if allPairs(pairs) {
		c.subscribedAll = false
		c.subscribedPairs = make(map[string]bool)
		return
	}
	for _, p := range pairs {
		delete(c.subscribedPairs, strings.ToUpper(p))
	}
}

// subscriptions returns ["*"] when subscribed to everything.
func (c *WebSocketClient) subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.subscribedAll {
		return []string{"*"}
	}
	out := make([]string, 0, len(c.subscribedPairs))
	for p := range c.subscribedPairs {
		out = append(out, p)
	}
	return out
}

func (c *WebSocketClient) shouldReceive(pair string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscribedAll || c.subscribedPairs[pair]
}

// reply queues a control message. It runs on the read goroutine, which is
// the only one that closes send, so the send cannot race the close.
func (c *WebSocketClient) reply(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
