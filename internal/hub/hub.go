package hub

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/melonhq/dashfeed/internal/auth"
	"github.com/melonhq/dashfeed/internal/logging"
	"github.com/melonhq/dashfeed/internal/stream"
)

// Defaults for Config.
const (
	DefaultAddr      = "127.0.0.1:8000"
	DefaultPath      = "/ws/dashboard/"
	DefaultSendQueue = 64
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	shutdownTimeout  = 5 * time.Second
	cleanupInterval  = time.Minute
	maxClientMessage = 4096
	maxNotifyBody    = 64 << 10
)

// Config holds hub configuration.
type Config struct {
	// Addr is the TCP listen address. Port 0 picks a free port.
	Addr string
	// Path is where WebSocket clients connect.
	Path string
	// TokenHash is the argon2id hash of the bearer token clients must
	// present. Empty disables authentication.
	TokenHash string
	// SendQueue is the number of frames buffered per client before frames
	// for that client are dropped.
	SendQueue int
	// RateLimit bounds POST /notify per client IP.
	RateLimit RateLimitConfig
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithCheckOrigin sets the origin check applied to WebSocket handshakes.
// The default accepts every origin.
func WithCheckOrigin(check func(r *http.Request) bool) Option {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = check
	}
}

// Hub accepts WebSocket clients and broadcasts frames to all of them.
type Hub struct {
	cfg      Config
	logger   *logging.Logger
	upgrader websocket.Upgrader
	limiter  *rateLimiter
	mux      *http.ServeMux
	now      func() time.Time

	mu       sync.RWMutex
	clients  map[string]*client
	verified map[string]struct{}
	server   *http.Server
	listener net.Listener
	stopCh   chan struct{}
	started  bool
	stopped  bool
}

// client is one connected WebSocket peer. Only writePump writes to conn.
type client struct {
	id        string
	remote    string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// New creates a Hub. It does not listen until Start is called; Handler can
// be mounted on any server instead.
func New(cfg Config, opts ...Option) (*Hub, error) {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if !strings.HasPrefix(cfg.Path, "/") {
		return nil, fmt.Errorf("path must start with /: %q", cfg.Path)
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = DefaultSendQueue
	}
	if cfg.TokenHash != "" {
		if err := auth.ValidateHash(cfg.TokenHash); err != nil {
			return nil, fmt.Errorf("invalid token hash: %w", err)
		}
	}

	h := &Hub{
		cfg:    cfg,
		logger: logging.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		limiter:  newRateLimiter(cfg.RateLimit),
		now:      time.Now,
		clients:  make(map[string]*client),
		verified: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "hub")

	h.mux = http.NewServeMux()
	h.setupRoutes(h.mux)

	return h, nil
}

// Handler returns the hub's HTTP handler.
func (h *Hub) Handler() http.Handler {
	return h.mux
}

// Path returns the WebSocket path.
func (h *Hub) Path() string {
	return h.cfg.Path
}

// Start listens on the configured address and serves until ctx is cancelled
// or Stop is called.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return errors.New("hub already started")
	}

	listener, err := net.Listen("tcp", h.cfg.Addr)
	if err != nil {
		h.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", h.cfg.Addr, err)
	}

	srv := &http.Server{
		Handler:           h.mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	stopCh := make(chan struct{})
	h.listener = listener
	h.server = srv
	h.stopCh = stopCh
	h.started = true
	h.stopped = false
	h.mu.Unlock()

	h.logger.Info("Hub listening", "addr", listener.Addr().String(), "path", h.cfg.Path)
	go h.maintain(ctx, stopCh)

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("hub server error: %w", err)
	}
	return nil
}

// maintain prunes rate limiter state and stops the hub when ctx ends.
func (h *Hub) maintain(ctx context.Context, stopCh chan struct{}) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := h.Stop(); err != nil {
				h.logger.Warn("Hub shutdown failed", "error", err)
			}
			return
		case <-stopCh:
			return
		case <-ticker.C:
			h.limiter.cleanup()
		}
	}
}

// Stop closes every client with a going-away close frame and shuts the
// server down. It is safe to call more than once.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return nil
	}
	srv := h.server
	close(h.stopCh)
	h.started = false
	h.stopped = true
	h.server = nil
	h.listener = nil
	clients := h.takeClientsLocked()
	h.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub shutting down")
	for _, c := range clients {
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	h.logger.Info("Hub stopped")
	return nil
}

// Addr returns the address the hub is listening on, or "" when not started.
func (h *Hub) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

// URL returns the WebSocket URL clients should dial, or "" when not started.
func (h *Hub) URL() string {
	addr := h.Addr()
	if addr == "" {
		return ""
	}
	return "ws://" + addr + h.cfg.Path
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DropClients closes every client connection without a close frame, as if
// the server process had died. It returns the number of clients dropped.
func (h *Hub) DropClients() int {
	h.mu.Lock()
	clients := h.takeClientsLocked()
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	if len(clients) > 0 {
		h.logger.Info("Dropped clients", "count", len(clients))
	}
	return len(clients)
}

func (h *Hub) takeClientsLocked() []*client {
	clients := make([]*client, 0, len(h.clients))
	for id, c := range h.clients {
		clients = append(clients, c)
		delete(h.clients, id)
	}
	return clients
}

// Publish sends e to every connected client and returns how many clients
// it was queued for. Clients whose queue is full miss the frame.
func (h *Hub) Publish(e *stream.Event) (int, error) {
	if e == nil {
		return 0, errors.New("event is nil")
	}
	data, err := e.Marshal()
	if err != nil {
		return 0, fmt.Errorf("failed to encode event: %w", err)
	}
	return h.broadcast(data), nil
}

// PublishNotification wraps n as a notification event and publishes it.
func (h *Hub) PublishNotification(n stream.Notification) (int, error) {
	e, err := stream.NewNotificationEvent(n)
	if err != nil {
		return 0, err
	}
	return h.Publish(e)
}

// PublishRaw sends data to every client verbatim, whether or not it is a
// valid frame. Tests use it to inject malformed frames.
func (h *Hub) PublishRaw(data []byte) int {
	return h.broadcast(data)
}

func (h *Hub) broadcast(data []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	queued := 0
	for _, c := range h.clients {
		select {
		case c.send <- data:
			queued++
		default:
			h.logger.Warn("Dropping frame for slow client", "conn", c.id, "remote", c.remote)
		}
	}
	return queued
}

// setupRoutes configures the HTTP routes.
func (h *Hub) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc(h.cfg.Path, h.handleWebSocket)
	mux.HandleFunc("/notify", h.handleNotify)
	mux.HandleFunc("/healthz", h.handleHealth)
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !h.authorize(w, r, ip) {
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err, "remote", ip)
		return
	}

	c := &client{
		id:     uuid.NewString(),
		remote: ip,
		conn:   conn,
		send:   make(chan []byte, h.cfg.SendQueue),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub shutting down")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		return
	}
	h.clients[c.id] = c
	h.mu.Unlock()
	h.logger.Info("Client connected", "conn", c.id, "remote", ip)

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards application messages and keeps the read deadline alive
// with pongs. It returns when the connection fails.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, c.id)
		h.mu.Unlock()
		c.close()
		h.logger.Info("Client disconnected", "conn", c.id)
	}()

	c.conn.SetReadLimit(maxClientMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("Write failed", "conn", c.id, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleNotify handles POST /notify. The body is a notification; it is
// published as {"type":"notification","data":...}.
func (h *Hub) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ip := clientIP(r)
	if res := h.limiter.allow(ip); !res.Allowed {
		tooManyRequests(w, res)
		return
	}
	if !h.authorize(w, r, ip) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxNotifyBody)
	var n stream.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(n.Title) == "" {
		http.Error(w, "title is required", http.StatusBadRequest)
		return
	}
	if n.Kind == "" {
		n.Kind = stream.NotificationKindInfo
	}
	if len(n.Timestamp) == 0 {
		ts, _ := json.Marshal(h.now().UTC().Format(time.RFC3339Nano))
		n.Timestamp = ts
	}

	id := uuid.NewString()
	queued, err := h.PublishNotification(n)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.logger.Info("Published notification", "id", id, "kind", n.Kind, "clients", queued)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":      id,
		"status":  "published",
		"clients": queued,
	})
}

func (h *Hub) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": h.ClientCount(),
	})
}

// authorize checks the bearer token when the hub has one configured and
// writes the error response when it fails.
func (h *Hub) authorize(w http.ResponseWriter, r *http.Request, ip string) bool {
	if h.cfg.TokenHash == "" {
		return true
	}
	if res := h.limiter.check(ip); !res.Allowed {
		tooManyRequests(w, res)
		return false
	}

	token, ok := auth.BearerToken(r)
	if !ok {
		http.Error(w, "authorization required", http.StatusUnauthorized)
		return false
	}
	if h.verifyToken(token) {
		h.limiter.recordSuccess(ip)
		return true
	}

	if d := h.limiter.recordFailure(ip); d > 0 {
		h.logger.Warn("Blocking client after failed authentications", "remote", ip, "duration", d)
	}
	http.Error(w, "invalid token", http.StatusUnauthorized)
	return false
}

// verifyToken checks token against the configured hash. Tokens that have
// verified once are remembered by digest so reconnects skip argon2.
func (h *Hub) verifyToken(token string) bool {
	sum := sha256.Sum256([]byte(token))
	key := hex.EncodeToString(sum[:])

	h.mu.RLock()
	_, ok := h.verified[key]
	h.mu.RUnlock()
	if ok {
		return true
	}

	match, err := auth.VerifyToken(token, h.cfg.TokenHash)
	if err != nil {
		h.logger.Error("Token verification failed", "error", err)
		return false
	}
	if match {
		h.mu.Lock()
		h.verified[key] = struct{}{}
		h.mu.Unlock()
	}
	return match
}

func tooManyRequests(w http.ResponseWriter, res limitResult) {
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
	http.Error(w, res.Reason, http.StatusTooManyRequests)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
