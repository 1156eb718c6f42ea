package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/melonhq/dashfeed/internal/logging"
)

// DefaultURL is the dashboard feed endpoint used when no URL is configured.
const DefaultURL = "ws://localhost:8000/ws/dashboard/"

// State is the connection state of a StreamClient.
type State int32

const (
	// StateClosed means no connection exists. A reconnection may be pending.
	StateClosed State = iota
	// StateConnecting means a dial is in flight.
	StateConnecting
	// StateOpen means frames are being read and delivered.
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// StreamClient keeps one connection to a streaming endpoint open and delivers
// every decoded frame to the registered subscribers. Transport failures are
// never surfaced to subscribers: the client waits for the reconnect delay and
// dials again until Close is called.
//
// All dialing, reading and delivery happen on a single connection goroutine,
// so events are delivered in arrival order and one event reaches every
// subscriber before the next frame is read.
type StreamClient struct {
	url                  string
	header               http.Header
	dialer               Dialer
	policy               ReconnectPolicy
	maxReconnectAttempts int
	handshakeTimeout     time.Duration
	readLimit            int64
	logger               *logging.Logger
	metrics              *Metrics
	errorHook            func(error)
	stateHook            func(State)

	subs *subscriberSet

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// mu protects everything below.
	mu       sync.Mutex
	state    State
	stateCh  chan struct{}
	conn     Conn
	running  bool
	closed   bool
	retries  int
	loopDone chan struct{}

	// loopID identifies the connection goroutine.
	loopID atomic.Uint64
}

// ClientOption configures a StreamClient.
type ClientOption func(*StreamClient)

// WithReconnectInterval sets a fixed delay between reconnection attempts.
// Non-positive intervals select DefaultReconnectInterval.
func WithReconnectInterval(interval time.Duration) ClientOption {
	return func(c *StreamClient) {
		if interval <= 0 {
			interval = DefaultReconnectInterval
		}
		c.policy = FixedDelay(interval)
	}
}

// WithReconnectPolicy replaces the reconnect delay policy.
func WithReconnectPolicy(policy ReconnectPolicy) ClientOption {
	return func(c *StreamClient) {
		if policy != nil {
			c.policy = policy
		}
	}
}

// WithMaxReconnectAttempts sets the maximum number of consecutive
// reconnection attempts. Set to 0 for unlimited attempts.
func WithMaxReconnectAttempts(attempts int) ClientOption {
	return func(c *StreamClient) {
		c.maxReconnectAttempts = attempts
	}
}

// WithDialer sets the transport used to open connections.
func WithDialer(d Dialer) ClientOption {
	return func(c *StreamClient) {
		c.dialer = d
	}
}

// WithAuthToken sends the token as a bearer Authorization header.
func WithAuthToken(token string) ClientOption {
	return func(c *StreamClient) {
		if token != "" {
			c.header.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithHeader adds headers to the handshake request.
func WithHeader(h http.Header) ClientOption {
	return func(c *StreamClient) {
		for k, vs := range h {
			for _, v := range vs {
				c.header.Add(k, v)
			}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) ClientOption {
	return func(c *StreamClient) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records client activity in m.
func WithMetrics(m *Metrics) ClientOption {
	return func(c *StreamClient) {
		c.metrics = m
	}
}

// WithErrorHook receives every error the client swallows: *ConnectionError,
// *DecodeError, *HandlerPanicError and ErrMaxReconnectAttempts. The hook runs
// on the connection goroutine.
func WithErrorHook(hook func(error)) ClientOption {
	return func(c *StreamClient) {
		c.errorHook = hook
	}
}

// WithStateHook is called after every state transition, from the goroutine
// that made it.
func WithStateHook(hook func(State)) ClientOption {
	return func(c *StreamClient) {
		c.stateHook = hook
	}
}

// WithHandshakeTimeout bounds the opening handshake of the default dialer.
func WithHandshakeTimeout(d time.Duration) ClientOption {
	return func(c *StreamClient) {
		c.handshakeTimeout = d
	}
}

// WithReadLimit sets the maximum frame size of the default dialer.
func WithReadLimit(n int64) ClientOption {
	return func(c *StreamClient) {
		c.readLimit = n
	}
}

// NewStreamClient creates a client for url. An empty url selects DefaultURL.
// The client does nothing until Connect is called.
func NewStreamClient(url string, opts ...ClientOption) *StreamClient {
	if url == "" {
		url = DefaultURL
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &StreamClient{
		url:     url,
		header:  http.Header{},
		policy:  FixedDelay(DefaultReconnectInterval),
		logger:  logging.Default(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		state:   StateClosed,
		stateCh: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.dialer == nil {
		c.dialer = NewWebSocketDialer(c.handshakeTimeout, c.readLimit)
	}
	c.logger = c.logger.WithFields(map[string]interface{}{"component": "stream", "url": c.url})
	c.subs = newSubscriberSet(c.metrics.setSubscribers)
	c.metrics.setState(StateClosed)

	return c
}

// Connect starts the connection loop. It returns immediately; the state
// becomes StateConnecting and the dial proceeds in the background. Calling
// Connect while a connection is in flight or open has no effect.
func (c *StreamClient) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.retries = 0
	loopDone := make(chan struct{})
	c.loopDone = loopDone
	c.mu.Unlock()

	c.setState(StateConnecting)
	go c.run(loopDone)
	return nil
}

// Subscribe registers h to receive every event delivered after this call.
// It may be called from any goroutine, including from inside a handler.
func (c *StreamClient) Subscribe(h Handler) *Subscription {
	if h == nil {
		return &Subscription{}
	}
	return c.subs.add(h)
}

// Unsubscribe removes sub. It is a no-op for nil, unknown or already removed
// subscriptions. A handler may unsubscribe itself; it will not be invoked
// again, and the in-progress event still reaches the other subscribers.
func (c *StreamClient) Unsubscribe(sub *Subscription) {
	c.subs.remove(sub)
}

// Close shuts the client down: reconnection stops, the active connection is
// released and the state becomes StateClosed. Close waits for the connection
// goroutine to exit unless it is called from that goroutine, as it is from a
// handler, the error hook or the state hook; use Done to wait in that case.
// Close is idempotent.
func (c *StreamClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cancel()
	conn := c.conn
	c.conn = nil
	loopDone := c.loopDone
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}

	switch {
	case loopDone == nil:
		close(c.done)
	case c.onLoop():
		go func() {
			<-loopDone
			close(c.done)
		}()
	default:
		<-loopDone
		close(c.done)
	}

	c.setState(StateClosed)
	c.logger.Info("Stream client closed")

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

// Done is closed once Close has been called and the connection goroutine
// has exited.
func (c *StreamClient) Done() <-chan struct{} {
	return c.done
}

// State returns the current connection state.
func (c *StreamClient) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// WaitForState blocks until the client is in state s or ctx is done.
func (c *StreamClient) WaitForState(ctx context.Context, s State) error {
	for {
		c.mu.Lock()
		current := c.state
		ch := c.stateCh
		c.mu.Unlock()

		if current == s {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for state %s (current %s): %w", s, current, ctx.Err())
		case <-ch:
		}
	}
}

// URL returns the endpoint the client connects to.
func (c *StreamClient) URL() string {
	return c.url
}

// SubscriberCount returns the number of registered subscribers.
func (c *StreamClient) SubscriberCount() int {
	return c.subs.len()
}

// ReconnectAttempts returns the number of reconnections scheduled since the
// last successful open.
func (c *StreamClient) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries
}

// run is the connection loop. It owns the transport until ctx is canceled or
// the reconnect budget is exhausted.
func (c *StreamClient) run(loopDone chan struct{}) {
	defer close(loopDone)
	c.loopID.Store(goroutineID())

	for {
		if c.ctx.Err() != nil {
			c.setState(StateClosed)
			return
		}

		c.setState(StateConnecting)
		c.metrics.incConnectAttempt()

		conn, err := c.dialer.Dial(c.ctx, c.url, c.header.Clone())
		if err != nil {
			c.setState(StateClosed)
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Warn("Failed to connect to feed", "error", err)
			c.reportError(&ConnectionError{Op: "dial", URL: c.url, Err: err})
		} else {
			if !c.attach(conn) {
				conn.Close()
				c.setState(StateClosed)
				return
			}
			c.setState(StateOpen)
			c.metrics.incConnectionOpened()
			c.logger.Info("Connected to feed")

			err = c.readLoop(conn)

			c.detach(conn)
			conn.Close()
			c.setState(StateClosed)
			c.metrics.incDisconnect()
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Warn("Disconnected from feed, reconnecting", "error", err)
			c.reportError(&ConnectionError{Op: "read", URL: c.url, Err: err})
		}

		attempt, ok := c.nextRetry()
		if !ok {
			c.logger.Error("Giving up on feed", "attempts", c.maxReconnectAttempts)
			c.reportError(fmt.Errorf("%w (%d)", ErrMaxReconnectAttempts, c.maxReconnectAttempts))
			return
		}

		delay := c.policy.Delay(attempt)
		c.logger.Debug("Scheduling reconnect", "attempt", attempt, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// attach installs conn as the active connection unless the client has been
// closed meanwhile.
func (c *StreamClient) attach(conn Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.conn = conn
	c.retries = 0
	return true
}

func (c *StreamClient) detach(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
	}
}

// nextRetry counts a reconnection attempt. It returns false, and stops the
// loop, once the budget is exhausted.
func (c *StreamClient) nextRetry() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.retries++
	if c.maxReconnectAttempts > 0 && c.retries > c.maxReconnectAttempts {
		c.running = false
		return c.retries, false
	}
	return c.retries, true
}

// readLoop reads frames until the connection fails.
func (c *StreamClient) readLoop(conn Conn) error {
	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.metrics.incFrameReceived()

		event, err := DecodeFrame(messageType, payload)
		if err != nil {
			c.metrics.incFrameDropped()
			c.logger.Debug("Dropping malformed frame", "error", err)
			c.reportError(err)
			continue
		}

		c.deliver(event)
	}
}

// deliver hands event to every subscriber registered when delivery starts
// and still registered when its turn comes.
func (c *StreamClient) deliver(event *Event) {
	for _, sub := range c.subs.snapshot() {
		if c.ctx.Err() != nil {
			return
		}
		if !sub.active.Load() {
			continue
		}
		c.invoke(sub, event)
	}
}

// invoke runs one handler, containing any panic.
func (c *StreamClient) invoke(sub *Subscription, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.incHandlerPanic()
			c.logger.Warn("Subscriber panicked", "subscription", sub.id, "type", event.Type, "panic", r)
			c.reportError(&HandlerPanicError{SubscriptionID: sub.id, EventType: event.Type, Value: r})
		}
	}()

	sub.handler(event)
	c.metrics.incEventDelivered()
}

func (c *StreamClient) reportError(err error) {
	if c.errorHook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Error hook panicked", "panic", r)
		}
	}()
	c.errorHook(err)
}

// setState records a transition and notifies waiters and the state hook.
// Setting the current state again is a no-op.
func (c *StreamClient) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	close(c.stateCh)
	c.stateCh = make(chan struct{})
	hook := c.stateHook
	c.mu.Unlock()

	c.metrics.setState(s)
	if hook == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("State hook panicked", "panic", r)
		}
	}()
	hook(s)
}

// onLoop reports whether the caller is running on the connection goroutine.
func (c *StreamClient) onLoop() bool {
	id := c.loopID.Load()
	return id != 0 && id == goroutineID()
}

// goroutineID parses the current goroutine's id from its stack header,
// "goroutine 18 [running]:".
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
