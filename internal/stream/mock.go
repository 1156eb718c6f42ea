package stream

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MockDialer implements Dialer in memory. Each successful Dial returns a new
// MockConn that tests feed frames into. It is exported for tests in other
// packages.
type MockDialer struct {
	mu      sync.Mutex
	calls   int
	errs    []error
	gate    chan struct{}
	conns   []*MockConn
	headers []http.Header
	dialed  chan *MockConn
}

// NewMockDialer creates a MockDialer whose dials succeed.
func NewMockDialer() *MockDialer {
	return &MockDialer{dialed: make(chan *MockConn, 64)}
}

// Dial implements Dialer.
func (d *MockDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	d.mu.Lock()
	d.calls++
	d.headers = append(d.headers, header)
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-gate:
		}
	}

	d.mu.Lock()
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		d.mu.Unlock()
		return nil, err
	}
	conn := NewMockConn()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()

	select {
	case d.dialed <- conn:
	default:
	}
	return conn, nil
}

// FailNext makes the next len(errs) dials fail with the given errors.
func (d *MockDialer) FailNext(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, errs...)
}

// Hold makes dials block until Release is called or their context ends.
func (d *MockDialer) Hold() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gate == nil {
		d.gate = make(chan struct{})
	}
}

// Release unblocks held dials.
func (d *MockDialer) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gate != nil {
		close(d.gate)
		d.gate = nil
	}
}

// Calls returns the number of Dial calls so far.
func (d *MockDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// Conns returns every connection handed out so far.
func (d *MockDialer) Conns() []*MockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*MockConn, len(d.conns))
	copy(out, d.conns)
	return out
}

// LastHeader returns the handshake header of the most recent dial.
func (d *MockDialer) LastHeader() http.Header {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.headers) == 0 {
		return nil
	}
	return d.headers[len(d.headers)-1]
}

// NextConn waits for the next successful dial.
func (d *MockDialer) NextConn(timeout time.Duration) (*MockConn, error) {
	select {
	case conn := <-d.dialed:
		return conn, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("no connection dialed within %v", timeout)
	}
}

type mockFrame struct {
	messageType int
	data        []byte
	err         error
}

// MockConn is an in-memory Conn.
type MockConn struct {
	frames    chan mockFrame
	closed    chan struct{}
	closeOnce sync.Once
}

// NewMockConn creates an open MockConn.
func NewMockConn() *MockConn {
	return &MockConn{
		frames: make(chan mockFrame, 256),
		closed: make(chan struct{}),
	}
}

// ReadMessage implements Conn.
func (c *MockConn) ReadMessage() (int, []byte, error) {
	select {
	case <-c.closed:
		return 0, nil, net.ErrClosed
	default:
	}

	select {
	case <-c.closed:
		return 0, nil, net.ErrClosed
	case f := <-c.frames:
		if f.err != nil {
			return 0, nil, f.err
		}
		return f.messageType, f.data, nil
	}
}

// Close implements Conn.
func (c *MockConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// IsClosed reports whether Close has been called.
func (c *MockConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// SendText queues a text frame.
func (c *MockConn) SendText(s string) {
	c.frames <- mockFrame{messageType: websocket.TextMessage, data: []byte(s)}
}

// SendFrame queues a frame with an explicit message type.
func (c *MockConn) SendFrame(messageType int, data []byte) {
	c.frames <- mockFrame{messageType: messageType, data: data}
}

// SendEvent queues the wire form of e.
func (c *MockConn) SendEvent(e *Event) error {
	data, err := e.Marshal()
	if err != nil {
		return err
	}
	c.SendText(string(data))
	return nil
}

// Drop makes the pending read fail after the queued frames, as if the
// server went away. A nil err means io.EOF.
func (c *MockConn) Drop(err error) {
	if err == nil {
		err = io.EOF
	}
	c.frames <- mockFrame{err: err}
}
