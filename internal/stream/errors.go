package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrClientClosed is returned by Connect after Close.
	ErrClientClosed = errors.New("stream client is closed")

	// ErrMalformedFrame is wrapped by every DecodeError.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrMaxReconnectAttempts is reported to the error hook when the
	// configured number of reconnection attempts is exhausted.
	ErrMaxReconnectAttempts = errors.New("max reconnection attempts exceeded")
)

// maxPayloadPreview bounds how much of a bad frame is kept for diagnostics.
const maxPayloadPreview = 256

// DecodeError describes a frame that was dropped because it could not be
// decoded into an Event.
type DecodeError struct {
	// Payload holds at most the first 256 bytes of the frame.
	Payload []byte
	Err     error
}

func newDecodeError(payload []byte, err error) *DecodeError {
	n := len(payload)
	if n > maxPayloadPreview {
		n = maxPayloadPreview
	}
	preview := make([]byte, n)
	copy(preview, payload[:n])
	return &DecodeError{Payload: preview, Err: err}
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %v", ErrMalformedFrame, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrMalformedFrame, e.Err}
}

// HandlerPanicError is reported when a subscriber panics while handling an
// event. Delivery to the other subscribers continues.
type HandlerPanicError struct {
	SubscriptionID uint64
	EventType      string
	Value          any
}

func (e *HandlerPanicError) Error() string {
	return fmt.Sprintf("subscriber %d panicked handling %q event: %v", e.SubscriptionID, e.EventType, e.Value)
}

// ConnectionError is a transport failure. Op is "dial" or "read".
type ConnectionError struct {
	Op  string
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
