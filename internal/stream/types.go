// Package stream provides the real-time event feed client for the dashboard:
// a receive-only WebSocket client that keeps one connection open, reconnects
// on failure, and fans decoded events out to in-process subscribers.
package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
)

// MessageType identifies the type of message in the stream. The client never
// branches on it; the constants exist for subscribers and the hub.
type MessageType string

const (
	// MessageTypeNotification is a user-facing notification pushed by the backend.
	MessageTypeNotification MessageType = "notification"
)

// Notification kinds sent by the backend in the "type" field of a
// notification body.
const (
	NotificationKindInfo              = "INFO"
	NotificationKindWarning           = "WARNING"
	NotificationKindTrade             = "TRADE"
	NotificationKindPaymentSuccess    = "PAYMENT_SUCCESS"
	NotificationKindNewSignal         = "NEW_SIGNAL"
	NotificationKindAutoTradeExecuted = "AUTO_TRADE_EXECUTED"
)

// Event is one decoded frame. Events are immutable once decoded; Data and Raw
// are shared between every subscriber and must not be modified.
type Event struct {
	// Type is the routing discriminator of the frame.
	Type string `json:"type"`

	// Data is the body of the frame, verbatim. Nil when the frame had none.
	Data json.RawMessage `json:"data,omitempty"`

	// Raw is the complete frame as received.
	Raw json.RawMessage `json:"-"`

	// ReceivedAt is when the client decoded the frame.
	ReceivedAt time.Time `json:"-"`
}

// Notification is the body of a "notification" event.
type Notification struct {
	Title      string          `json:"title"`
	Body       string          `json:"body"`
	Kind       string          `json:"type,omitempty"`
	Timestamp  json.RawMessage `json:"timestamp,omitempty"`
	Amount     string          `json:"amount,omitempty"`
	Symbol     string          `json:"symbol,omitempty"`
	Side       string          `json:"side,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
	TradeID    int64           `json:"trade_id,omitempty"`
}

// NewEvent creates an Event with the given type and data. Raw is populated
// with the encoded frame so the event can be sent as-is.
func NewEvent(msgType MessageType, data any) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}

	e := &Event{
		Type: string(msgType),
		Data: dataBytes,
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	e.Raw = raw
	return e, nil
}

// MustNewEvent creates a new Event, panicking on error.
// Use only when the data is known to be serializable.
func MustNewEvent(msgType MessageType, data any) *Event {
	e, err := NewEvent(msgType, data)
	if err != nil {
		panic(err)
	}
	return e
}

// NewNotificationEvent wraps n the way the backend does:
// {"type":"notification","data":{...}}.
func NewNotificationEvent(n Notification) (*Event, error) {
	return NewEvent(MessageTypeNotification, n)
}

// Marshal returns the wire form of the event. Decoded events return Raw
// unchanged.
func (e *Event) Marshal() ([]byte, error) {
	if len(e.Raw) > 0 {
		return e.Raw, nil
	}
	return json.Marshal(e)
}

// Is reports whether the event has the given type.
func (e *Event) Is(msgType MessageType) bool {
	return e != nil && e.Type == string(msgType)
}

// NotificationData returns the notification body if this is a notification event.
func (e *Event) NotificationData() (*Notification, error) {
	if !e.Is(MessageTypeNotification) {
		return nil, fmt.Errorf("event is not a notification event: %s", e.Type)
	}
	var n Notification
	if err := json.Unmarshal(e.Data, &n); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notification data: %w", err)
	}
	return &n, nil
}

// DecodeData unmarshals the event body into v.
func (e *Event) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("event %s has no data", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s data: %w", e.Type, err)
	}
	return nil
}

// frameEnvelope is used to validate the outer shape of a frame.
type frameEnvelope struct {
	Type *json.RawMessage `json:"type"`
	Data json.RawMessage  `json:"data"`
}

// DecodeFrame turns one transport frame into an Event. messageType is the
// WebSocket message type reported by the connection. Every failure is a
// *DecodeError wrapping ErrMalformedFrame.
func DecodeFrame(messageType int, payload []byte) (*Event, error) {
	if messageType != websocket.TextMessage {
		return nil, newDecodeError(payload, fmt.Errorf("unexpected message type %d", messageType))
	}
	if !utf8.Valid(payload) {
		return nil, newDecodeError(payload, errors.New("payload is not valid UTF-8"))
	}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, newDecodeError(payload, errors.New("payload is not a JSON object"))
	}

	var env frameEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, newDecodeError(payload, err)
	}
	if env.Type == nil {
		return nil, newDecodeError(payload, errors.New("missing type field"))
	}
	var msgType string
	if err := json.Unmarshal(*env.Type, &msgType); err != nil {
		return nil, newDecodeError(payload, errors.New("type field is not a string"))
	}
	if msgType == "" {
		return nil, newDecodeError(payload, errors.New("type field is empty"))
	}

	var data json.RawMessage
	if len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
		data = env.Data
	}

	raw := make([]byte, len(trimmed))
	copy(raw, trimmed)

	return &Event{
		Type:       msgType,
		Data:       data,
		Raw:        raw,
		ReceivedAt: time.Now().UTC(),
	}, nil
}
