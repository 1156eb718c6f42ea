package stream

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melonhq/dashfeed/internal/testutil"
)

func TestDecodeFrame(t *testing.T) {
	t.Parallel()

	t.Run("decodes notification frame verbatim", func(t *testing.T) {
		t.Parallel()

		event, err := DecodeFrame(websocket.TextMessage, []byte(testutil.SampleNotificationFrame))
		require.NoError(t, err)

		assert.Equal(t, "notification", event.Type)
		assert.True(t, event.Is(MessageTypeNotification))
		assert.JSONEq(t, testutil.SampleNotificationFrame, string(event.Raw))
		assert.JSONEq(t, `{"title":"BTC Spike","body":"+5% in 10m","timestamp":1700000000000}`, string(event.Data))
		assert.False(t, event.ReceivedAt.IsZero())
	})

	t.Run("does not interpret unknown types", func(t *testing.T) {
		t.Parallel()

		event, err := DecodeFrame(websocket.TextMessage, []byte(testutil.SampleTickerFrame))
		require.NoError(t, err)
		assert.Equal(t, "ticker", event.Type)
		assert.False(t, event.Is(MessageTypeNotification))
	})

	t.Run("accepts frames without data", func(t *testing.T) {
		t.Parallel()

		event, err := DecodeFrame(websocket.TextMessage, []byte(`{"type":"ping"}`))
		require.NoError(t, err)
		assert.Equal(t, "ping", event.Type)
		assert.Nil(t, event.Data)

		event, err = DecodeFrame(websocket.TextMessage, []byte(`{"type":"ping","data":null}`))
		require.NoError(t, err)
		assert.Nil(t, event.Data)
	})

	t.Run("tolerates surrounding whitespace", func(t *testing.T) {
		t.Parallel()

		event, err := DecodeFrame(websocket.TextMessage, []byte("\n  "+testutil.SampleSignalFrame+"\n"))
		require.NoError(t, err)
		assert.Equal(t, "notification", event.Type)
	})

	t.Run("raw does not alias the payload", func(t *testing.T) {
		t.Parallel()

		payload := []byte(testutil.SampleTickerFrame)
		event, err := DecodeFrame(websocket.TextMessage, payload)
		require.NoError(t, err)

		for i := range payload {
			payload[i] = 'x'
		}
		assert.JSONEq(t, testutil.SampleTickerFrame, string(event.Raw))
	})

	for reason, frame := range testutil.MalformedFrames() {
		t.Run("rejects "+reason, func(t *testing.T) {
			t.Parallel()

			event, err := DecodeFrame(websocket.TextMessage, []byte(frame))
			require.Error(t, err)
			assert.Nil(t, event)
			assert.ErrorIs(t, err, ErrMalformedFrame)

			var decodeErr *DecodeError
			require.True(t, errors.As(err, &decodeErr))
		})
	}

	t.Run("rejects binary frames", func(t *testing.T) {
		t.Parallel()

		_, err := DecodeFrame(websocket.BinaryMessage, []byte(testutil.SampleNotificationFrame))
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})

	t.Run("rejects invalid UTF-8", func(t *testing.T) {
		t.Parallel()

		_, err := DecodeFrame(websocket.TextMessage, []byte{'{', '"', 't', 0xff, 0xfe, '}'})
		assert.ErrorIs(t, err, ErrMalformedFrame)
	})

	t.Run("truncates payload preview", func(t *testing.T) {
		t.Parallel()

		big := make([]byte, 4096)
		for i := range big {
			big[i] = 'a'
		}
		_, err := DecodeFrame(websocket.TextMessage, big)

		var decodeErr *DecodeError
		require.True(t, errors.As(err, &decodeErr))
		assert.Len(t, decodeErr.Payload, maxPayloadPreview)
	})
}

func TestNewEvent(t *testing.T) {
	t.Parallel()

	event, err := NewNotificationEvent(Notification{
		Title:   "Auto-Trade Exécuté",
		Body:    "L'IA a passé un ordre BUY pour AAPL automatiquement.",
		Kind:    NotificationKindAutoTradeExecuted,
		TradeID: 42,
	})
	require.NoError(t, err)

	data, err := event.Marshal()
	require.NoError(t, err)

	decoded, err := DecodeFrame(websocket.TextMessage, data)
	require.NoError(t, err)
	assert.Equal(t, string(MessageTypeNotification), decoded.Type)

	n, err := decoded.NotificationData()
	require.NoError(t, err)
	assert.Equal(t, "Auto-Trade Exécuté", n.Title)
	assert.Equal(t, NotificationKindAutoTradeExecuted, n.Kind)
	assert.Equal(t, int64(42), n.TradeID)
}

func TestNewEventUnserializable(t *testing.T) {
	t.Parallel()

	_, err := NewEvent("bad", make(chan int))
	require.Error(t, err)

	assert.Panics(t, func() {
		MustNewEvent("bad", func() {})
	})
}

func TestEventNotificationData(t *testing.T) {
	t.Parallel()

	t.Run("decodes backend fields", func(t *testing.T) {
		t.Parallel()

		event, err := DecodeFrame(websocket.TextMessage, []byte(testutil.SampleSignalFrame))
		require.NoError(t, err)

		n, err := event.NotificationData()
		require.NoError(t, err)
		assert.Equal(t, NotificationKindNewSignal, n.Kind)
		assert.Equal(t, "AAPL", n.Symbol)
		assert.Equal(t, "BUY", n.Side)
		assert.InDelta(t, 0.87, n.Confidence, 1e-9)
	})

	t.Run("keeps timestamp in its wire form", func(t *testing.T) {
		t.Parallel()

		event, err := DecodeFrame(websocket.TextMessage, []byte(testutil.SampleNotificationFrame))
		require.NoError(t, err)

		n, err := event.NotificationData()
		require.NoError(t, err)
		assert.Equal(t, json.RawMessage("1700000000000"), n.Timestamp)
	})

	t.Run("rejects other types", func(t *testing.T) {
		t.Parallel()

		event, err := DecodeFrame(websocket.TextMessage, []byte(testutil.SampleTickerFrame))
		require.NoError(t, err)

		_, err = event.NotificationData()
		assert.Error(t, err)
	})
}

func TestEventDecodeData(t *testing.T) {
	t.Parallel()

	event, err := DecodeFrame(websocket.TextMessage, []byte(testutil.SampleTickerFrame))
	require.NoError(t, err)

	var ticker struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	require.NoError(t, event.DecodeData(&ticker))
	assert.Equal(t, "BTCUSD", ticker.Symbol)

	empty, err := DecodeFrame(websocket.TextMessage, []byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.Error(t, empty.DecodeData(&ticker))
}
