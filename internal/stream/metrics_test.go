package stream

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melonhq/dashfeed/internal/testutil"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()

	t.Run("registers collectors", func(t *testing.T) {
		t.Parallel()

		reg := prometheus.NewRegistry()
		_, err := NewMetrics(reg)
		require.NoError(t, err)

		families, err := reg.Gather()
		require.NoError(t, err)
		names := make([]string, 0, len(families))
		for _, f := range families {
			names = append(names, f.GetName())
		}
		assert.Contains(t, names, "dashfeed_client_connect_attempts_total")
		assert.Contains(t, names, "dashfeed_client_state")
		assert.Contains(t, names, "dashfeed_client_subscribers")
	})

	t.Run("shares collectors on one registry", func(t *testing.T) {
		t.Parallel()

		reg := prometheus.NewRegistry()
		a, err := NewMetrics(reg)
		require.NoError(t, err)
		b, err := NewMetrics(reg)
		require.NoError(t, err)

		a.incFrameReceived()
		b.incFrameReceived()
		assert.Equal(t, 2.0, promtestutil.ToFloat64(a.framesReceived))
	})

	t.Run("nil metrics record nothing", func(t *testing.T) {
		t.Parallel()

		var m *Metrics
		assert.NotPanics(t, func() {
			m.incConnectAttempt()
			m.incHandlerPanic()
			m.setState(StateOpen)
			m.setSubscribers(3)
		})
	})
}

func TestClientMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)
	c, d := newTestClient(t, WithMetrics(m))

	c.Subscribe(func(*Event) {})
	c.Subscribe(func(*Event) { panic("bad subscriber") })
	assert.Equal(t, 2.0, promtestutil.ToFloat64(m.subscribers))

	d.FailNext(errors.New("refused"))
	conn := connectOpen(t, c, d)
	testutil.WaitFor(t, time.Second, func() bool {
		return promtestutil.ToFloat64(m.state) == float64(StateOpen)
	}, "state gauge open")

	conn.SendText("{")
	conn.SendText(testutil.SampleNotificationFrame)

	testutil.WaitFor(t, time.Second, func() bool {
		return promtestutil.ToFloat64(m.handlerPanics) == 1
	}, "handler panic counted")

	assert.Equal(t, 2.0, promtestutil.ToFloat64(m.connectAttempts))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.connectionsOpened))
	assert.Equal(t, 2.0, promtestutil.ToFloat64(m.framesReceived))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.framesDropped))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.eventsDelivered))

	require.NoError(t, c.Close())
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.disconnects))
	assert.Equal(t, float64(StateClosed), promtestutil.ToFloat64(m.state))
}
