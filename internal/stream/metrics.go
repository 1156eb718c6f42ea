package stream

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report client activity. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	connectAttempts   prometheus.Counter
	connectionsOpened prometheus.Counter
	disconnects       prometheus.Counter
	framesReceived    prometheus.Counter
	framesDropped     prometheus.Counter
	eventsDelivered   prometheus.Counter
	handlerPanics     prometheus.Counter
	state             prometheus.Gauge
	subscribers       prometheus.Gauge
}

// NewMetrics constructs Metrics and registers them with reg. When a collector
// with the same name is already registered it is reused, so several clients
// may share one registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dashfeed",
			Subsystem: "client",
			Name:      name,
			Help:      help,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dashfeed",
			Subsystem: "client",
			Name:      name,
			Help:      help,
		})
	}

	m := &Metrics{
		connectAttempts:   counter("connect_attempts_total", "Connection attempts started."),
		connectionsOpened: counter("connections_opened_total", "Connections that reached the open state."),
		disconnects:       counter("disconnects_total", "Open connections that were lost or closed."),
		framesReceived:    counter("frames_received_total", "Frames read from the transport."),
		framesDropped:     counter("frames_dropped_total", "Frames dropped because they could not be decoded."),
		eventsDelivered:   counter("events_delivered_total", "Handler invocations that completed."),
		handlerPanics:     counter("handler_panics_total", "Handler invocations that panicked."),
		state:             gauge("state", "Connection state: 0 closed, 1 connecting, 2 open."),
		subscribers:       gauge("subscribers", "Registered subscribers."),
	}

	register := func(c prometheus.Collector) (prometheus.Collector, error) {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				return already.ExistingCollector, nil
			}
			return nil, err
		}
		return c, nil
	}

	counters := []*prometheus.Counter{
		&m.connectAttempts, &m.connectionsOpened, &m.disconnects, &m.framesReceived,
		&m.framesDropped, &m.eventsDelivered, &m.handlerPanics,
	}
	for _, c := range counters {
		got, err := register(*c)
		if err != nil {
			return nil, err
		}
		*c = got.(prometheus.Counter)
	}
	for _, g := range []*prometheus.Gauge{&m.state, &m.subscribers} {
		got, err := register(*g)
		if err != nil {
			return nil, err
		}
		*g = got.(prometheus.Gauge)
	}

	return m, nil
}

// MustNewMetrics is like NewMetrics but panics on registration errors.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	m, err := NewMetrics(reg)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Metrics) incConnectAttempt() {
	if m != nil {
		m.connectAttempts.Inc()
	}
}

func (m *Metrics) incConnectionOpened() {
	if m != nil {
		m.connectionsOpened.Inc()
	}
}

func (m *Metrics) incDisconnect() {
	if m != nil {
		m.disconnects.Inc()
	}
}

func (m *Metrics) incFrameReceived() {
	if m != nil {
		m.framesReceived.Inc()
	}
}

func (m *Metrics) incFrameDropped() {
	if m != nil {
		m.framesDropped.Inc()
	}
}

func (m *Metrics) incEventDelivered() {
	if m != nil {
		m.eventsDelivered.Inc()
	}
}

func (m *Metrics) incHandlerPanic() {
	if m != nil {
		m.handlerPanics.Inc()
	}
}

func (m *Metrics) setState(s State) {
	if m != nil {
		m.state.Set(float64(s))
	}
}

func (m *Metrics) setSubscribers(n int) {
	if m != nil {
		m.subscribers.Set(float64(n))
	}
}
