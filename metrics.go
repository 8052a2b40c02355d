package twitchlinkr

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus collectors for a WebSocketClient. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	framesReceived   *prometheus.CounterVec
	decodeErrors     prometheus.Counter
	duplicates       prometheus.Counter
	reconnects       *prometheus.CounterVec
	reconnectFailure prometheus.Counter
	pingsSent        prometheus.Counter
	pongsReceived    prometheus.Counter
	outstandingPings prometheus.Gauge
	state            *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them on the default handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "twitchlinkr",
			Subsystem: "eventsub",
			Name:      "frames_received_total",
			Help:      "Decoded EventSub frames by message type.",
		}, []string{"message_type"}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "twitchlinkr",
			Subsystem: "eventsub",
			Name:      "decode_errors_total",
			Help:      "Frames dropped because they could not be decoded.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "twitchlinkr",
			Subsystem: "eventsub",
			Name:      "duplicate_notifications_total",
			Help:      "Notifications dropped because their message id was already seen.",
		}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "twitchlinkr",
			Subsystem: "eventsub",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts by trigger.",
		}, []string{"reason"}),
		reconnectFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "twitchlinkr",
			Subsystem: "eventsub",
			Name:      "reconnect_exhausted_total",
			Help:      "Reconnects that used up their attempt budget.",
		}),
		pingsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "twitchlinkr",
			Subsystem: "eventsub",
			Name:      "pings_sent_total",
			Help:      "Heartbeat pings written to the socket.",
		}),
		pongsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "twitchlinkr",
			Subsystem: "eventsub",
			Name:      "pongs_received_total",
			Help:      "Heartbeat pongs read from the socket.",
		}),
		outstandingPings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "twitchlinkr",
			Subsystem: "eventsub",
			Name:      "outstanding_pings",
			Help:      "Pings sent but not yet answered.",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "twitchlinkr",
			Subsystem: "eventsub",
			Name:      "connection_state",
			Help:      "1 for the current connection state, 0 otherwise.",
		}, []string{"state"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.framesReceived,
			m.decodeErrors,
			m.duplicates,
			m.reconnects,
			m.reconnectFailure,
			m.pingsSent,
			m.pongsReceived,
			m.outstandingPings,
			m.state,
		)
	}
	m.setState(StateClosed)
	return m
}

func (m *Metrics) frameReceived(t MessageType) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) decodeError() {
	if m == nil {
		return
	}
	m.decodeErrors.Inc()
}

func (m *Metrics) duplicate() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

func (m *Metrics) reconnectAttempt(reason reconnectReason) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) reconnectExhausted() {
	if m == nil {
		return
	}
	m.reconnectFailure.Inc()
}

func (m *Metrics) pingSent(outstanding int) {
	if m == nil {
		return
	}
	m.pingsSent.Inc()
	m.outstandingPings.Set(float64(outstanding))
}

func (m *Metrics) pongReceived(outstanding int) {
	if m == nil {
		return
	}
	m.pongsReceived.Inc()
	m.outstandingPings.Set(float64(outstanding))
}

func (m *Metrics) setState(state ConnectionState) {
	if m == nil {
		return
	}
	for _, s := range []ConnectionState{StateClosed, StateConnecting, StateOpen} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.state.WithLabelValues(string(s)).Set(v)
	}
	if state == StateClosed {
		m.outstandingPings.Set(0)
	}
}
