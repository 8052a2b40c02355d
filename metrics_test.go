package twitchlinkr

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.state.WithLabelValues(string(StateClosed))))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.state.WithLabelValues(string(StateOpen))))

	m.frameReceived(MessageTypeNotification)
	m.frameReceived(MessageTypeNotification)
	m.frameReceived(MessageTypeKeepalive)
	m.decodeError()
	m.reconnectAttempt(reasonServerRequested)
	m.pingSent(1)
	m.pingSent(2)
	m.pongReceived(1)
	m.setState(StateOpen)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.framesReceived.WithLabelValues(string(MessageTypeNotification))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesReceived.WithLabelValues(string(MessageTypeKeepalive))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decodeErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconnects.WithLabelValues(string(reasonServerRequested))))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.pingsSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pongsReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outstandingPings))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.state.WithLabelValues(string(StateOpen))))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.state.WithLabelValues(string(StateClosed))))

	m.setState(StateClosed)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.outstandingPings))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetricsNil(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.frameReceived(MessageTypeWelcome)
		m.decodeError()
		m.duplicate()
		m.reconnectAttempt(reasonReadFailed)
		m.reconnectExhausted()
		m.pingSent(1)
		m.pongReceived(0)
		m.setState(StateOpen)
	})
}

func TestNewMetricsWithoutRegistry(t *testing.T) {
	m := NewMetrics(nil)
	m.duplicate()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.duplicates))
}
