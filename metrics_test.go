package quic

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goburrow/quic/transport"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestMetricsObserveAccumulatesDeltasPerConnection(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("quince_test", reg)

	// Two distinct connections reporting into the same collector; each
	// must be diffed against its own previous snapshot, not a shared one.
	connAPrev := transport.Stats{}
	connBPrev := transport.Stats{}

	connACur := transport.Stats{PacketsSent: 10, PacketsReceived: 8, PacketsLost: 1}
	m.observe(connAPrev, connACur)
	connAPrev = connACur

	connBCur := transport.Stats{PacketsSent: 5, PacketsReceived: 4}
	m.observe(connBPrev, connBCur)
	connBPrev = connBCur

	assert.Equal(t, float64(15), counterValue(t, m.packetsSent))
	assert.Equal(t, float64(12), counterValue(t, m.packetsReceived))
	assert.Equal(t, float64(1), counterValue(t, m.packetsLost))

	connACur2 := transport.Stats{PacketsSent: 14, PacketsReceived: 8, PacketsLost: 3}
	m.observe(connAPrev, connACur2)

	connBCur2 := transport.Stats{PacketsSent: 9, PacketsReceived: 4}
	m.observe(connBPrev, connBCur2)

	assert.Equal(t, float64(15+4+4), counterValue(t, m.packetsSent))
	assert.Equal(t, float64(12+0+0), counterValue(t, m.packetsReceived))
	assert.Equal(t, float64(1+2), counterValue(t, m.packetsLost))
}
