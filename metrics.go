package quic

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/goburrow/quic/transport"
)

// Metrics is an optional Prometheus collector an endpoint reports
// per-connection transport.Stats into after every Read/Write cycle.
// Attaching one is opt-in (Config.Metrics), matching how every other
// pack repo that imports client_golang treats it as an attachable
// collector rather than a hard runtime dependency.
type Metrics struct {
	packetsSent      prometheus.Counter
	packetsReceived  prometheus.Counter
	packetsLost      prometheus.Counter
	congestionWindow prometheus.Gauge
	activeStreams    prometheus.Gauge
}

// NewMetrics builds and registers the connection counters/gauges under
// namespace, using reg (typically prometheus.DefaultRegisterer).
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		packetsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "quic", Name: "packets_sent_total",
			Help: "Total QUIC packets sent across all connections.",
		}),
		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "quic", Name: "packets_received_total",
			Help: "Total QUIC packets received across all connections.",
		}),
		packetsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "quic", Name: "packets_lost_total",
			Help: "Total QUIC packets declared lost across all connections.",
		}),
		congestionWindow: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "quic", Name: "congestion_window_bytes",
			Help: "Congestion window of the most recently observed connection.",
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "quic", Name: "active_streams",
			Help: "Active stream count of the most recently observed connection.",
		}),
	}
	reg.MustRegister(m.packetsSent, m.packetsReceived, m.packetsLost, m.congestionWindow, m.activeStreams)
	return m
}

// observe folds the delta between one connection's previous and
// current cumulative counters into the registered collectors. The
// caller (one goroutine per connection) owns prev, so no locking is
// needed here beyond what the prometheus collectors do internally.
func (m *Metrics) observe(prev, cur transport.Stats) {
	if cur.PacketsSent > prev.PacketsSent {
		m.packetsSent.Add(float64(cur.PacketsSent - prev.PacketsSent))
	}
	if cur.PacketsReceived > prev.PacketsReceived {
		m.packetsReceived.Add(float64(cur.PacketsReceived - prev.PacketsReceived))
	}
	if cur.PacketsLost > prev.PacketsLost {
		m.packetsLost.Add(float64(cur.PacketsLost - prev.PacketsLost))
	}
	m.congestionWindow.Set(float64(cur.CongestionWindow))
	m.activeStreams.Set(float64(cur.ActiveStreams))
}
