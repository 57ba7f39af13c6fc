package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DaemonMetrics instruments the daemon's protocol and transfer activity.
type DaemonMetrics struct {
	packetsReceived  *prometheus.CounterVec
	packetsSent      *prometheus.CounterVec
	connectedDevices prometheus.Gauge
	pairedDevices    prometheus.Gauge
	discoveries      prometheus.Counter
	transferBytes    *prometheus.CounterVec
	transfersTotal   *prometheus.CounterVec
	transferDuration *prometheus.HistogramVec
}

// NewDaemonMetrics builds the daemon metric set, or nil when metrics are
// disabled.
func NewDaemonMetrics() *DaemonMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()

	return &DaemonMetrics{
		packetsReceived: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cconnect_packets_received_total",
				Help: "Control packets received by packet type",
			},
			[]string{"type"},
		),
		packetsSent: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cconnect_packets_sent_total",
				Help: "Control packets sent by packet type",
			},
			[]string{"type"},
		),
		connectedDevices: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "cconnect_connected_devices",
				Help: "Devices with a live TLS session",
			},
		),
		pairedDevices: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "cconnect_paired_devices",
				Help: "Devices with persisted trust",
			},
		),
		discoveries: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "cconnect_discovery_announcements_total",
				Help: "UDP identity announcements received",
			},
		),
		transferBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cconnect_transfer_bytes_total",
				Help: "Bulk payload bytes moved by direction",
			},
			[]string{"direction"},
		),
		transfersTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "cconnect_transfers_total",
				Help: "Completed transfers by direction and result",
			},
			[]string{"direction", "result"},
		),
		transferDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cconnect_transfer_duration_seconds",
				Help:    "Wall time of completed transfers",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"direction"},
		),
	}
}

// RecordPacketReceived counts one inbound control packet.
func (m *DaemonMetrics) RecordPacketReceived(packetType string) {
	if m == nil {
		return
	}
	m.packetsReceived.WithLabelValues(packetType).Inc()
}

// RecordPacketSent counts one outbound control packet.
func (m *DaemonMetrics) RecordPacketSent(packetType string) {
	if m == nil {
		return
	}
	m.packetsSent.WithLabelValues(packetType).Inc()
}

// SetConnectedDevices tracks the live session count.
func (m *DaemonMetrics) SetConnectedDevices(n int) {
	if m == nil {
		return
	}
	m.connectedDevices.Set(float64(n))
}

// SetPairedDevices tracks the trusted device count.
func (m *DaemonMetrics) SetPairedDevices(n int) {
	if m == nil {
		return
	}
	m.pairedDevices.Set(float64(n))
}

// RecordDiscovery counts one received identity broadcast.
func (m *DaemonMetrics) RecordDiscovery() {
	if m == nil {
		return
	}
	m.discoveries.Inc()
}

// RecordTransferProgress accumulates payload bytes.
func (m *DaemonMetrics) RecordTransferProgress(direction string, bytes int64) {
	if m == nil {
		return
	}
	m.transferBytes.WithLabelValues(direction).Add(float64(bytes))
}

// RecordTransferComplete counts a finished transfer and its duration.
func (m *DaemonMetrics) RecordTransferComplete(direction string, success bool, seconds float64) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.transfersTotal.WithLabelValues(direction, result).Inc()
	m.transferDuration.WithLabelValues(direction).Observe(seconds)
}
