package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the Prometheus instruments for the transport. Only the
// session gauges/counters, TX owner changes and reconnect attempts are
// updated by the server and client code; the packet, byte, CRC-error,
// ring-buffer and TX-hold instruments are registered but nothing in this
// tree updates them.
type Collector struct {
	SessionsActive      prometheus.Gauge
	SessionsTotal       prometheus.Counter
	PacketsSent         prometheus.Counter
	PacketsReceived     prometheus.Counter
	BytesSent           prometheus.Counter
	BytesReceived       prometheus.Counter
	CRCErrorsTotal      prometheus.Counter
	RingBufferOverruns  prometheus.Counter
	RingBufferUnderruns prometheus.Counter
	TxOwnerChanges      prometheus.Counter
	TxHoldDuration      prometheus.Histogram
	ReconnectAttempts   prometheus.Counter
}

// NewCollector registers and returns a fresh set of instruments against
// reg. Pass prometheus.NewRegistry() in tests to avoid collisions with
// the global default registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "audio_nexus_sessions_active",
			Help: "Number of currently connected client sessions.",
		}),
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "audio_nexus_sessions_total",
			Help: "Total client sessions accepted since startup.",
		}),
		PacketsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "audio_nexus_packets_sent_total",
			Help: "Total framed packets sent.",
		}),
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "audio_nexus_packets_received_total",
			Help: "Total framed packets received.",
		}),
		BytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "audio_nexus_bytes_sent_total",
			Help: "Total wire bytes sent.",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "audio_nexus_bytes_received_total",
			Help: "Total wire bytes received.",
		}),
		CRCErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "audio_nexus_crc_errors_total",
			Help: "Total frame CRC validation failures.",
		}),
		RingBufferOverruns: factory.NewCounter(prometheus.CounterOpts{
			Name: "audio_nexus_ring_buffer_overruns_total",
			Help: "Total jitter-buffer overrun events (oldest data dropped).",
		}),
		RingBufferUnderruns: factory.NewCounter(prometheus.CounterOpts{
			Name: "audio_nexus_ring_buffer_underruns_total",
			Help: "Total jitter-buffer underrun (read-timeout) events.",
		}),
		TxOwnerChanges: factory.NewCounter(prometheus.CounterOpts{
			Name: "audio_nexus_tx_owner_changes_total",
			Help: "Total TX channel ownership transitions (grant, preempt, release).",
		}),
		TxHoldDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "audio_nexus_tx_hold_duration_seconds",
			Help:    "Duration a client held the TX channel.",
			Buckets: prometheus.DefBuckets,
		}),
		ReconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "audio_nexus_client_reconnect_attempts_total",
			Help: "Total client reconnect attempts.",
		}),
	}
}

// IncSessionsTotal satisfies server.MetricsSink.
func (c *Collector) IncSessionsTotal() { c.SessionsTotal.Inc() }

// SetSessionsActive satisfies server.MetricsSink.
func (c *Collector) SetSessionsActive(n int) { c.SessionsActive.Set(float64(n)) }

// IncCRCErrors satisfies server.MetricsSink and client.MetricsSink.
func (c *Collector) IncCRCErrors() { c.CRCErrorsTotal.Inc() }

// IncTxOwnerChanges satisfies server.MetricsSink.
func (c *Collector) IncTxOwnerChanges() { c.TxOwnerChanges.Inc() }

// IncReconnectAttempts satisfies client.MetricsSink.
func (c *Collector) IncReconnectAttempts() { c.ReconnectAttempts.Inc() }
