package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "meshlog"

// Metrics 数据包处理流程的 Prometheus 指标
type Metrics struct {
	PacketsReceived     prometheus.Counter
	PacketErrors        prometheus.Counter
	PositionsStored     prometheus.Counter
	PositionsSuppressed prometheus.Counter
	MessagesReceived    prometheus.Counter
	RepliesSent         prometheus.Counter
	NodesSeen           prometheus.Counter
	ProcessingDuration  prometheus.Histogram
	PipelineRunning     prometheus.Gauge
}

// NewMetrics 创建指标并注册到默认 registry
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting 创建未注册的指标，避免测试中重复注册 panic
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "Total packets handed to the ingest pipeline.",
		}),
		PacketErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packet_errors_total",
			Help:      "Total packets that failed processing.",
		}),
		PositionsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "positions_stored_total",
			Help:      "Position observations accepted and stored.",
		}),
		PositionsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "positions_suppressed_total",
			Help:      "Position observations dropped by the dedup thresholds.",
		}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Text messages stored.",
		}),
		RepliesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_sent_total",
			Help:      "Automatic replies sent back to the mesh.",
		}),
		NodesSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_names_seen_total",
			Help:      "Packets whose sender name was resolved from the node directory.",
		}),
		ProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "packet_processing_duration_seconds",
			Help:      "Time spent processing and committing one packet.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5},
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while the source is delivering packets, 0 otherwise.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.PacketsReceived,
		m.PacketErrors,
		m.PositionsStored,
		m.PositionsSuppressed,
		m.MessagesReceived,
		m.RepliesSent,
		m.NodesSeen,
		m.ProcessingDuration,
		m.PipelineRunning,
	}
}
