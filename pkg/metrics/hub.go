package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tokmz/stsrt/pkg/ws"
)

// HubMetrics 实时推送指标，实现 ws.Metrics
type HubMetrics struct {
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	Disconnections    *prometheus.CounterVec
	Topics            prometheus.Gauge
	MessagesEnqueued  *prometheus.CounterVec
	MessagesDelivered *prometheus.CounterVec
	MessagesDropped   *prometheus.CounterVec
	DeliveryLatency   prometheus.Histogram
	WriteErrors       prometheus.Counter
	InvalidFrames     prometheus.Counter
}

var _ ws.Metrics = (*HubMetrics)(nil)

func newHubMetrics(reg prometheus.Registerer) *HubMetrics {
	f := promauto.With(reg)
	return &HubMetrics{
		ConnectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "ws_connections_active",
			Help:      "Number of active WebSocket connections",
		}),
		ConnectionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ws_connections_total",
			Help:      "Total number of registered WebSocket connections",
		}),
		Disconnections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ws_disconnections_total",
			Help:      "Total number of WebSocket disconnections by reason",
		}, []string{"reason"}),
		Topics: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "ws_topics",
			Help:      "Number of topics with at least one subscriber",
		}),
		MessagesEnqueued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ws_messages_enqueued_total",
			Help:      "Total number of messages accepted into connection queues by type",
		}, []string{"type"}),
		MessagesDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ws_messages_delivered_total",
			Help:      "Total number of messages written to transports by type",
		}, []string{"type"}),
		MessagesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ws_messages_dropped_total",
			Help:      "Total number of messages dropped on queue overflow by priority",
		}, []string{"priority"}),
		DeliveryLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "ws_delivery_latency_seconds",
			Help:      "Time from message creation to transport write in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		WriteErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ws_write_errors_total",
			Help:      "Total number of transport write failures",
		}),
		InvalidFrames: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ws_invalid_frames_total",
			Help:      "Total number of rejected inbound frames",
		}),
	}
}

func (m *HubMetrics) ConnectionOpened() {
	m.ConnectionsTotal.Inc()
}

func (m *HubMetrics) ConnectionClosed(reason ws.CloseReason) {
	m.Disconnections.WithLabelValues(string(reason)).Inc()
}

func (m *HubMetrics) SetConnectionCount(count int) {
	m.ConnectionsActive.Set(float64(count))
}

func (m *HubMetrics) SetTopicCount(count int) {
	m.Topics.Set(float64(count))
}

func (m *HubMetrics) MessageEnqueued(msgType ws.MessageType) {
	m.MessagesEnqueued.WithLabelValues(string(msgType)).Inc()
}

func (m *HubMetrics) MessageDelivered(msgType ws.MessageType, latency time.Duration) {
	m.MessagesDelivered.WithLabelValues(string(msgType)).Inc()
	m.DeliveryLatency.Observe(latency.Seconds())
}

func (m *HubMetrics) MessageDropped(priority ws.Priority) {
	m.MessagesDropped.WithLabelValues(priority.String()).Inc()
}

func (m *HubMetrics) WriteError() {
	m.WriteErrors.Inc()
}

func (m *HubMetrics) InvalidFrame() {
	m.InvalidFrames.Inc()
}
