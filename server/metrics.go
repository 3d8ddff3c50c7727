package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of one server. Each server has its
// own registry so several can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	connectedClients    prometheus.Gauge
	activeSessions      prometheus.Gauge
	connectionsAccepted prometheus.Counter
	disconnects         *prometheus.CounterVec
	authFailures        *prometheus.CounterVec

	messagesReceived *prometheus.CounterVec
	messagesSent     *prometheus.CounterVec
	chatRouted       prometheus.Counter
	handleDuration   *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		connectedClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "msgserver_connected_clients",
			Help: "Accepted connections, authenticated or not",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "msgserver_active_sessions",
			Help: "Authenticated clients in the socket table",
		}),
		connectionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "msgserver_connections_accepted_total",
			Help: "Total number of accepted connections",
		}),
		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "msgserver_disconnects_total",
			Help: "Total number of closed connections by reason",
		}, []string{"reason"}),
		authFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "msgserver_auth_failures_total",
			Help: "Total number of rejected handshakes by reason",
		}, []string{"reason"}),
		messagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "msgserver_messages_received_total",
			Help: "Total number of messages received from clients by kind",
		}, []string{"kind"}),
		messagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "msgserver_messages_sent_total",
			Help: "Total number of messages sent to clients by kind",
		}, []string{"kind"}),
		chatRouted: factory.NewCounter(prometheus.CounterOpts{
			Name: "msgserver_chat_routed_total",
			Help: "Total number of chat messages delivered to a recipient",
		}),
		handleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "msgserver_handle_duration_seconds",
			Help:    "Time spent handling one message on the reactor",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
	}
}

// Registry exposes the collectors for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordConnectedClients(count int) {
	m.connectedClients.Set(float64(count))
}

func (m *Metrics) RecordActiveSessions(count int) {
	m.activeSessions.Set(float64(count))
}

func (m *Metrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *Metrics) RecordDisconnect(reason string) {
	m.disconnects.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordAuthFailure(reason string) {
	m.authFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordMessageReceived(kind string) {
	m.messagesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordMessageSent(kind string) {
	m.messagesSent.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordChatRouted() {
	m.chatRouted.Inc()
}

func (m *Metrics) RecordHandleDuration(kind string, d time.Duration) {
	m.handleDuration.WithLabelValues(kind).Observe(d.Seconds())
}
