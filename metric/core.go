package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the core metrics every web-video-server instance exposes.
// Component-specific metrics are registered separately through MetricsRegistrar.
type Metrics struct {
	// RequestsTotal counts inbound HTTP requests by path
	RequestsTotal *prometheus.CounterVec
	// RequestFaults counts handler faults recovered at the router boundary
	RequestFaults *prometheus.CounterVec
	// ActiveSessions tracks the number of sessions currently held by the registry
	ActiveSessions prometheus.Gauge
	// SessionsStarted counts sessions created and started, by codec
	SessionsStarted *prometheus.CounterVec
	// SessionsReaped counts sessions removed by the cleanup sweep, by codec
	SessionsReaped *prometheus.CounterVec
	// FramesDelivered counts frames delivered to sessions, by topic
	FramesDelivered *prometheus.CounterVec
	// BusConnected reports bus connection state (1 connected, 0 not)
	BusConnected prometheus.Gauge
}

// NewMetrics creates the core metrics set
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "web_video_server",
			Name:      "requests_total",
			Help:      "Total inbound HTTP requests",
		}, []string{"path"}),

		RequestFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "web_video_server",
			Name:      "request_faults_total",
			Help:      "Handler faults recovered at the router boundary",
		}, []string{"path"}),

		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "web_video_server",
			Name:      "active_sessions",
			Help:      "Sessions currently held by the session registry",
		}),

		SessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "web_video_server",
			Name:      "sessions_started_total",
			Help:      "Sessions created and started",
		}, []string{"codec"}),

		SessionsReaped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "web_video_server",
			Name:      "sessions_reaped_total",
			Help:      "Sessions removed by the cleanup sweep",
		}, []string{"codec"}),

		FramesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "web_video_server",
			Name:      "frames_delivered_total",
			Help:      "Frames delivered to active sessions",
		}, []string{"topic"}),

		BusConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "web_video_server",
			Name:      "bus_connected",
			Help:      "Frame bus connection state (1 connected, 0 not)",
		}),
	}
}

// RecordRequest increments the request counter for a path
func (m *Metrics) RecordRequest(path string) {
	m.RequestsTotal.WithLabelValues(path).Inc()
}

// RecordFault increments the recovered-fault counter for a path
func (m *Metrics) RecordFault(path string) {
	m.RequestFaults.WithLabelValues(path).Inc()
}

// RecordSessionStarted increments the started-session counter for a codec
func (m *Metrics) RecordSessionStarted(codec string) {
	m.SessionsStarted.WithLabelValues(codec).Inc()
}

// RecordSessionReaped increments the reaped-session counter for a codec
func (m *Metrics) RecordSessionReaped(codec string) {
	m.SessionsReaped.WithLabelValues(codec).Inc()
}

// RecordFrameDelivered increments the delivered-frame counter for a topic
func (m *Metrics) RecordFrameDelivered(topic string) {
	m.FramesDelivered.WithLabelValues(topic).Inc()
}

// RecordBusStatus records bus connection state
func (m *Metrics) RecordBusStatus(connected bool) {
	if connected {
		m.BusConnected.Set(1)
	} else {
		m.BusConnected.Set(0)
	}
}
