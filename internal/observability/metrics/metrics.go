// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "scam_call_guard"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionsEnded   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Connection metrics
	ConnectAttempts *prometheus.CounterVec

	// Audio metrics
	FramesCaptured     prometheus.Counter
	FramesDropped      *prometheus.CounterVec
	FramesSent         prometheus.Counter
	AudioBytesSent     prometheus.Counter
	SendTimeouts       prometheus.Counter
	PlaybackBytesTotal prometheus.Counter

	// Server event metrics
	ServerEvents *prometheus.CounterVec
	ServerErrors *prometheus.CounterVec

	// Assessment metrics
	Assessments        *prometheus.CounterVec
	AssessmentsDropped prometheus.Counter
	Notifications      *prometheus.CounterVec
	Persistence        *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Control surface metrics
	ControlRequests *prometheus.CounterVec
	GRPCRequests    *prometheus.CounterVec
	GRPCLatency     *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Session metrics
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of realtime sessions started",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently running realtime sessions",
		}),
		SessionsEnded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Total number of realtime sessions ended",
		}, []string{"outcome"}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of realtime sessions in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),

		// Connection metrics
		ConnectAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Total number of realtime websocket connect attempts",
		}, []string{"result"}),

		// Audio metrics
		FramesCaptured: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_captured_total",
			Help:      "Total audio frames read from the capture source",
		}),
		FramesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total audio frames dropped before reaching the realtime API",
		}, []string{"reason"}),
		FramesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total audio frames handed to the realtime connection",
		}),
		AudioBytesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_sent_total",
			Help:      "Total raw audio bytes sent",
		}),
		SendTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_timeouts_total",
			Help:      "Total number of sends that timed out",
		}),
		PlaybackBytesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_bytes_received_total",
			Help:      "Total model audio bytes received (not played)",
		}),

		// Server event metrics
		ServerEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_events_total",
			Help:      "Total inbound realtime events by type",
		}, []string{"type"}),
		ServerErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_errors_total",
			Help:      "Total error events reported by the realtime API",
		}, []string{"error_type"}),

		// Assessment metrics
		Assessments: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assessments_total",
			Help:      "Total parsed assessments by category",
		}, []string{"category"}),
		AssessmentsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assessments_dropped_total",
			Help:      "Assessments whose side effects were skipped because the effect queue was full",
		}),
		Notifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Total notification attempts by result",
		}, []string{"result"}),
		Persistence: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_total",
			Help:      "Total call record writes by backend and result",
		}, []string{"backend", "result"}),

		// Kafka publish metrics
		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		// Control surface metrics
		ControlRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_requests_total",
			Help:      "Total control surface HTTP requests",
		}, []string{"route", "status"}),
		GRPCRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "Total gRPC requests",
		}, []string{"method", "code"}),
		GRPCLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_latency_seconds",
			Help:      "gRPC request latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"method"}),
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordSessionStart records a new realtime session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a realtime session ending.
func (m *Metrics) RecordSessionEnd(outcome string, durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
	m.SessionsEnded.WithLabelValues(outcome).Inc()
}

// RecordConnectAttempt records one websocket dial.
func (m *Metrics) RecordConnectAttempt(err error) {
	m.ConnectAttempts.WithLabelValues(result(err)).Inc()
}

// RecordFrameCaptured records a frame read from the capture source.
func (m *Metrics) RecordFrameCaptured() {
	m.FramesCaptured.Inc()
}

// RecordFrameDropped records a frame that never reached the connection.
func (m *Metrics) RecordFrameDropped(reason string) {
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// RecordFrameSent records a frame handed to the connection.
func (m *Metrics) RecordFrameSent(bytes int) {
	m.FramesSent.Inc()
	m.AudioBytesSent.Add(float64(bytes))
}

// RecordSendTimeout records a send that timed out.
func (m *Metrics) RecordSendTimeout() {
	m.SendTimeouts.Inc()
}

// RecordPlayback records model audio received.
func (m *Metrics) RecordPlayback(bytes int) {
	m.PlaybackBytesTotal.Add(float64(bytes))
}

// RecordServerEvent records an inbound event.
func (m *Metrics) RecordServerEvent(eventType string) {
	m.ServerEvents.WithLabelValues(eventType).Inc()
}

// RecordServerError records an error event from the realtime API.
func (m *Metrics) RecordServerError(errorType string) {
	m.ServerErrors.WithLabelValues(errorType).Inc()
}

// RecordAssessment records a parsed assessment.
func (m *Metrics) RecordAssessment(category string) {
	m.Assessments.WithLabelValues(category).Inc()
}

// RecordAssessmentDropped records an assessment whose side effects were skipped.
func (m *Metrics) RecordAssessmentDropped() {
	m.AssessmentsDropped.Inc()
}

// RecordNotification records a notification attempt.
func (m *Metrics) RecordNotification(err error) {
	m.Notifications.WithLabelValues(result(err)).Inc()
}

// RecordPersistence records a call record write.
func (m *Metrics) RecordPersistence(backend string, err error) {
	m.Persistence.WithLabelValues(backend, result(err)).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordControlRequest records a control surface request.
func (m *Metrics) RecordControlRequest(route string, status int) {
	m.ControlRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// RecordGRPCRequest records a gRPC call.
func (m *Metrics) RecordGRPCRequest(method, code string, latencySeconds float64) {
	m.GRPCRequests.WithLabelValues(method, code).Inc()
	m.GRPCLatency.WithLabelValues(method).Observe(latencySeconds)
}
