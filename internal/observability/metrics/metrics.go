// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "speech_bridge"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal    prometheus.Counter
	SessionsActive   prometheus.Gauge
	SessionsSuccess  prometheus.Counter
	SessionsFailed   *prometheus.CounterVec
	SessionDuration  prometheus.Histogram
	HandshakeLatency prometheus.Histogram

	// Turn metrics
	TurnsStarted prometheus.Counter
	EventsTotal  *prometheus.CounterVec
	FinalsTotal  *prometheus.CounterVec

	// Audio metrics
	AudioBytesReceived  prometheus.Counter
	AudioFramesSent     prometheus.Counter
	AudioFramesDropped  prometheus.Counter
	AudioQueueOverflows prometheus.Counter

	// Backend metrics
	BackendMessages *prometheus.CounterVec
	BackendErrors   *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Transport metrics
	StreamsTotal   *prometheus.CounterVec
	StreamDuration *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all Prometheus metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// Session metrics
		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of bridge sessions started",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active bridge sessions",
		}),
		SessionsSuccess: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_success_total",
			Help:      "Total number of sessions that closed normally",
		}),
		SessionsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_failed_total",
			Help:      "Total number of sessions that ended with an error",
		}, []string{"kind"}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of bridge sessions in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		HandshakeLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_latency_seconds",
			Help:      "Time from dial to backend ack",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),

		// Turn metrics
		TurnsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_started_total",
			Help:      "Total number of speech turns opened",
		}),
		EventsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of speech events emitted",
		}, []string{"type"}),
		FinalsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finals_total",
			Help:      "Total number of final transcripts by source",
		}, []string{"source"}),

		// Audio metrics
		AudioBytesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received from callers",
		}),
		AudioFramesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_sent_total",
			Help:      "Total audio frames sent to the backend",
		}),
		AudioFramesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_dropped_total",
			Help:      "Total audio frames evicted from a full queue",
		}),
		AudioQueueOverflows: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_queue_overflows_total",
			Help:      "Total number of writes that found the audio queue full",
		}),

		// Backend metrics
		BackendMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_messages_total",
			Help:      "Total number of messages received from the ASR backend",
		}, []string{"kind"}),
		BackendErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Total number of ASR backend errors",
		}, []string{"kind"}),

		// Kafka publish metrics
		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		// Transport metrics
		StreamsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_streams_total",
			Help:      "Total number of client audio streams by transport and status code",
		}, []string{"transport", "code"}),
		StreamDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "client_stream_duration_seconds",
			Help:      "Duration of client audio streams in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"transport"}),
	}
}

// RecordSessionStart records a new session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session ending. kind is empty on success.
func (m *Metrics) RecordSessionEnd(kind string, durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
	if kind == "" {
		m.SessionsSuccess.Inc()
	} else {
		m.SessionsFailed.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) RecordHandshake(seconds float64) {
	m.HandshakeLatency.Observe(seconds)
}

// RecordEvent records an emitted speech event.
func (m *Metrics) RecordEvent(eventType, source string) {
	m.EventsTotal.WithLabelValues(eventType).Inc()
	switch eventType {
	case "start_of_speech":
		m.TurnsStarted.Inc()
	case "final":
		m.FinalsTotal.WithLabelValues(source).Inc()
	}
}

// RecordAudioReceived records audio bytes accepted from a caller.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
}

func (m *Metrics) RecordFrameSent() {
	m.AudioFramesSent.Inc()
}

// RecordFramesDropped records frames evicted by the drop-oldest policy.
func (m *Metrics) RecordFramesDropped(n int) {
	m.AudioQueueOverflows.Inc()
	m.AudioFramesDropped.Add(float64(n))
}

// RecordBackendMessage records a backend message by classification.
func (m *Metrics) RecordBackendMessage(kind string) {
	m.BackendMessages.WithLabelValues(kind).Inc()
}

// RecordBackendError records a backend error.
func (m *Metrics) RecordBackendError(kind string) {
	m.BackendErrors.WithLabelValues(kind).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordClientStream records a finished client stream on a transport
// (grpc or websocket).
func (m *Metrics) RecordClientStream(transport, code string, durationSeconds float64) {
	m.StreamsTotal.WithLabelValues(transport, code).Inc()
	m.StreamDuration.WithLabelValues(transport).Observe(durationSeconds)
}
