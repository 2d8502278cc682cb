// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "video_insight"

// Metrics holds all Prometheus metrics for the client.
type Metrics struct {
	// Stream metrics
	StreamsTotal   prometheus.Counter
	StreamsActive  prometheus.Gauge
	StreamsResult  *prometheus.CounterVec
	StreamDuration prometheus.Histogram
	StreamBytes    prometheus.Counter

	// Record metrics
	RecordsDecoded *prometheus.CounterVec
	DecodeErrors   prometheus.Counter
	TrailingTails  *prometheus.CounterVec

	// Session metrics
	ClipsReceived   prometheus.Counter
	SessionProgress prometheus.Gauge
	Transitions     *prometheus.CounterVec

	// Overlay metrics
	RendersTotal     prometheus.Counter
	RenderLatency    prometheus.Histogram
	DetectionsDrawn  prometheus.Counter
	GeometryFallback prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
	EventsDropped       *prometheus.CounterVec

	// Viewer push metrics
	WebSocketClients prometheus.Gauge

	// Request metrics for the gRPC health service and the HTTP API
	RPCTotal     *prometheus.CounterVec
	RPCLatency   *prometheus.HistogramVec
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all metrics and registers them with reg.
// A nil registerer creates unregistered metrics, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		StreamsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_total",
			Help:      "Total number of analysis streams opened",
		}),
		StreamsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Number of analysis streams currently being read",
		}),
		StreamsResult: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_finished_total",
			Help:      "Finished analysis streams by outcome",
		}, []string{"outcome"}),
		StreamDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Duration of analysis streams in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}),
		StreamBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_bytes_received_total",
			Help:      "Total bytes received from analysis streams",
		}),

		RecordsDecoded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_decoded_total",
			Help:      "Total number of status records decoded by status tag",
		}, []string{"status"}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Total number of malformed records skipped",
		}),
		TrailingTails: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trailing_records_total",
			Help:      "Unterminated records found at end of stream",
		}, []string{"action"}),

		ClipsReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clips_received_total",
			Help:      "Total number of clips received",
		}),
		SessionProgress: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_progress_percent",
			Help:      "Progress of the current session",
		}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Session state transitions",
		}, []string{"from", "to"}),

		RendersTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overlay_renders_total",
			Help:      "Total number of overlay redraws",
		}),
		RenderLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "overlay_render_seconds",
			Help:      "Time spent redrawing an overlay",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05},
		}),
		DetectionsDrawn: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overlay_detections_drawn_total",
			Help:      "Total number of detection boxes drawn",
		}),
		GeometryFallback: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overlay_identity_fallback_total",
			Help:      "Geometry recomputes that fell back to identity because media size was unknown",
		}),

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

		EventsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Downstream events dropped because the publish queue was full",
		}, []string{"event_type"}),

		WebSocketClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected viewer WebSocket clients",
		}),

		RPCTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_calls_total",
			Help:      "Total number of gRPC calls by method and code",
		}, []string{"method", "code"}),
		RPCLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_call_duration_seconds",
			Help:      "gRPC call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP API requests by route and status",
		}, []string{"route", "status"}),
		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP API request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// RecordStreamStart records a new stream starting.
func (m *Metrics) RecordStreamStart() {
	m.StreamsTotal.Inc()
	m.StreamsActive.Inc()
}

// RecordStreamEnd records a stream ending with outcome complete, failed or superseded.
func (m *Metrics) RecordStreamEnd(outcome string, durationSeconds float64) {
	m.StreamsActive.Dec()
	m.StreamDuration.Observe(durationSeconds)
	m.StreamsResult.WithLabelValues(outcome).Inc()
}

// RecordBytes records bytes received from the network.
func (m *Metrics) RecordBytes(n int) {
	m.StreamBytes.Add(float64(n))
}

// RecordDecoded records a decoded record by status tag.
func (m *Metrics) RecordDecoded(status string) {
	m.RecordsDecoded.WithLabelValues(status).Inc()
}

// RecordDecodeError records a malformed record.
func (m *Metrics) RecordDecodeError() {
	m.DecodeErrors.Inc()
}

// RecordTrailingRecord records what happened to an unterminated record at end of stream.
func (m *Metrics) RecordTrailingRecord(action string) {
	m.TrailingTails.WithLabelValues(action).Inc()
}

// RecordTransition records a session state change.
func (m *Metrics) RecordTransition(from, to string) {
	m.Transitions.WithLabelValues(from, to).Inc()
}

// RecordClip records a clip being appended to a session.
func (m *Metrics) RecordClip() {
	m.ClipsReceived.Inc()
}

// RecordProgress records the current session progress.
func (m *Metrics) RecordProgress(progress int) {
	m.SessionProgress.Set(float64(progress))
}

// RecordRender records one overlay redraw.
func (m *Metrics) RecordRender(drawn int, seconds float64) {
	m.RendersTotal.Inc()
	m.DetectionsDrawn.Add(float64(drawn))
	m.RenderLatency.Observe(seconds)
}

// RecordGeometryFallback records an identity fallback in geometry recompute.
func (m *Metrics) RecordGeometryFallback() {
	m.GeometryFallback.Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordEventDropped records an event that never reached the publisher.
func (m *Metrics) RecordEventDropped(eventType string) {
	m.EventsDropped.WithLabelValues(eventType).Inc()
}

// RecordClientConnected records a viewer WebSocket client joining or leaving.
func (m *Metrics) RecordClientConnected(connected bool) {
	if connected {
		m.WebSocketClients.Inc()
		return
	}
	m.WebSocketClients.Dec()
}

// RecordRPC records a completed gRPC call.
func (m *Metrics) RecordRPC(method, code string, seconds float64) {
	m.RPCTotal.WithLabelValues(method, code).Inc()
	m.RPCLatency.WithLabelValues(method).Observe(seconds)
}

// RecordHTTPRequest records a completed HTTP API request.
func (m *Metrics) RecordHTTPRequest(route string, status int, seconds float64) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.HTTPLatency.WithLabelValues(route).Observe(seconds)
}
