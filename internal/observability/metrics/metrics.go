// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voice_transcriber"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Update metrics
	UpdatesTotal  *prometheus.CounterVec
	UpdatesActive prometheus.Gauge
	HandlerErrors *prometheus.CounterVec
	HandlerPanics prometheus.Counter

	// Eligibility metrics
	EligibilityDecisions *prometheus.CounterVec

	// Transcription metrics
	TranscriptionsActive prometheus.Gauge
	AudioDuration        prometheus.Histogram
	AssetCleanups        *prometheus.CounterVec
	DownloadRetries      prometheus.Counter
	DownloadErrors       prometheus.Counter

	// Recognition metrics
	RecognitionsTotal  *prometheus.CounterVec
	RecognitionLatency *prometheus.HistogramVec

	// Delivery metrics
	MessagesDelivered prometheus.Counter
	DeliverySlices    prometheus.Histogram
	DeliveryErrors    *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// STT backend RPC metrics
	STTLatency *prometheus.HistogramVec
	STTErrors  *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all Prometheus metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Update metrics
		UpdatesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Total number of Telegram updates received",
		}, []string{"kind"}),
		UpdatesActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "updates_active",
			Help:      "Number of updates currently being handled",
		}),
		HandlerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_errors_total",
			Help:      "Total number of handler errors translated into user messages",
		}, []string{"handler"}),
		HandlerPanics: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_panics_total",
			Help:      "Total number of recovered handler panics",
		}),

		// Eligibility metrics
		EligibilityDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eligibility_decisions_total",
			Help:      "Total number of eligibility decisions",
		}, []string{"scope", "decision", "reason"}),

		// Transcription metrics
		TranscriptionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transcriptions_active",
			Help:      "Number of transcriptions in progress",
		}),
		AudioDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audio_duration_seconds",
			Help:      "Declared duration of transcribed voice messages",
			Buckets:   []float64{5, 10, 20, 30, 59, 120, 300, 600, 1200},
		}),
		AssetCleanups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_cleanups_total",
			Help:      "Downloaded audio files removed or kept after recognition",
		}, []string{"outcome"}),
		DownloadRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_retries_total",
			Help:      "Total number of voice file download retries",
		}),
		DownloadErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_errors_total",
			Help:      "Total number of failed voice file downloads",
		}),

		// Recognition metrics
		RecognitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognitions_total",
			Help:      "Total number of recognition attempts",
		}, []string{"strategy", "outcome"}),
		RecognitionLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recognition_latency_seconds",
			Help:      "Recognition wall-clock latency in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 240, 360},
		}, []string{"strategy"}),

		// Delivery metrics
		MessagesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_total",
			Help:      "Total number of transcript messages sent or edited",
		}),
		DeliverySlices: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_slices",
			Help:      "Number of messages a transcript was split into",
			Buckets:   []float64{1, 2, 3, 4, 5, 8, 13},
		}),
		DeliveryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_errors_total",
			Help:      "Total number of transcript delivery errors",
		}, []string{"reason"}),

		// Kafka publish metrics
		KafkaPublishTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		// STT backend RPC metrics
		STTLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stt_rpc_latency_seconds",
			Help:      "Speech backend RPC latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "method"}),
		STTErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total number of STT errors",
		}, []string{"provider", "error_type"}),
	}
}

// RecordUpdate records an update being received.
func (m *Metrics) RecordUpdate(kind string) {
	m.UpdatesTotal.WithLabelValues(kind).Inc()
}

// RecordHandlerStart records an update handler starting.
func (m *Metrics) RecordHandlerStart() {
	m.UpdatesActive.Inc()
}

// RecordHandlerEnd records an update handler returning.
func (m *Metrics) RecordHandlerEnd() {
	m.UpdatesActive.Dec()
}

// RecordHandlerError records a handler error that reached the user.
func (m *Metrics) RecordHandlerError(handler string) {
	m.HandlerErrors.WithLabelValues(handler).Inc()
}

// RecordHandlerPanic records a recovered handler panic.
func (m *Metrics) RecordHandlerPanic() {
	m.HandlerPanics.Inc()
}

// RecordEligibility records an eligibility decision.
func (m *Metrics) RecordEligibility(scope string, allowed bool, reason string) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.EligibilityDecisions.WithLabelValues(scope, decision, reason).Inc()
}

// RecordTranscriptionStart records a transcription starting.
func (m *Metrics) RecordTranscriptionStart(durationSeconds int) {
	m.TranscriptionsActive.Inc()
	m.AudioDuration.Observe(float64(durationSeconds))
}

// RecordTranscriptionEnd records a transcription finishing.
func (m *Metrics) RecordTranscriptionEnd() {
	m.TranscriptionsActive.Dec()
}

// RecordCleanup records whether a downloaded file was removed or kept.
func (m *Metrics) RecordCleanup(outcome string) {
	m.AssetCleanups.WithLabelValues(outcome).Inc()
}

// RecordDownloadRetry records a download retry.
func (m *Metrics) RecordDownloadRetry() {
	m.DownloadRetries.Inc()
}

// RecordDownloadError records a download that gave up.
func (m *Metrics) RecordDownloadError() {
	m.DownloadErrors.Inc()
}

// RecordRecognition records a recognition attempt and its latency.
func (m *Metrics) RecordRecognition(strategy, outcome string, latencySeconds float64) {
	m.RecognitionsTotal.WithLabelValues(strategy, outcome).Inc()
	m.RecognitionLatency.WithLabelValues(strategy).Observe(latencySeconds)
}

// RecordDelivery records a delivered transcript.
func (m *Metrics) RecordDelivery(slices int) {
	m.MessagesDelivered.Add(float64(slices))
	m.DeliverySlices.Observe(float64(slices))
}

// RecordDeliveryError records a failed delivery.
func (m *Metrics) RecordDeliveryError(reason string) {
	m.DeliveryErrors.WithLabelValues(reason).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordSTTCall records a backend RPC.
func (m *Metrics) RecordSTTCall(provider, method string, latencySeconds float64) {
	m.STTLatency.WithLabelValues(provider, method).Observe(latencySeconds)
}

// RecordSTTError records an STT error.
func (m *Metrics) RecordSTTError(provider, errorType string) {
	m.STTErrors.WithLabelValues(provider, errorType).Inc()
}
