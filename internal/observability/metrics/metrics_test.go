package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordEligibility(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordEligibility("group", true, "chat_override")
	m.RecordEligibility("group", false, "not_consented")
	m.RecordEligibility("group", false, "not_consented")

	if got := testutil.ToFloat64(m.EligibilityDecisions.WithLabelValues("group", "allow", "chat_override")); got != 1 {
		t.Errorf("expected 1 allow, got %v", got)
	}
	if got := testutil.ToFloat64(m.EligibilityDecisions.WithLabelValues("group", "deny", "not_consented")); got != 2 {
		t.Errorf("expected 2 deny, got %v", got)
	}
}

func TestRecordTranscription(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordTranscriptionStart(30)
	m.RecordTranscriptionStart(90)
	if got := testutil.ToFloat64(m.TranscriptionsActive); got != 2 {
		t.Errorf("expected 2 active, got %v", got)
	}
	m.RecordTranscriptionEnd()
	if got := testutil.ToFloat64(m.TranscriptionsActive); got != 1 {
		t.Errorf("expected 1 active, got %v", got)
	}
}

func TestRecordRecognition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordRecognition("short", "success", 1.5)
	m.RecordRecognition("long", "timeout", 360)

	if got := testutil.ToFloat64(m.RecognitionsTotal.WithLabelValues("short", "success")); got != 1 {
		t.Errorf("expected 1, got %v", got)
	}
	if got := testutil.CollectAndCount(m.RecognitionLatency); got != 2 {
		t.Errorf("expected 2 latency series, got %d", got)
	}
}

func TestRecordKafkaPublish(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordKafkaPublish("topic", "transcription.completed", nil, 0.01)
	m.RecordKafkaPublish("topic", "transcription.completed", errors.New("boom"), 0.02)

	if got := testutil.ToFloat64(m.KafkaPublishTotal.WithLabelValues("topic", "transcription.completed")); got != 2 {
		t.Errorf("expected 2 publishes, got %v", got)
	}
	if got := testutil.ToFloat64(m.KafkaPublishErrors.WithLabelValues("topic", "transcription.completed")); got != 1 {
		t.Errorf("expected 1 error, got %v", got)
	}
}

func TestRecordDelivery(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordDelivery(3)
	m.RecordDelivery(1)

	if got := testutil.ToFloat64(m.MessagesDelivered); got != 4 {
		t.Errorf("expected 4 messages, got %v", got)
	}
}

func TestNewMetrics_SeparateRegistries(t *testing.T) {
	// Registering twice on fresh registries must not panic.
	NewMetrics(prometheus.NewRegistry())
	NewMetrics(prometheus.NewRegistry())
}
