// Package models defines the data structures for transcription events.
package models

const (
	EventTranscriptionCompleted = "transcription.completed"
	EventTranscriptionFailed    = "transcription.failed"
)

// Failure reasons carried by TranscriptionFailed.
const (
	ReasonUnsupportedFormat = "unsupported_format"
	ReasonTimeout           = "timeout"
	ReasonEmptyResult       = "empty_result"
	ReasonDelivery          = "delivery"
	ReasonBackend           = "backend"
)

// TranscriptionCompleted is emitted after a transcript has been delivered.
// It carries statistics only, never the transcript text.
type TranscriptionCompleted struct {
	EventType     string  `json:"eventType"`
	RequestID     string  `json:"requestId"`
	ChatID        int64   `json:"chatId"`
	MessageID     int     `json:"messageId"`
	Timestamp     int64   `json:"timestamp"`
	AudioDuration int     `json:"audioDuration"`
	SampleRate    uint32  `json:"sampleRate"`
	Strategy      string  `json:"strategy"`
	Confidence    float64 `json:"confidence"`
	ElapsedMs     int64   `json:"elapsedMs"`
	Words         int     `json:"words"`
	Messages      int     `json:"messages"`
}

// TranscriptionFailed is emitted when a voice message could not be transcribed.
type TranscriptionFailed struct {
	EventType     string `json:"eventType"`
	RequestID     string `json:"requestId"`
	ChatID        int64  `json:"chatId"`
	MessageID     int    `json:"messageId"`
	Timestamp     int64  `json:"timestamp"`
	AudioDuration int    `json:"audioDuration"`
	Reason        string `json:"reason"`
	ElapsedMs     int64  `json:"elapsedMs"`
}
