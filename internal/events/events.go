// Package events defines the messages exchanged over NATS between the
// platform API and the synthesis worker.
package events

import (
	"time"

	"github.com/google/uuid"
)

// EventHeader carries tracing identity for every event.
type EventHeader struct {
	Timestamp  time.Time `json:"timestamp"`
	WorkflowID string    `json:"workflow_id"`
	EventID    string    `json:"event_id"`
	UserID     string    `json:"user_id"`
	TenantID   string    `json:"tenant_id"`
}

// NewHeader builds a header with a fresh event ID. An empty workflowID
// starts a new workflow.
func NewHeader(workflowID, userID, tenantID string) EventHeader {
	if workflowID == "" {
		workflowID = uuid.NewString()
	}

	return EventHeader{
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		EventID:    uuid.NewString(),
		UserID:     userID,
		TenantID:   tenantID,
	}
}

// SpeechRequestedEvent asks the worker to synthesize the text stored under
// TextKey in the audio object store using the named speaker's voice.
type SpeechRequestedEvent struct {
	Header      EventHeader `json:"header"`
	TextKey     string      `json:"text_key"`
	Speaker     string      `json:"speaker"`
	Language    string      `json:"language"`
	TopK        int         `json:"top_k,omitempty"`
	TopP        float64     `json:"top_p,omitempty"`
	Temperature float64     `json:"temperature,omitempty"`
	SpeedFactor float64     `json:"speed_factor,omitempty"`
}

// SpeechGeneratedEvent is the worker's reply: the synthesized WAV is stored
// under AudioKey in the audio object store.
type SpeechGeneratedEvent struct {
	Header   EventHeader `json:"header"`
	AudioKey string      `json:"audio_key"`
	Speaker  string      `json:"speaker"`
}
