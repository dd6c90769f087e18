package domain

import (
	"encoding/json"
	"time"
)

// Event types emitted by the gate.
const (
	EventAttemptCompleted = "attempt_completed"
	EventChallengeIssued  = "challenge_issued"
)

// Event is one telemetry record. Metadata is a JSON object whose shape depends on EventType.
// The JSON form is the Kafka message value.
type Event struct {
	AttemptID string          `json:"attemptId,omitempty"`
	EventType string          `json:"eventType"`
	Source    string          `json:"source"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NewEvent builds an event, encoding metadata as JSON. A metadata value that cannot be
// encoded is dropped.
func NewEvent(attemptID, eventType, source string, metadata any, at time.Time) *Event {
	e := &Event{AttemptID: attemptID, EventType: eventType, Source: source, CreatedAt: at.UTC()}
	if metadata != nil {
		if raw, err := json.Marshal(metadata); err == nil {
			e.Metadata = raw
		}
	}
	return e
}
