package mqtt

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType classifies an envelope.
type MessageType string

const (
	// MessageTypeStatus carries a lifecycle state change.
	MessageTypeStatus MessageType = "status"
	// MessageTypeHealth carries an aggregated health report.
	MessageTypeHealth MessageType = "health"
)

// Message is the envelope for everything published by this package.
type Message struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewMessage wraps payload in an envelope with a fresh ID.
func NewMessage(msgType MessageType, source string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Payload:   data,
	}, nil
}

// UnmarshalPayload decodes the payload into v.
func (m *Message) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}

// StatusMessage reports a lifecycle state change.
type StatusMessage struct {
	State   string                 `json:"state"`
	Details map[string]interface{} `json:"details,omitempty"`
}
