package envelope

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/commlink-dev/commlink/errors"
)

// Kind classifies the intent of a message.
type Kind string

const (
	KindRequest      Kind = "request"
	KindResponse     Kind = "response"
	KindNotification Kind = "notification"
	KindError        Kind = "error"
	KindBroadcast    Kind = "broadcast"
)

// Valid reports whether k is a known message kind.
func (k Kind) Valid() bool {
	switch k {
	case KindRequest, KindResponse, KindNotification, KindError, KindBroadcast:
		return true
	}
	return false
}

// Priority orders messages by urgency.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Message is the logical payload exchanged between agents. Messages are
// immutable after creation; the bus never mutates them, only the wrapping
// envelope's bookkeeping fields.
type Message struct {
	// ID uniquely identifies the message.
	ID string `json:"id"`

	// SenderID is the originating agent.
	SenderID string `json:"sender_id"`

	// ReceiverID is the intended recipient agent, or "broadcast".
	ReceiverID string `json:"receiver_id"`

	// Kind classifies the message intent.
	Kind Kind `json:"kind"`

	// Priority orders the message relative to others.
	Priority Priority `json:"priority"`

	// Content carries the application payload.
	Content map[string]interface{} `json:"content"`

	// Timestamp is the creation time.
	Timestamp time.Time `json:"timestamp"`

	// CorrelationID links a reply to the request it answers.
	CorrelationID string `json:"correlation_id,omitempty"`

	// ReplyTo names the message this one replies to.
	ReplyTo string `json:"reply_to,omitempty"`
}

// NewMessage creates a message with a generated ID and current timestamp.
// Kind and priority default to notification/normal when unset.
func NewMessage(sender, receiver string, kind Kind, content map[string]interface{}) *Message {
	if kind == "" {
		kind = KindNotification
	}
	if content == nil {
		content = make(map[string]interface{})
	}
	return &Message{
		ID:         uuid.NewString(),
		SenderID:   sender,
		ReceiverID: receiver,
		Kind:       kind,
		Priority:   PriorityNormal,
		Content:    content,
		Timestamp:  time.Now().UTC(),
	}
}

// Topic returns the topic named in the message content, if any.
// Topic-addressed messages carry their channel in the content map so the
// router can fan out to subscribers.
func (m *Message) Topic() string {
	if m.Content == nil {
		return ""
	}
	if t, ok := m.Content["topic"].(string); ok {
		return t
	}
	return ""
}

// Marshal serializes the message to JSON.
func (m *Message) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalMessage parses a message from JSON and validates required fields.
func UnmarshalMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMalformed, "invalid message JSON")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks that required message fields are present and well formed.
func (m *Message) Validate() error {
	if m.ID == "" {
		return errors.Malformed("message missing id")
	}
	if m.SenderID == "" {
		return errors.Malformed("message missing sender_id", errors.WithMessageID(m.ID))
	}
	if m.Kind != "" && !m.Kind.Valid() {
		return errors.Malformed("unknown message kind "+string(m.Kind), errors.WithMessageID(m.ID))
	}
	if m.Priority != "" && !m.Priority.Valid() {
		return errors.Malformed("unknown message priority "+string(m.Priority), errors.WithMessageID(m.ID))
	}
	return nil
}
