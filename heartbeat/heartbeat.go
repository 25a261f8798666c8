package heartbeat

import (
	"errors"
	"time"

	"github.com/commlink-dev/commlink/envelope"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("heartbeat already started")
	ErrNotStarted     = errors.New("heartbeat not started")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// Topic is the channel heartbeats travel on. Senders address envelopes to
// it; monitors subscribe their agent to it.
const Topic = "heartbeat"

// Agent statuses carried in heartbeats.
const (
	StatusIdle     = "idle"
	StatusBusy     = "busy"
	StatusDraining = "draining"
)

// Heartbeat is a single liveness report from an agent.
type Heartbeat struct {
	// AgentID uniquely identifies the reporting agent.
	AgentID string `json:"agent_id"`

	// Timestamp when the heartbeat was generated.
	Timestamp time.Time `json:"timestamp"`

	// Status of the agent (idle, busy, draining).
	Status string `json:"status"`

	// Load is a normalized load metric (0.0 to 1.0).
	Load float64 `json:"load"`

	// Metadata contains additional key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Content encodes the heartbeat as message content, including the topic key
// the router fans out on.
func (h *Heartbeat) Content() map[string]interface{} {
	content := map[string]interface{}{
		"topic":     Topic,
		"agent_id":  h.AgentID,
		"timestamp": h.Timestamp.Format(time.RFC3339Nano),
		"status":    h.Status,
		"load":      h.Load,
	}
	if len(h.Metadata) > 0 {
		meta := make(map[string]interface{}, len(h.Metadata))
		for k, v := range h.Metadata {
			meta[k] = v
		}
		content["metadata"] = meta
	}
	return content
}

// FromMessage decodes a heartbeat from message content. Returns false when
// the message is not a heartbeat.
func FromMessage(msg *envelope.Message) (*Heartbeat, bool) {
	if msg == nil || msg.Topic() != Topic {
		return nil, false
	}

	h := &Heartbeat{AgentID: msg.SenderID}
	if id, ok := msg.Content["agent_id"].(string); ok && id != "" {
		h.AgentID = id
	}
	if status, ok := msg.Content["status"].(string); ok {
		h.Status = status
	}
	if load, ok := msg.Content["load"].(float64); ok {
		h.Load = load
	}
	if ts, ok := msg.Content["timestamp"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			h.Timestamp = t
		}
	}
	if h.Timestamp.IsZero() {
		h.Timestamp = msg.Timestamp
	}
	if meta, ok := msg.Content["metadata"].(map[string]interface{}); ok {
		h.Metadata = make(map[string]string, len(meta))
		for k, v := range meta {
			if s, ok := v.(string); ok {
				h.Metadata[k] = s
			}
		}
	}
	return h, h.AgentID != ""
}
