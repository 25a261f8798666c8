package envelope

import (
	"testing"
	"time"
)

// --- Unit Tests ---

func TestKindValid(t *testing.T) {
	tests := []struct {
		kind Kind
		want bool
	}{
		{KindRequest, true},
		{KindResponse, true},
		{KindNotification, true},
		{KindError, true},
		{KindBroadcast, true},
		{Kind("gossip"), false},
		{Kind(""), false},
	}

	for _, tt := range tests {
		if got := tt.kind.Valid(); got != tt.want {
			t.Errorf("Kind(%q).Valid() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestNewMessageDefaults(t *testing.T) {
	msg := NewMessage("a", "b", "", nil)

	if msg.ID == "" {
		t.Error("expected generated ID")
	}
	if msg.Kind != KindNotification {
		t.Errorf("kind = %q, want %q", msg.Kind, KindNotification)
	}
	if msg.Priority != PriorityNormal {
		t.Errorf("priority = %q, want %q", msg.Priority, PriorityNormal)
	}
	if msg.Content == nil {
		t.Error("expected non-nil content map")
	}
	if msg.Timestamp.IsZero() {
		t.Error("expected timestamp")
	}
}

func TestMessageTopic(t *testing.T) {
	msg := NewMessage("a", "b", KindNotification, map[string]interface{}{"topic": "fires"})
	if got := msg.Topic(); got != "fires" {
		t.Errorf("Topic() = %q, want %q", got, "fires")
	}

	msg = NewMessage("a", "b", KindNotification, nil)
	if got := msg.Topic(); got != "" {
		t.Errorf("Topic() = %q, want empty", got)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	msg := NewMessage("alpha", "beta", KindRequest, map[string]interface{}{"op": "status"})
	msg.Priority = PriorityCritical
	msg.CorrelationID = "corr-1"
	msg.ReplyTo = "msg-0"

	env := New(msg, ProtocolAgent, TransportPush)
	env.Headers["trace"] = "t-1"
	env.RetryCount = 1
	env.MaxRetries = 5
	env.WithExpiry(time.Now().Add(time.Hour))

	data, err := env.Marshal()
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	back, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if back.Protocol != env.Protocol || back.Transport != env.Transport {
		t.Errorf("tags = %q/%q, want %q/%q", back.Protocol, back.Transport, env.Protocol, env.Transport)
	}
	if back.Destination != "beta" || back.Source != "alpha" {
		t.Errorf("addressing = %q<-%q", back.Destination, back.Source)
	}
	if back.Headers["trace"] != "t-1" {
		t.Errorf("headers lost: %v", back.Headers)
	}
	if back.RetryCount != 1 || back.MaxRetries != 5 {
		t.Errorf("retry fields = %d/%d, want 1/5", back.RetryCount, back.MaxRetries)
	}
	if back.ExpiresAt == nil || !back.ExpiresAt.Equal(*env.ExpiresAt) {
		t.Errorf("expiry lost: %v", back.ExpiresAt)
	}
	if back.Message.ID != msg.ID {
		t.Errorf("message id = %q, want %q", back.Message.ID, msg.ID)
	}
	if back.Message.Kind != KindRequest || back.Message.Priority != PriorityCritical {
		t.Errorf("message kind/priority = %q/%q", back.Message.Kind, back.Message.Priority)
	}
	if back.Message.CorrelationID != "corr-1" || back.Message.ReplyTo != "msg-0" {
		t.Errorf("correlation lost: %q/%q", back.Message.CorrelationID, back.Message.ReplyTo)
	}
	if back.Message.Content["op"] != "status" {
		t.Errorf("content lost: %v", back.Message.Content)
	}
}

func TestUnmarshalMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `{{{`},
		{"missing destination", `{"source":"a","message":{"id":"1","sender_id":"a"}}`},
		{"missing source", `{"destination":"b","message":{"id":"1","sender_id":"a"}}`},
		{"missing message", `{"destination":"b","source":"a"}`},
		{"message missing id", `{"destination":"b","source":"a","message":{"sender_id":"a"}}`},
		{"bad kind", `{"destination":"b","source":"a","message":{"id":"1","sender_id":"a","kind":"gossip"}}`},
	}

	for _, tt := range tests {
		if _, err := Unmarshal([]byte(tt.data)); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestIsExpired(t *testing.T) {
	msg := NewMessage("a", "b", KindNotification, nil)
	env := New(msg, ProtocolAgent, TransportInProc)

	if env.IsExpired() {
		t.Error("envelope without expiry should never expire")
	}

	env.WithExpiry(time.Now().Add(-time.Second))
	if !env.IsExpired() {
		t.Error("past expiry should report expired")
	}

	env.WithExpiry(time.Now().Add(time.Hour))
	if env.IsExpired() {
		t.Error("future expiry should not report expired")
	}
}

func TestShouldRetry(t *testing.T) {
	env := New(NewMessage("a", "b", KindNotification, nil), ProtocolAgent, TransportInProc)
	env.MaxRetries = 2

	if !env.ShouldRetry() {
		t.Error("fresh envelope should have retry budget")
	}

	env.RetryCount = 2
	if env.ShouldRetry() {
		t.Error("exhausted envelope should not retry")
	}
}

func TestCloneTo(t *testing.T) {
	env := New(NewMessage("a", "broadcast", KindBroadcast, nil), ProtocolAgent, TransportInProc)
	env.Headers["k"] = "v"

	clone := env.CloneTo("c")

	if clone.Destination != "c" {
		t.Errorf("clone destination = %q, want %q", clone.Destination, "c")
	}
	if clone.Message != env.Message {
		t.Error("clone should share the message")
	}

	clone.Headers["k"] = "changed"
	if env.Headers["k"] != "v" {
		t.Error("clone headers should not alias the original")
	}
}
