package envelope

import (
	"encoding/json"
	"time"

	"github.com/commlink-dev/commlink/errors"
)

// Protocol tags which facade produced an envelope.
type Protocol string

const (
	ProtocolAgent  Protocol = "agent"
	ProtocolSystem Protocol = "system"
)

// TransportKind tags which channel should carry an envelope.
type TransportKind string

const (
	TransportInProc TransportKind = "inproc"
	TransportPush   TransportKind = "push"
	TransportStream TransportKind = "stream"
	TransportPubSub TransportKind = "pubsub"
)

// BroadcastDestination is the reserved destination meaning "every
// registered agent except the sender".
const BroadcastDestination = "broadcast"

// DefaultMaxRetries is the retry budget applied when none is specified.
const DefaultMaxRetries = 3

// Envelope wraps exactly one Message with routing, retry, and expiry
// metadata. The facade creates one envelope per send; the bus clones it per
// recipient when a destination fans out. Clones share the Message and carry
// their own destination.
type Envelope struct {
	// Protocol identifies the producing facade.
	Protocol Protocol `json:"protocol"`

	// Transport identifies the channel that should carry the envelope.
	Transport TransportKind `json:"transport"`

	// Destination is the logical address the envelope is sent to.
	Destination string `json:"destination"`

	// Source is the sending agent.
	Source string `json:"source"`

	// Message is the wrapped payload.
	Message *Message `json:"message"`

	// Headers carries transport-level metadata.
	Headers map[string]string `json:"headers,omitempty"`

	// Timestamp is the envelope creation time.
	Timestamp time.Time `json:"timestamp"`

	// ExpiresAt, when set, is the instant after which the envelope is
	// discarded without invoking any handler.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// RetryCount is the number of delivery attempts made so far.
	RetryCount int `json:"retry_count"`

	// MaxRetries is the retry budget before the envelope is dropped.
	MaxRetries int `json:"max_retries"`
}

// New wraps a message in an envelope addressed to the message receiver.
func New(msg *Message, protocol Protocol, transport TransportKind) *Envelope {
	dest := msg.ReceiverID
	return &Envelope{
		Protocol:    protocol,
		Transport:   transport,
		Destination: dest,
		Source:      msg.SenderID,
		Message:     msg,
		Headers:     make(map[string]string),
		Timestamp:   time.Now().UTC(),
		MaxRetries:  DefaultMaxRetries,
	}
}

// WithExpiry returns the envelope with an absolute expiry time set.
func (e *Envelope) WithExpiry(at time.Time) *Envelope {
	t := at.UTC()
	e.ExpiresAt = &t
	return e
}

// WithTTL returns the envelope expiring after the given duration.
func (e *Envelope) WithTTL(ttl time.Duration) *Envelope {
	return e.WithExpiry(time.Now().Add(ttl))
}

// IsExpired reports whether an expiry time is set and has passed.
func (e *Envelope) IsExpired() bool {
	return e.ExpiresAt != nil && time.Now().After(*e.ExpiresAt)
}

// ShouldRetry reports whether the envelope still has retry budget.
func (e *Envelope) ShouldRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// CloneTo returns a copy of the envelope addressed to the given recipient.
// The Message pointer is shared; headers are copied so per-recipient
// bookkeeping cannot leak between clones.
func (e *Envelope) CloneTo(recipient string) *Envelope {
	clone := *e
	clone.Destination = recipient
	if e.Headers != nil {
		clone.Headers = make(map[string]string, len(e.Headers))
		for k, v := range e.Headers {
			clone.Headers[k] = v
		}
	}
	return &clone
}

// Marshal serializes the envelope to JSON. The round-trip through
// Unmarshal is lossless for all fields.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal parses an envelope from JSON and validates required fields.
// A missing destination, source, or message is a MalformedEnvelope error.
func Unmarshal(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMalformed, "invalid envelope JSON")
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Validate checks that required envelope fields are present.
func (e *Envelope) Validate() error {
	if e.Destination == "" {
		return errors.Malformed("envelope missing destination")
	}
	if e.Source == "" {
		return errors.Malformed("envelope missing source")
	}
	if e.Message == nil {
		return errors.Malformed("envelope missing message")
	}
	if e.MaxRetries < 0 || e.RetryCount < 0 {
		return errors.Malformed("envelope has negative retry fields", errors.WithMessageID(e.Message.ID))
	}
	return e.Message.Validate()
}
