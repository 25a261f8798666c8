package transport

import (
	"context"
	"errors"

	"github.com/commlink-dev/commlink/envelope"
)

// Common errors.
var (
	ErrClosed       = errors.New("transport closed")
	ErrNotConnected = errors.New("transport not connected")
	ErrEmpty        = errors.New("no envelope pending")
	ErrNoEndpoint   = errors.New("no endpoint for destination")
	ErrNoConnection = errors.New("no connection for destination")
	ErrNoActive     = errors.New("no active transport")
	ErrUnknownKind  = errors.New("unknown transport kind")
)

// DeliverFunc hands an inbound envelope to the local side, typically
// bus.Send or a facade's ReceiveMessage.
type DeliverFunc func(env *envelope.Envelope)

// Transport is a pluggable delivery channel. Implementations are
// independently connectable; several may listen for inbound traffic at once
// while the Manager designates one for outbound sends.
type Transport interface {
	// Kind identifies the channel type.
	Kind() envelope.TransportKind

	// Connect establishes the channel. Connecting a connected transport is
	// a no-op.
	Connect(ctx context.Context) error

	// Disconnect tears the channel down and releases resources.
	Disconnect() error

	// Send carries one envelope outbound.
	Send(env *envelope.Envelope) error

	// Receive returns the next inbound envelope not yet claimed by a
	// deliver callback, or ErrEmpty.
	Receive() (*envelope.Envelope, error)

	// Connected reports whether the channel is established.
	Connected() bool
}

// Config holds settings shared by all transport implementations.
type Config struct {
	// QueueCapacity bounds each transport's inbound fallback queue.
	// Default: 256
	QueueCapacity int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueCapacity: 256,
	}
}
