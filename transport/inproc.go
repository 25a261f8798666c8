package transport

import (
	"context"
	"sync"

	"github.com/commlink-dev/commlink/envelope"
	"github.com/commlink-dev/commlink/queue"
)

// InProc delivers envelopes within the process. A send goes straight to a
// locally registered handler when one exists for the destination; otherwise
// the envelope lands in an internal queue for a later Receive.
type InProc struct {
	cfg Config

	mu        sync.RWMutex
	handlers  map[string]DeliverFunc
	inbound   *queue.Queue
	connected bool
}

// NewInProc creates an in-process transport.
func NewInProc(cfg Config) *InProc {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultConfig().QueueCapacity
	}
	return &InProc{
		cfg:      cfg,
		handlers: make(map[string]DeliverFunc),
		inbound:  queue.New(cfg.QueueCapacity),
	}
}

// Kind returns the transport kind.
func (t *InProc) Kind() envelope.TransportKind {
	return envelope.TransportInProc
}

// Connect marks the transport ready.
func (t *InProc) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = true
	return nil
}

// Disconnect marks the transport down and drops queued envelopes.
func (t *InProc) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	t.inbound.Clear()
	return nil
}

// Connected reports whether the transport is ready.
func (t *InProc) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// Handle registers a local deliver callback for a destination.
func (t *InProc) Handle(destination string, fn DeliverFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fn == nil {
		delete(t.handlers, destination)
		return
	}
	t.handlers[destination] = fn
}

// Send delivers directly to a registered handler, falling back to the
// internal queue when the destination has none.
func (t *InProc) Send(env *envelope.Envelope) error {
	t.mu.RLock()
	connected := t.connected
	fn := t.handlers[env.Destination]
	t.mu.RUnlock()

	if !connected {
		return ErrNotConnected
	}
	if fn != nil {
		fn(env)
		return nil
	}
	if !t.inbound.Put(env) {
		return ErrClosed
	}
	return nil
}

// Receive pulls the next queued envelope.
func (t *InProc) Receive() (*envelope.Envelope, error) {
	env, err := t.inbound.Get()
	if err == queue.ErrEmpty {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, err
	}
	return env, nil
}
