package transport

import (
	"context"
	"sync"

	"github.com/commlink-dev/commlink/envelope"
	"github.com/commlink-dev/commlink/logging"
)

// Manager holds the registered transports and designates exactly one as
// active for outbound sends. Multiple transports may stay connected at once
// for inbound listening.
type Manager struct {
	mu         sync.RWMutex
	transports map[envelope.TransportKind]Transport
	active     envelope.TransportKind
	log        *logging.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.New()
	}
	return &Manager{
		transports: make(map[envelope.TransportKind]Transport),
		log:        logger.WithComponent("transport"),
	}
}

// Register adds a transport keyed by its kind, replacing any previous one of
// the same kind. The first registered transport becomes active.
func (m *Manager) Register(t Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transports[t.Kind()] = t
	if m.active == "" {
		m.active = t.Kind()
	}
}

// Get returns the transport of the given kind.
func (m *Manager) Get(kind envelope.TransportKind) (Transport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transports[kind]
	return t, ok
}

// SetActive designates the transport used for outbound sends.
func (m *Manager) SetActive(kind envelope.TransportKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transports[kind]; !ok {
		return ErrUnknownKind
	}
	m.active = kind
	return nil
}

// Active returns the currently active transport.
func (m *Manager) Active() (Transport, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transports[m.active]
	return t, ok
}

// Send carries an envelope over the active transport.
func (m *Manager) Send(env *envelope.Envelope) error {
	t, ok := m.Active()
	if !ok {
		return ErrNoActive
	}
	return t.Send(env)
}

// ConnectAll connects every registered transport, logging and continuing on
// individual failures. Returns the first error observed, if any.
func (m *Manager) ConnectAll(ctx context.Context) error {
	m.mu.RLock()
	transports := make([]Transport, 0, len(m.transports))
	for _, t := range m.transports {
		transports = append(transports, t)
	}
	m.mu.RUnlock()

	var first error
	for _, t := range transports {
		if err := t.Connect(ctx); err != nil {
			m.log.Error("connect failed", map[string]interface{}{
				"kind":  string(t.Kind()),
				"error": err.Error(),
			})
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// DisconnectAll disconnects every registered transport.
func (m *Manager) DisconnectAll() {
	m.mu.RLock()
	transports := make([]Transport, 0, len(m.transports))
	for _, t := range m.transports {
		transports = append(transports, t)
	}
	m.mu.RUnlock()

	for _, t := range transports {
		if err := t.Disconnect(); err != nil {
			m.log.Warn("disconnect failed", map[string]interface{}{
				"kind":  string(t.Kind()),
				"error": err.Error(),
			})
		}
	}
}
