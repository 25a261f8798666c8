package shutdown

import (
	"context"

	"github.com/commlink-dev/commlink/bus"
	"github.com/commlink-dev/commlink/transport"
)

// RegisterBus registers the bus's teardown at the bus phase.
func (c *Coordinator) RegisterBus(b *bus.Bus) {
	c.Register("bus", PhaseBus, func(ctx context.Context) error {
		b.Stop()
		return nil
	})
}

// RegisterTransports registers the transport manager's teardown at the
// transports phase.
func (c *Coordinator) RegisterTransports(m *transport.Manager) {
	c.Register("transports", PhaseTransports, func(ctx context.Context) error {
		m.DisconnectAll()
		return nil
	})
}

// RegisterAgent registers an agent teardown step at the agents phase.
// Typical steps stop heartbeat senders and close protocol facades.
func (c *Coordinator) RegisterAgent(name string, fn StepFunc) {
	c.Register(name, PhaseAgents, fn)
}
