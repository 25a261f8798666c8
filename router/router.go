// Package router resolves envelope destinations into recipient sets.
//
// Three addressing modes are supported, and their results are unioned:
// direct routes (destination -> subscribers), topics (a channel named in the
// message content), and broadcast (the reserved "broadcast" destination
// resolving to every registered agent). The sending agent is always removed
// from the result.
package router

import (
	"sync"

	"github.com/commlink-dev/commlink/envelope"
	"github.com/commlink-dev/commlink/registry"
)

// Router owns the route and subscription tables. All mutating operations are
// idempotent: adding an existing entry or removing an absent one is a no-op.
// Safe for concurrent use.
type Router struct {
	mu       sync.RWMutex
	routes   map[string]map[string]struct{} // destination -> subscriber ids
	topics   map[string]map[string]struct{} // topic -> subscriber ids
	registry *registry.Registry
}

// New creates a router backed by the given agent registry. The registry
// supplies the broadcast recipient set.
func New(reg *registry.Registry) *Router {
	return &Router{
		routes:   make(map[string]map[string]struct{}),
		topics:   make(map[string]map[string]struct{}),
		registry: reg,
	}
}

// AddRoute subscribes an agent to a direct destination name.
func (r *Router) AddRoute(destination, subscriber string) {
	if destination == "" || subscriber == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	addEntry(r.routes, destination, subscriber)
}

// RemoveRoute removes an agent from a destination. Removing the last
// subscriber deletes the table entry.
func (r *Router) RemoveRoute(destination, subscriber string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removeEntry(r.routes, destination, subscriber)
}

// Subscribe subscribes an agent to a topic.
func (r *Router) Subscribe(topic, subscriber string) {
	if topic == "" || subscriber == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	addEntry(r.topics, topic, subscriber)
}

// Unsubscribe removes an agent from a topic.
func (r *Router) Unsubscribe(topic, subscriber string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removeEntry(r.topics, topic, subscriber)
}

// Subscribers returns the current subscriber set for a topic.
func (r *Router) Subscribers(topic string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.topics[topic]))
	for id := range r.topics[topic] {
		out = append(out, id)
	}
	return out
}

// Route resolves an envelope into the deduplicated set of recipient ids:
// the union of the direct-route set for the destination, the subscriber set
// of any topic named in the message content, and (for the broadcast
// destination) every registered agent. The envelope's own source is never
// included. An empty result means the destination is unroutable.
func (r *Router) Route(env *envelope.Envelope) []string {
	recipients := make(map[string]struct{})

	r.mu.RLock()
	for id := range r.routes[env.Destination] {
		recipients[id] = struct{}{}
	}
	if topic := env.Message.Topic(); topic != "" {
		for id := range r.topics[topic] {
			recipients[id] = struct{}{}
		}
	}
	r.mu.RUnlock()

	if env.Destination == envelope.BroadcastDestination && r.registry != nil {
		for _, info := range r.registry.List(nil) {
			recipients[info.ID] = struct{}{}
		}
	}

	delete(recipients, env.Source)

	out := make([]string, 0, len(recipients))
	for id := range recipients {
		out = append(out, id)
	}
	return out
}

func addEntry(table map[string]map[string]struct{}, key, member string) {
	set, ok := table[key]
	if !ok {
		set = make(map[string]struct{})
		table[key] = set
	}
	set[member] = struct{}{}
}

func removeEntry(table map[string]map[string]struct{}, key, member string) {
	set, ok := table[key]
	if !ok {
		return
	}
	delete(set, member)
	if len(set) == 0 {
		delete(table, key)
	}
}
