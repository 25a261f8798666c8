// Package registry provides in-memory agent registration and lookup.
//
// Agents register with an id, a type, and optional capabilities. The router
// consults the registry to resolve broadcast destinations, and the protocol
// facade uses type filters for targeted broadcasts. Entries live in process
// memory only; durable registration is out of scope.
package registry

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// Common errors.
var (
	ErrNotFound  = errors.New("agent not found")
	ErrClosed    = errors.New("registry closed")
	ErrInvalidID = errors.New("invalid agent ID")
)

// AgentInfo contains registration information for an agent.
type AgentInfo struct {
	// ID uniquely identifies the agent.
	ID string

	// Name is a human-readable name for the agent.
	Name string

	// Type groups agents by role (e.g., "responder", "coordinator").
	Type string

	// Capabilities lists what the agent can do.
	Capabilities []string

	// Metadata contains additional key-value pairs.
	Metadata map[string]string

	// LastSeen is when the agent last updated its registration.
	LastSeen time.Time
}

// Filter specifies criteria for listing agents.
type Filter struct {
	// Type filters by agent type. Empty means all.
	Type string

	// Capability filters to agents advertising this capability.
	Capability string
}

// Registry is an in-memory agent registry. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]AgentInfo
	closed bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		agents: make(map[string]AgentInfo),
	}
}

// Register adds or updates an agent. LastSeen is stamped on every call.
func (r *Registry) Register(info AgentInfo) error {
	if info.ID == "" {
		return ErrInvalidID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	info.LastSeen = time.Now()
	r.agents[info.ID] = info
	return nil
}

// Deregister removes an agent. Removing an absent agent is a no-op.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, id)
}

// Get retrieves a specific agent by ID.
func (r *Registry) Get(id string) (*AgentInfo, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, ErrClosed
	}

	info, ok := r.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &info, nil
}

// List returns all agents matching the optional filter, sorted by ID.
// Pass nil for no filtering.
func (r *Registry) List(filter *Filter) []AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]AgentInfo, 0, len(r.agents))
	for _, info := range r.agents {
		if filter != nil {
			if filter.Type != "" && info.Type != filter.Type {
				continue
			}
			if filter.Capability != "" && !hasCapability(info, filter.Capability) {
				continue
			}
		}
		out = append(out, info)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns the ids of all agents matching the optional filter.
func (r *Registry) IDs(filter *Filter) []string {
	infos := r.List(filter)
	ids := make([]string, len(infos))
	for i, info := range infos {
		ids[i] = info.ID
	}
	return ids
}

// Touch refreshes an agent's LastSeen. Unknown agents are ignored.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.agents[id]; ok {
		info.LastSeen = time.Now()
		r.agents[id] = info
	}
}

// Close shuts down the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.agents = make(map[string]AgentInfo)
}

func hasCapability(info AgentInfo, capability string) bool {
	for _, c := range info.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}
