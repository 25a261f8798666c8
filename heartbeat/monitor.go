package heartbeat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/commlink-dev/commlink/envelope"
	"github.com/commlink-dev/commlink/protocol"
	"github.com/commlink-dev/commlink/registry"
)

// MonitorConfig configures a heartbeat monitor.
type MonitorConfig struct {
	// Agent is the protocol facade the monitor listens through. The monitor
	// subscribes it to the heartbeat topic and registers a notification
	// handler on it.
	Agent *protocol.Agent

	// Registry, when set, has its last-seen timestamps refreshed on every
	// heartbeat.
	Registry *registry.Registry

	// Timeout for considering an agent stale. Should be 2-3x the expected
	// heartbeat interval. Default: 15 seconds
	Timeout time.Duration

	// CheckInterval for the staleness checker. Default: 1 second
	CheckInterval time.Duration
}

// Validate checks the configuration.
func (c *MonitorConfig) Validate() error {
	if c.Agent == nil {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultMonitorConfig returns configuration with sensible defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Timeout:       15 * time.Second,
		CheckInterval: 1 * time.Second,
	}
}

// Monitor tracks agent liveness from heartbeats arriving on the heartbeat
// topic. Agents that go quiet longer than the timeout are reported stale
// exactly once; a fresh heartbeat clears the report.
type Monitor struct {
	agent         *protocol.Agent
	reg           *registry.Registry
	timeout       time.Duration
	checkInterval time.Duration

	mu       sync.RWMutex
	lastSeen map[string]*Heartbeat
	staleCBs []func(agentID string)
	reported map[string]bool

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewMonitor creates a heartbeat monitor.
func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultMonitorConfig().Timeout
	}
	checkInterval := cfg.CheckInterval
	if checkInterval <= 0 {
		checkInterval = DefaultMonitorConfig().CheckInterval
	}

	return &Monitor{
		agent:         cfg.Agent,
		reg:           cfg.Registry,
		timeout:       timeout,
		checkInterval: checkInterval,
		lastSeen:      make(map[string]*Heartbeat),
		reported:      make(map[string]bool),
	}, nil
}

// Start subscribes the monitor's agent to the heartbeat topic, wires it into
// bus dispatch, and runs the staleness checker.
func (m *Monitor) Start(ctx context.Context) error {
	if m.running.Swap(true) {
		return ErrAlreadyStarted
	}

	if err := m.agent.RegisterMessageHandler(envelope.KindNotification, m.onNotification); err != nil {
		m.running.Store(false)
		return err
	}
	if err := m.agent.Listen(); err != nil {
		m.running.Store(false)
		return err
	}
	m.agent.SubscribeTopic(Topic)

	if ctx == nil {
		ctx = context.Background()
	}

	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go m.run(ctx)
	return nil
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.running.Store(false)
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkStale()
		}
	}
}

// onNotification records heartbeats; other notifications pass through
// untouched.
func (m *Monitor) onNotification(ctx context.Context, env *envelope.Envelope) (map[string]interface{}, error) {
	hb, ok := FromMessage(env.Message)
	if !ok {
		return nil, nil
	}
	m.Observe(hb)
	return nil, nil
}

// Observe records one heartbeat and refreshes the registry's last-seen
// timestamp for the agent.
func (m *Monitor) Observe(hb *Heartbeat) {
	m.mu.Lock()
	m.lastSeen[hb.AgentID] = hb
	delete(m.reported, hb.AgentID)
	m.mu.Unlock()

	if m.reg != nil {
		m.reg.Touch(hb.AgentID)
	}
}

// checkStale reports agents whose last heartbeat is older than the timeout.
func (m *Monitor) checkStale() {
	now := time.Now()
	var stale []string

	m.mu.RLock()
	for agentID, hb := range m.lastSeen {
		if now.Sub(hb.Timestamp) > m.timeout && !m.reported[agentID] {
			stale = append(stale, agentID)
		}
	}
	callbacks := make([]func(string), len(m.staleCBs))
	copy(callbacks, m.staleCBs)
	m.mu.RUnlock()

	if len(stale) == 0 {
		return
	}

	m.mu.Lock()
	for _, id := range stale {
		m.reported[id] = true
	}
	m.mu.Unlock()

	for _, agentID := range stale {
		for _, cb := range callbacks {
			cb(agentID)
		}
	}
}

// IsAlive reports whether an agent sent a heartbeat within the timeout.
func (m *Monitor) IsAlive(agentID string, timeout time.Duration) bool {
	m.mu.RLock()
	hb, ok := m.lastSeen[agentID]
	m.mu.RUnlock()

	if !ok {
		return false
	}
	return time.Since(hb.Timestamp) <= timeout
}

// LastHeartbeat returns the last heartbeat from an agent, or nil.
func (m *Monitor) LastHeartbeat(agentID string) *Heartbeat {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSeen[agentID]
}

// OnStale registers a callback invoked once per agent that goes stale.
func (m *Monitor) OnStale(callback func(agentID string)) {
	m.mu.Lock()
	m.staleCBs = append(m.staleCBs, callback)
	m.mu.Unlock()
}

// Stop stops the staleness checker and unsubscribes from the topic.
func (m *Monitor) Stop() error {
	if !m.running.Swap(false) {
		return ErrNotStarted
	}
	close(m.stopCh)
	<-m.doneCh
	m.agent.UnsubscribeTopic(Topic)
	return nil
}
