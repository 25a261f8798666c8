package heartbeat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/commlink-dev/commlink/envelope"
	"github.com/commlink-dev/commlink/protocol"
)

// SenderConfig configures a heartbeat sender.
type SenderConfig struct {
	// Agent is the protocol facade the sender publishes through.
	Agent *protocol.Agent

	// Interval between heartbeats. Default: 5 seconds
	Interval time.Duration

	// InitialStatus is the starting status. Default: idle
	InitialStatus string
}

// Validate checks the configuration.
func (c *SenderConfig) Validate() error {
	if c.Agent == nil {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultSenderConfig returns configuration with sensible defaults.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		Interval:      5 * time.Second,
		InitialStatus: StatusIdle,
	}
}

// Sender publishes periodic heartbeats to the heartbeat topic on behalf of
// one agent. An unsubscribed topic makes the send unroutable, which is fine:
// heartbeats are fire-and-forget.
type Sender struct {
	agent    *protocol.Agent
	interval time.Duration

	mu       sync.RWMutex
	status   string
	load     float64
	metadata map[string]string

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSender creates a heartbeat sender.
func NewSender(cfg SenderConfig) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultSenderConfig().Interval
	}
	status := cfg.InitialStatus
	if status == "" {
		status = DefaultSenderConfig().InitialStatus
	}

	return &Sender{
		agent:    cfg.Agent,
		interval: interval,
		status:   status,
		metadata: make(map[string]string),
	}, nil
}

// Start begins sending heartbeats at the configured interval. The first
// heartbeat goes out immediately.
func (s *Sender) Start(ctx context.Context) error {
	if s.running.Swap(true) {
		return ErrAlreadyStarted
	}

	if ctx == nil {
		ctx = context.Background()
	}

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.run(ctx)
	return nil
}

func (s *Sender) run(ctx context.Context) {
	defer close(s.doneCh)

	s.Beat()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.running.Store(false)
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Beat()
		}
	}
}

// Beat publishes one heartbeat immediately.
func (s *Sender) Beat() bool {
	hb := s.build()
	return s.agent.SendMessage(Topic, envelope.KindNotification, hb.Content())
}

func (s *Sender) build() *Heartbeat {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hb := &Heartbeat{
		AgentID:   s.agent.ID(),
		Timestamp: time.Now().UTC(),
		Status:    s.status,
		Load:      s.load,
	}
	if len(s.metadata) > 0 {
		hb.Metadata = make(map[string]string, len(s.metadata))
		for k, v := range s.metadata {
			hb.Metadata[k] = v
		}
	}
	return hb
}

// SetStatus updates the status included in heartbeats.
func (s *Sender) SetStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// SetLoad updates the load metric, clamped to [0, 1].
func (s *Sender) SetLoad(load float64) {
	s.mu.Lock()
	if load < 0 {
		load = 0
	}
	if load > 1 {
		load = 1
	}
	s.load = load
	s.mu.Unlock()
}

// SetMetadata updates a metadata field.
func (s *Sender) SetMetadata(key, value string) {
	s.mu.Lock()
	s.metadata[key] = value
	s.mu.Unlock()
}

// Stop stops sending heartbeats.
func (s *Sender) Stop() error {
	if !s.running.Swap(false) {
		return ErrNotStarted
	}
	close(s.stopCh)
	<-s.doneCh
	return nil
}
