package transport

import (
	"context"
	"strings"
	"sync"

	"github.com/commlink-dev/commlink/envelope"
	"github.com/commlink-dev/commlink/logging"
	"github.com/commlink-dev/commlink/queue"
)

// Channel naming convention for the publish/subscribe transport.
const (
	// ChannelPrefix prefixes every per-destination channel.
	ChannelPrefix = "agent:"

	// WildcardPattern is the pattern the listening side subscribes with.
	WildcardPattern = "agent:*"
)

// Channel returns the channel name for a destination.
func Channel(destination string) string {
	return ChannelPrefix + destination
}

// DestinationFromChannel extracts the destination from a channel name.
func DestinationFromChannel(channel string) string {
	return strings.TrimPrefix(channel, ChannelPrefix)
}

// Broker abstracts the publish/subscribe backend (Redis, NATS).
type Broker interface {
	// Publish sends a payload to a channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe listens on a pattern (wildcard allowed) and invokes fn for
	// every matching message until the subscription is closed.
	Subscribe(ctx context.Context, pattern string, fn func(channel string, payload []byte)) (BrokerSubscription, error)

	// Close releases broker resources.
	Close() error
}

// BrokerSubscription is an active pattern subscription.
type BrokerSubscription interface {
	Close() error
}

// PubSubConfig holds publish/subscribe transport configuration.
type PubSubConfig struct {
	Config // Embed base config

	// Logger for listener activity.
	Logger *logging.Logger
}

// PubSub carries envelopes over a publish/subscribe broker. Outbound sends
// publish to the channel named after the destination; a background listener
// subscribes to the wildcard pattern and dispatches incoming envelopes to
// the locally registered handler matching the embedded destination.
type PubSub struct {
	cfg     PubSubConfig
	broker  Broker
	log     *logging.Logger
	deliver DeliverFunc

	mu        sync.RWMutex
	handlers  map[string]DeliverFunc
	sub       BrokerSubscription
	inbound   *queue.Queue
	connected bool
}

// NewPubSub creates a publish/subscribe transport over the given broker.
// The deliver callback receives inbound envelopes with no matching local
// handler; pass nil to queue them for Receive instead.
func NewPubSub(cfg PubSubConfig, broker Broker, deliver DeliverFunc) *PubSub {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultConfig().QueueCapacity
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}

	return &PubSub{
		cfg:      cfg,
		broker:   broker,
		log:      cfg.Logger.WithComponent("transport.pubsub"),
		deliver:  deliver,
		handlers: make(map[string]DeliverFunc),
		inbound:  queue.New(cfg.QueueCapacity),
	}
}

// Kind returns the transport kind.
func (t *PubSub) Kind() envelope.TransportKind {
	return envelope.TransportPubSub
}

// Handle registers a local deliver callback for a destination.
func (t *PubSub) Handle(destination string, fn DeliverFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fn == nil {
		delete(t.handlers, destination)
		return
	}
	t.handlers[destination] = fn
}

// Connect starts the wildcard listener.
func (t *PubSub) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return nil
	}

	sub, err := t.broker.Subscribe(ctx, WildcardPattern, t.onMessage)
	if err != nil {
		return err
	}

	t.sub = sub
	t.connected = true
	return nil
}

// onMessage dispatches one inbound broker message.
func (t *PubSub) onMessage(channel string, payload []byte) {
	env, err := envelope.Unmarshal(payload)
	if err != nil {
		t.log.Warn("dropping malformed message", map[string]interface{}{
			"channel": channel,
			"error":   err.Error(),
		})
		return
	}

	dest := env.Destination
	if dest == "" {
		dest = DestinationFromChannel(channel)
	}

	t.mu.RLock()
	fn := t.handlers[dest]
	t.mu.RUnlock()

	switch {
	case fn != nil:
		fn(env)
	case t.deliver != nil:
		t.deliver(env)
	default:
		t.inbound.Put(env)
	}
}

// Send publishes the envelope to its destination channel.
func (t *PubSub) Send(env *envelope.Envelope) error {
	t.mu.RLock()
	connected := t.connected
	t.mu.RUnlock()

	if !connected {
		return ErrNotConnected
	}

	data, err := env.Marshal()
	if err != nil {
		return err
	}
	return t.broker.Publish(context.Background(), Channel(env.Destination), data)
}

// Receive pulls the next inbound envelope not claimed by any handler.
func (t *PubSub) Receive() (*envelope.Envelope, error) {
	env, err := t.inbound.Get()
	if err == queue.ErrEmpty {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, err
	}
	return env, nil
}

// Connected reports whether the listener is active.
func (t *PubSub) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// Disconnect stops the listener. The broker itself stays open; callers own
// its lifecycle.
func (t *PubSub) Disconnect() error {
	t.mu.Lock()
	sub := t.sub
	t.sub = nil
	t.connected = false
	t.mu.Unlock()

	if sub != nil {
		return sub.Close()
	}
	return nil
}
