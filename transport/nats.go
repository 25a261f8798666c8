package transport

import (
	"context"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConfig holds NATS broker connection settings.
type NATSConfig struct {
	// URL is the NATS server URL. Default: nats.DefaultURL
	URL string

	// Name is the client name for identification.
	Name string

	// ConnectTimeout for the initial connection. Default: 5s
	ConnectTimeout time.Duration
}

// DefaultNATSConfig returns configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            nats.DefaultURL,
		ConnectTimeout: 5 * time.Second,
	}
}

// NATSBroker implements Broker over NATS. NATS subjects are dot-separated
// and '*' only matches whole tokens, so the agent:{destination} channel
// convention is translated: "agent:alpha" becomes subject "agent.alpha" and
// the "agent:*" wildcard becomes "agent.*".
type NATSBroker struct {
	conn *nats.Conn
}

// NewNATSBroker connects to a NATS server.
func NewNATSBroker(cfg NATSConfig) (*NATSBroker, error) {
	if cfg.URL == "" {
		cfg.URL = DefaultNATSConfig().URL
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultNATSConfig().ConnectTimeout
	}

	opts := []nats.Option{nats.Timeout(cfg.ConnectTimeout)}
	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}
	return &NATSBroker{conn: conn}, nil
}

// toSubject translates a channel name into a NATS subject.
func toSubject(channel string) string {
	return strings.ReplaceAll(channel, ":", ".")
}

// toChannel translates a NATS subject back into a channel name.
func toChannel(subject string) string {
	return strings.Replace(subject, ".", ":", 1)
}

// Publish sends a payload to a channel.
func (b *NATSBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.conn.Publish(toSubject(channel), payload)
}

// natsSubscription wraps an active NATS subscription.
type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Close() error {
	return s.sub.Unsubscribe()
}

// Subscribe listens on a pattern and invokes fn for every matching message.
func (b *NATSBroker) Subscribe(ctx context.Context, pattern string, fn func(channel string, payload []byte)) (BrokerSubscription, error) {
	sub, err := b.conn.Subscribe(toSubject(pattern), func(msg *nats.Msg) {
		fn(toChannel(msg.Subject), msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return &natsSubscription{sub: sub}, nil
}

// Close drains and releases the NATS connection.
func (b *NATSBroker) Close() error {
	return b.conn.Drain()
}
