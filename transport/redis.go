package transport

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis broker connection settings.
type RedisConfig struct {
	// Addr is the Redis server address. Default: "localhost:6379"
	Addr string

	// Username and Password for authentication.
	Username string
	Password string

	// DB selects the logical database.
	DB int
}

// DefaultRedisConfig returns configuration with sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr: "localhost:6379",
	}
}

// RedisBroker implements Broker over Redis pub/sub. Channel names are used
// verbatim, so the agent:{destination} convention and the agent:* wildcard
// map directly onto PUBLISH and PSUBSCRIBE.
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker connects to Redis and verifies the connection.
func NewRedisBroker(ctx context.Context, cfg RedisConfig) (*RedisBroker, error) {
	if cfg.Addr == "" {
		cfg.Addr = DefaultRedisConfig().Addr
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisBroker{client: client}, nil
}

// Publish sends a payload to a channel.
func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, payload).Err()
}

// redisSubscription wraps an active PSUBSCRIBE.
type redisSubscription struct {
	pubsub *redis.PubSub
	done   chan struct{}
}

func (s *redisSubscription) Close() error {
	err := s.pubsub.Close()
	<-s.done
	return err
}

// Subscribe listens on a pattern and invokes fn for every matching message.
func (b *RedisBroker) Subscribe(ctx context.Context, pattern string, fn func(channel string, payload []byte)) (BrokerSubscription, error) {
	pubsub := b.client.PSubscribe(ctx, pattern)

	// Force the subscription onto the wire before returning, so messages
	// published right after Subscribe are not missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	sub := &redisSubscription{pubsub: pubsub, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		for msg := range pubsub.Channel() {
			fn(msg.Channel, []byte(msg.Payload))
		}
	}()

	return sub, nil
}

// Close releases the Redis connection.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}
