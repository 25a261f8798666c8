// Package config loads substrate configuration from TOML files.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/commlink-dev/commlink/bus"
	"github.com/commlink-dev/commlink/envelope"
	"github.com/commlink-dev/commlink/transport"
)

// Duration wraps time.Duration for TOML decoding from strings like "500ms".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// File is the top-level configuration document.
type File struct {
	Agent     AgentConfig     `toml:"agent"`
	Bus       BusConfig       `toml:"bus"`
	Transport TransportConfig `toml:"transport"`
}

// AgentConfig identifies the local agent.
type AgentConfig struct {
	ID   string `toml:"id"`
	Type string `toml:"type"`
}

// BusConfig tunes the message bus.
type BusConfig struct {
	QueueCapacity   int      `toml:"queue_capacity"`
	HistoryLimit    int      `toml:"history_limit"`
	PollInterval    Duration `toml:"poll_interval"`
	RetryInterval   Duration `toml:"retry_interval"`
	CleanupInterval Duration `toml:"cleanup_interval"`
}

// TransportConfig selects and tunes the delivery channels.
type TransportConfig struct {
	// Active names the outbound transport: inproc, push, stream, or pubsub.
	Active string `toml:"active"`

	Push   PushConfig   `toml:"push"`
	Stream StreamConfig `toml:"stream"`
	Redis  RedisConfig  `toml:"redis"`
	NATS   NATSConfig   `toml:"nats"`
}

// PushConfig configures the HTTP push transport.
type PushConfig struct {
	ListenAddr     string            `toml:"listen_addr"`
	Endpoints      map[string]string `toml:"endpoints"`
	RequestTimeout Duration          `toml:"request_timeout"`
}

// StreamConfig configures the duplex streaming transport.
type StreamConfig struct {
	ListenAddr   string   `toml:"listen_addr"`
	DialURL      string   `toml:"dial_url"`
	WriteTimeout Duration `toml:"write_timeout"`
}

// RedisConfig configures the Redis pub/sub broker.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// NATSConfig configures the NATS pub/sub broker.
type NATSConfig struct {
	URL  string `toml:"url"`
	Name string `toml:"name"`
}

// Load reads and validates a configuration file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates TOML configuration bytes.
func Parse(data []byte) (*File, error) {
	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks cross-field constraints.
func (f *File) Validate() error {
	switch f.Transport.Active {
	case "", string(envelope.TransportInProc), string(envelope.TransportPush),
		string(envelope.TransportStream), string(envelope.TransportPubSub):
	default:
		return fmt.Errorf("unknown active transport %q", f.Transport.Active)
	}
	if f.Bus.QueueCapacity < 0 || f.Bus.HistoryLimit < 0 {
		return fmt.Errorf("bus limits must be non-negative")
	}
	return nil
}

// BusConfig converts to the bus package's config, applying defaults for
// unset fields.
func (f *File) BusConfig() bus.Config {
	return bus.Config{
		QueueCapacity:   f.Bus.QueueCapacity,
		HistoryLimit:    f.Bus.HistoryLimit,
		PollInterval:    f.Bus.PollInterval.Std(),
		RetryInterval:   f.Bus.RetryInterval.Std(),
		CleanupInterval: f.Bus.CleanupInterval.Std(),
	}
}

// PushConfig converts to the transport package's push config.
func (f *File) PushConfig() transport.PushConfig {
	cfg := transport.DefaultPushConfig()
	cfg.ListenAddr = f.Transport.Push.ListenAddr
	cfg.Endpoints = f.Transport.Push.Endpoints
	if f.Transport.Push.RequestTimeout > 0 {
		cfg.RequestTimeout = f.Transport.Push.RequestTimeout.Std()
	}
	return cfg
}

// StreamConfig converts to the transport package's stream config.
func (f *File) StreamConfig() transport.StreamConfig {
	cfg := transport.DefaultStreamConfig()
	cfg.ListenAddr = f.Transport.Stream.ListenAddr
	cfg.DialURL = f.Transport.Stream.DialURL
	cfg.AgentID = f.Agent.ID
	if f.Transport.Stream.WriteTimeout > 0 {
		cfg.WriteTimeout = f.Transport.Stream.WriteTimeout.Std()
	}
	return cfg
}

// RedisConfig converts to the transport package's Redis broker config.
func (f *File) RedisConfig() transport.RedisConfig {
	cfg := transport.DefaultRedisConfig()
	if f.Transport.Redis.Addr != "" {
		cfg.Addr = f.Transport.Redis.Addr
	}
	cfg.Username = f.Transport.Redis.Username
	cfg.Password = f.Transport.Redis.Password
	cfg.DB = f.Transport.Redis.DB
	return cfg
}

// NATSConfig converts to the transport package's NATS broker config.
func (f *File) NATSConfig() transport.NATSConfig {
	cfg := transport.DefaultNATSConfig()
	if f.Transport.NATS.URL != "" {
		cfg.URL = f.Transport.NATS.URL
	}
	cfg.Name = f.Transport.NATS.Name
	return cfg
}
