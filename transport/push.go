package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/commlink-dev/commlink/envelope"
	"github.com/commlink-dev/commlink/logging"
	"github.com/commlink-dev/commlink/queue"
)

// EnvelopePath is the endpoint receivers expose for pushed envelopes.
const EnvelopePath = "/envelope"

// PushConfig holds push transport configuration.
type PushConfig struct {
	Config // Embed base config

	// ListenAddr is the local address served for inbound envelopes.
	// Empty disables the listener (send-only transport).
	ListenAddr string

	// Endpoints maps destination names to base URLs
	// (e.g. "agent-7" -> "http://10.0.0.7:8420").
	Endpoints map[string]string

	// RequestTimeout bounds each outbound POST. Default: 10s
	RequestTimeout time.Duration

	// Logger for listener activity.
	Logger *logging.Logger
}

// DefaultPushConfig returns configuration with sensible defaults.
func DefaultPushConfig() PushConfig {
	return PushConfig{
		Config:         DefaultConfig(),
		RequestTimeout: 10 * time.Second,
	}
}

// Push carries envelopes as HTTP POSTs of their JSON serialization to a
// per-destination endpoint. A 200-class response means the receiver accepted
// the envelope into its queue, not that it was handled. When configured with
// a listen address, Connect also starts a listener that deserializes inbound
// envelopes and hands them to the deliver callback.
type Push struct {
	cfg     PushConfig
	client  *http.Client
	log     *logging.Logger
	deliver DeliverFunc

	mu        sync.RWMutex
	endpoints map[string]string
	server    *http.Server
	addr      string
	inbound   *queue.Queue
	connected bool
}

// NewPush creates a push transport. The deliver callback receives inbound
// envelopes; pass nil to queue them for Receive instead.
func NewPush(cfg PushConfig, deliver DeliverFunc) *Push {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultConfig().QueueCapacity
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultPushConfig().RequestTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}

	endpoints := make(map[string]string, len(cfg.Endpoints))
	for k, v := range cfg.Endpoints {
		endpoints[k] = v
	}

	return &Push{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.RequestTimeout},
		log:       cfg.Logger.WithComponent("transport.push"),
		deliver:   deliver,
		endpoints: endpoints,
		inbound:   queue.New(cfg.QueueCapacity),
	}
}

// Kind returns the transport kind.
func (t *Push) Kind() envelope.TransportKind {
	return envelope.TransportPush
}

// SetEndpoint maps a destination to its base URL.
func (t *Push) SetEndpoint(destination, baseURL string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endpoints[destination] = baseURL
}

// Connect starts the inbound listener when a listen address is configured.
func (t *Push) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return nil
	}

	if t.cfg.ListenAddr != "" {
		ln, err := net.Listen("tcp", t.cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("push listen: %w", err)
		}

		mux := http.NewServeMux()
		mux.HandleFunc(EnvelopePath, t.handleEnvelope)
		t.server = &http.Server{Handler: mux}

		go func() {
			if err := t.server.Serve(ln); err != nil && err != http.ErrServerClosed {
				t.log.Error("listener stopped", map[string]interface{}{"error": err.Error()})
			}
		}()
		t.addr = ln.Addr().String()
		t.log.Info("listening", map[string]interface{}{"addr": t.addr})
	}

	t.connected = true
	return nil
}

// Disconnect stops the listener.
func (t *Push) Disconnect() error {
	t.mu.Lock()
	server := t.server
	t.server = nil
	t.connected = false
	t.mu.Unlock()

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	}
	return nil
}

// Connected reports whether the transport is ready.
func (t *Push) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// Send POSTs the serialized envelope to the destination's endpoint.
func (t *Push) Send(env *envelope.Envelope) error {
	t.mu.RLock()
	connected := t.connected
	base := t.endpoints[env.Destination]
	t.mu.RUnlock()

	if !connected {
		return ErrNotConnected
	}
	if base == "" {
		return ErrNoEndpoint
	}

	data, err := env.Marshal()
	if err != nil {
		return err
	}

	resp, err := t.client.Post(base+EnvelopePath, "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("push send: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("push send: endpoint returned %d", resp.StatusCode)
	}
	return nil
}

// handleEnvelope accepts a POSTed envelope into the local queue.
func (t *Push) handleEnvelope(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read failed", http.StatusBadRequest)
		return
	}

	env, err := envelope.Unmarshal(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	t.accept(env)
	w.WriteHeader(http.StatusAccepted)
}

func (t *Push) accept(env *envelope.Envelope) {
	if t.deliver != nil {
		t.deliver(env)
		return
	}
	t.inbound.Put(env)
}

// Receive pulls the next inbound envelope not claimed by a deliver callback.
func (t *Push) Receive() (*envelope.Envelope, error) {
	env, err := t.inbound.Get()
	if err == queue.ErrEmpty {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, err
	}
	return env, nil
}

// Addr returns the listener address, useful when listening on port 0.
func (t *Push) Addr() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.addr
}
