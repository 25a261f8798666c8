package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/commlink-dev/commlink/envelope"
	"github.com/commlink-dev/commlink/logging"
	"github.com/commlink-dev/commlink/queue"
)

// StreamPath is the endpoint the streaming server upgrades connections on.
const StreamPath = "/stream"

// identityFrame is the first frame on every new connection. A connection
// that opens with anything else is closed with a policy-violation code.
type identityFrame struct {
	AgentID string `json:"agent_id"`
}

// StreamConfig holds streaming transport configuration.
type StreamConfig struct {
	Config // Embed base config

	// ListenAddr runs the transport as a duplex server accepting long-lived
	// connections. Empty disables the server.
	ListenAddr string

	// DialURL runs the transport as a client of a remote streaming server
	// (e.g. "ws://10.0.0.2:8421/stream"). Empty disables the client.
	DialURL string

	// AgentID is the identity announced in the client handshake.
	AgentID string

	// WriteTimeout bounds each frame write. Default: 10s
	WriteTimeout time.Duration

	// Logger for connection activity.
	Logger *logging.Logger
}

// DefaultStreamConfig returns configuration with sensible defaults.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Config:       DefaultConfig(),
		WriteTimeout: 10 * time.Second,
	}
}

// streamConn is one live duplex connection, keyed by the agent id announced
// in its identity frame.
type streamConn struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *streamConn) writeJSON(v interface{}, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return c.conn.WriteJSON(v)
}

// Stream is a duplex WebSocket transport. In server mode it accepts
// long-lived connections, requires an identity frame carrying the agent id
// as the first message, and keeps a connection table keyed by that id so
// outbound sends reach the matching connection. In client mode it holds one
// connection to a remote server and announces its own agent id on connect.
type Stream struct {
	cfg      StreamConfig
	log      *logging.Logger
	deliver  DeliverFunc
	upgrader websocket.Upgrader

	mu        sync.RWMutex
	conns     map[string]*streamConn
	server    *http.Server
	addr      string
	client    *streamConn
	inbound   *queue.Queue
	connected bool
}

// NewStream creates a streaming transport. The deliver callback receives
// inbound envelopes; pass nil to queue them for Receive instead.
func NewStream(cfg StreamConfig, deliver DeliverFunc) *Stream {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultConfig().QueueCapacity
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultStreamConfig().WriteTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}

	return &Stream{
		cfg:     cfg,
		log:     cfg.Logger.WithComponent("transport.stream"),
		deliver: deliver,
		conns:   make(map[string]*streamConn),
		inbound: queue.New(cfg.QueueCapacity),
	}
}

// Kind returns the transport kind.
func (t *Stream) Kind() envelope.TransportKind {
	return envelope.TransportStream
}

// Connect starts the server and/or dials the remote side.
func (t *Stream) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if t.cfg.ListenAddr != "" {
		if err := t.listen(); err != nil {
			return err
		}
	}

	if t.cfg.DialURL != "" {
		if err := t.dial(ctx); err != nil {
			t.shutdownServer()
			return err
		}
	}

	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()
	return nil
}

func (t *Stream) listen() error {
	ln, err := net.Listen("tcp", t.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("stream listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc(StreamPath, t.handleUpgrade)
	server := &http.Server{Handler: mux}

	t.mu.Lock()
	t.server = server
	t.addr = ln.Addr().String()
	t.mu.Unlock()

	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			t.log.Error("server stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
	t.log.Info("listening", map[string]interface{}{"addr": t.Addr()})
	return nil
}

func (t *Stream) dial(ctx context.Context) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, t.cfg.DialURL, nil)
	if err != nil {
		return fmt.Errorf("stream dial: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	sc := &streamConn{id: t.cfg.AgentID, conn: conn}
	if err := sc.writeJSON(identityFrame{AgentID: t.cfg.AgentID}, t.cfg.WriteTimeout); err != nil {
		conn.Close()
		return fmt.Errorf("stream handshake: %w", err)
	}

	t.mu.Lock()
	t.client = sc
	t.mu.Unlock()

	go t.readLoop(sc, false)
	return nil
}

// handleUpgrade upgrades an incoming connection and enforces the identity
// handshake before admitting it to the connection table.
func (t *Stream) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	_, frame, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}

	var ident identityFrame
	if err := json.Unmarshal(frame, &ident); err != nil || ident.AgentID == "" {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "first frame must carry agent_id")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		return
	}

	sc := &streamConn{id: ident.AgentID, conn: conn}

	t.mu.Lock()
	if prev, ok := t.conns[ident.AgentID]; ok {
		prev.conn.Close()
	}
	t.conns[ident.AgentID] = sc
	t.mu.Unlock()

	t.log.Info("connection registered", map[string]interface{}{"agent": ident.AgentID})
	go t.readLoop(sc, true)
}

// readLoop drains frames from one connection until it closes.
func (t *Stream) readLoop(sc *streamConn, serverSide bool) {
	defer func() {
		sc.conn.Close()
		if serverSide {
			t.mu.Lock()
			if t.conns[sc.id] == sc {
				delete(t.conns, sc.id)
			}
			t.mu.Unlock()
		}
	}()

	for {
		_, data, err := sc.conn.ReadMessage()
		if err != nil {
			return
		}

		env, err := envelope.Unmarshal(data)
		if err != nil {
			t.log.Warn("dropping malformed frame", map[string]interface{}{
				"agent": sc.id,
				"error": err.Error(),
			})
			continue
		}

		if t.deliver != nil {
			t.deliver(env)
		} else {
			t.inbound.Put(env)
		}
	}
}

// Send writes the envelope to the connection matching its destination. In
// client mode everything goes over the single upstream connection.
func (t *Stream) Send(env *envelope.Envelope) error {
	t.mu.RLock()
	connected := t.connected
	sc := t.conns[env.Destination]
	if sc == nil {
		sc = t.client
	}
	t.mu.RUnlock()

	if !connected {
		return ErrNotConnected
	}
	if sc == nil {
		return ErrNoConnection
	}
	return sc.writeJSON(env, t.cfg.WriteTimeout)
}

// Receive pulls the next inbound envelope not claimed by a deliver callback.
func (t *Stream) Receive() (*envelope.Envelope, error) {
	env, err := t.inbound.Get()
	if err == queue.ErrEmpty {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, err
	}
	return env, nil
}

// Connected reports whether the transport is established.
func (t *Stream) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// Connections returns the agent ids with a live server-side connection.
func (t *Stream) Connections() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.conns))
	for id := range t.conns {
		out = append(out, id)
	}
	return out
}

// Addr returns the server listen address, useful when listening on port 0.
func (t *Stream) Addr() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.addr
}

// Disconnect closes every connection and stops the server.
func (t *Stream) Disconnect() error {
	t.mu.Lock()
	conns := t.conns
	t.conns = make(map[string]*streamConn)
	client := t.client
	t.client = nil
	t.connected = false
	t.mu.Unlock()

	for _, sc := range conns {
		sc.conn.Close()
	}
	if client != nil {
		client.conn.Close()
	}
	t.shutdownServer()
	return nil
}

func (t *Stream) shutdownServer() {
	t.mu.Lock()
	server := t.server
	t.server = nil
	t.mu.Unlock()

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}
}
