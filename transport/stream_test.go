package transport

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/commlink-dev/commlink/envelope"
	"github.com/commlink-dev/commlink/logging"
)

func startStreamServer(t *testing.T, deliver DeliverFunc) *Stream {
	t.Helper()
	cfg := DefaultStreamConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.Logger = logging.Discard()

	server := NewStream(cfg, deliver)
	if err := server.Connect(context.Background()); err != nil {
		t.Fatalf("server Connect: %v", err)
	}
	t.Cleanup(func() { server.Disconnect() })
	return server
}

func startStreamClient(t *testing.T, server *Stream, agentID string, deliver DeliverFunc) *Stream {
	t.Helper()
	cfg := DefaultStreamConfig()
	cfg.DialURL = "ws://" + server.Addr() + StreamPath
	cfg.AgentID = agentID
	cfg.Logger = logging.Discard()

	client := NewStream(cfg, deliver)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("client Connect: %v", err)
	}
	t.Cleanup(func() { client.Disconnect() })
	return client
}

func waitForConnection(t *testing.T, server *Stream, agentID string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		for _, id := range server.Connections() {
			if id == agentID {
				return
			}
		}
		select {
		case <-deadline:
			t.Fatalf("connection for %q never registered", agentID)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStreamHandshakeRegistersConnection(t *testing.T) {
	server := startStreamServer(t, nil)
	startStreamClient(t, server, "agent-1", nil)
	waitForConnection(t, server, "agent-1")
}

func TestStreamRejectsMissingIdentity(t *testing.T) {
	server := startStreamServer(t, nil)

	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+server.Addr()+StreamPath, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// First frame carries no agent id.
	if err := conn.WriteJSON(map[string]string{"hello": "world"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if err == nil {
		t.Fatal("expected close")
	}
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("close error = %v, want policy violation", err)
	}
}

func TestStreamServerToClient(t *testing.T) {
	server := startStreamServer(t, nil)

	got := make(chan *envelope.Envelope, 1)
	startStreamClient(t, server, "agent-1", func(env *envelope.Envelope) {
		got <- env
	})
	waitForConnection(t, server, "agent-1")

	if err := server.Send(testEnvelope("hub", "agent-1")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case env := <-got:
		if env.Destination != "agent-1" {
			t.Errorf("destination = %q", env.Destination)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client never received the envelope")
	}
}

func TestStreamClientToServer(t *testing.T) {
	got := make(chan *envelope.Envelope, 1)
	server := startStreamServer(t, func(env *envelope.Envelope) {
		got <- env
	})

	client := startStreamClient(t, server, "agent-1", nil)
	waitForConnection(t, server, "agent-1")

	if err := client.Send(testEnvelope("agent-1", "hub")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case env := <-got:
		if env.Source != "agent-1" {
			t.Errorf("source = %q", env.Source)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the envelope")
	}
}

func TestStreamSendNoConnection(t *testing.T) {
	server := startStreamServer(t, nil)
	if err := server.Send(testEnvelope("hub", "ghost")); err != ErrNoConnection {
		t.Errorf("Send = %v, want ErrNoConnection", err)
	}
}
