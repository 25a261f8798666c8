package transport

import (
	"context"
	"testing"

	"github.com/commlink-dev/commlink/envelope"
)

func testEnvelope(source, dest string) *envelope.Envelope {
	msg := envelope.NewMessage(source, dest, envelope.KindNotification, nil)
	return envelope.New(msg, envelope.ProtocolAgent, envelope.TransportInProc)
}

func TestInProcLifecycle(t *testing.T) {
	tr := NewInProc(DefaultConfig())

	if tr.Connected() {
		t.Error("fresh transport should not be connected")
	}
	if err := tr.Send(testEnvelope("a", "b")); err != ErrNotConnected {
		t.Errorf("send before connect = %v, want ErrNotConnected", err)
	}

	if err := tr.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !tr.Connected() {
		t.Error("expected connected")
	}

	if err := tr.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if tr.Connected() {
		t.Error("expected disconnected")
	}
}

func TestInProcDirectDelivery(t *testing.T) {
	tr := NewInProc(DefaultConfig())
	tr.Connect(context.Background())

	got := make(chan *envelope.Envelope, 1)
	tr.Handle("b", func(env *envelope.Envelope) {
		got <- env
	})

	if err := tr.Send(testEnvelope("a", "b")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case env := <-got:
		if env.Destination != "b" {
			t.Errorf("destination = %q", env.Destination)
		}
	default:
		t.Fatal("handler not invoked")
	}

	// Direct delivery bypasses the queue.
	if _, err := tr.Receive(); err != ErrEmpty {
		t.Errorf("Receive = %v, want ErrEmpty", err)
	}
}

func TestInProcQueueFallback(t *testing.T) {
	tr := NewInProc(DefaultConfig())
	tr.Connect(context.Background())

	if err := tr.Send(testEnvelope("a", "nobody")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	env, err := tr.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if env.Destination != "nobody" {
		t.Errorf("destination = %q", env.Destination)
	}
}

func TestInProcHandlerRemoval(t *testing.T) {
	tr := NewInProc(DefaultConfig())
	tr.Connect(context.Background())

	tr.Handle("b", func(env *envelope.Envelope) {})
	tr.Handle("b", nil) // removal

	tr.Send(testEnvelope("a", "b"))
	if _, err := tr.Receive(); err != nil {
		t.Errorf("expected queue fallback after handler removal: %v", err)
	}
}
