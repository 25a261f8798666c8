package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/commlink-dev/commlink/bus"
	"github.com/commlink-dev/commlink/logging"
	"github.com/commlink-dev/commlink/registry"
	"github.com/commlink-dev/commlink/router"
	"github.com/commlink-dev/commlink/transport"
)

func newCoordinator(opts ...Option) *Coordinator {
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	return New(opts...)
}

func TestPhaseOrdering(t *testing.T) {
	c := newCoordinator()

	var mu sync.Mutex
	var order []string
	record := func(name string) StepFunc {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	// Registered out of order on purpose.
	c.Register("transports", PhaseTransports, record("transports"))
	c.Register("agents", PhaseAgents, record("agents"))
	c.Register("bus", PhaseBus, record("bus"))

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	want := []string{"agents", "bus", "transports"}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestShutdownRunsOnce(t *testing.T) {
	c := newCoordinator()

	calls := 0
	c.Register("once", PhaseBus, func(ctx context.Context) error {
		calls++
		return nil
	})

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if calls != 1 {
		t.Errorf("step ran %d times", calls)
	}

	select {
	case <-c.Done():
	default:
		t.Error("Done not closed after shutdown")
	}
}

func TestStepFailureReported(t *testing.T) {
	c := newCoordinator()

	boom := errors.New("boom")
	c.Register("bad", PhaseAgents, func(ctx context.Context) error { return boom })
	c.Register("good", PhaseBus, func(ctx context.Context) error { return nil })

	if err := c.Shutdown(context.Background()); err != ErrStepFailed {
		t.Errorf("Shutdown = %v, want ErrStepFailed", err)
	}
	if c.Err() != ErrStepFailed {
		t.Errorf("Err = %v", c.Err())
	}

	results := c.Results()
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2 (later phases still run)", len(results))
	}
	if results[0].Err != boom || results[1].Err != nil {
		t.Errorf("results = %+v", results)
	}
}

func TestTimeoutSkipsLaterPhases(t *testing.T) {
	c := newCoordinator()

	c.Register("slow", PhaseAgents, func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	ran := false
	c.Register("late", PhaseBus, func(ctx context.Context) error {
		ran = true
		return nil
	})

	if err := c.ShutdownWithTimeout(20 * time.Millisecond); err != ErrTimeout {
		t.Errorf("Shutdown = %v, want ErrTimeout", err)
	}
	if ran {
		t.Error("later phase ran after timeout")
	}
}

func TestTrigger(t *testing.T) {
	c := newCoordinator(WithTimeout(time.Second))
	c.HandleSignals()

	stopped := make(chan struct{})
	c.Register("bus", PhaseBus, func(ctx context.Context) error {
		close(stopped)
		return nil
	})

	c.Trigger()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("trigger did not initiate shutdown")
	}
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown never completed")
	}
}

func TestSubstrateTeardown(t *testing.T) {
	reg := registry.New()
	rt := router.New(reg)
	cfg := bus.DefaultConfig()
	cfg.Logger = logging.Discard()
	b := bus.New(cfg, rt, reg)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("bus Start: %v", err)
	}

	m := transport.NewManager(logging.Discard())
	tr := transport.NewInProc(transport.DefaultConfig())
	m.Register(tr)
	if err := m.ConnectAll(context.Background()); err != nil {
		t.Fatalf("ConnectAll: %v", err)
	}

	c := newCoordinator()
	c.RegisterBus(b)
	c.RegisterTransports(m)

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if tr.Connected() {
		t.Error("transport still connected after shutdown")
	}
}
