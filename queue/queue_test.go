package queue

import (
	"fmt"
	"testing"

	"github.com/commlink-dev/commlink/envelope"
)

func testEnvelope(n int) *envelope.Envelope {
	msg := envelope.NewMessage("a", "b", envelope.KindNotification,
		map[string]interface{}{"seq": n})
	return envelope.New(msg, envelope.ProtocolAgent, envelope.TransportInProc)
}

func TestFIFO(t *testing.T) {
	q := New(10)

	for i := 0; i < 3; i++ {
		if !q.Put(testEnvelope(i)) {
			t.Fatalf("Put(%d) failed", i)
		}
	}

	for i := 0; i < 3; i++ {
		env, err := q.Get()
		if err != nil {
			t.Fatalf("Get error: %v", err)
		}
		if got := env.Message.Content["seq"]; got != i {
			t.Errorf("got seq %v, want %d", got, i)
		}
	}

	if _, err := q.Get(); err != ErrEmpty {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
}

func TestCapacityBound(t *testing.T) {
	q := New(3)

	for i := 0; i < 10; i++ {
		q.Put(testEnvelope(i))
		if q.Size() > 3 {
			t.Fatalf("queue exceeded capacity: size %d", q.Size())
		}
	}

	if q.Size() != 3 {
		t.Fatalf("size = %d, want 3", q.Size())
	}
	if q.Dropped() != 7 {
		t.Errorf("dropped = %d, want 7", q.Dropped())
	}
}

func TestDropOldest(t *testing.T) {
	q := New(2)

	q.Put(testEnvelope(0))
	q.Put(testEnvelope(1))
	q.Put(testEnvelope(2)) // evicts seq 0

	env, err := q.Get()
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got := env.Message.Content["seq"]; got != 1 {
		t.Errorf("oldest survivor seq = %v, want 1", got)
	}

	env, _ = q.Get()
	if got := env.Message.Content["seq"]; got != 2 {
		t.Errorf("next seq = %v, want 2", got)
	}
}

func TestClear(t *testing.T) {
	q := New(10)
	q.Put(testEnvelope(0))
	q.Put(testEnvelope(1))

	q.Clear()

	if q.Size() != 0 {
		t.Errorf("size after clear = %d, want 0", q.Size())
	}
	if _, err := q.Get(); err != ErrEmpty {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
}

func TestClosedQueue(t *testing.T) {
	q := New(10)
	q.Close()

	if q.Put(testEnvelope(0)) {
		t.Error("Put on closed queue should fail")
	}
	if _, err := q.Get(); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestNilPut(t *testing.T) {
	q := New(10)
	if q.Put(nil) {
		t.Error("Put(nil) should fail")
	}
}

func TestDefaultCapacity(t *testing.T) {
	for _, capacity := range []int{0, -5} {
		q := New(capacity)
		if q.Capacity() != DefaultCapacity {
			t.Errorf("New(%d).Capacity() = %d, want %d", capacity, q.Capacity(), DefaultCapacity)
		}
	}
}

func BenchmarkPutGet(b *testing.B) {
	q := New(1024)
	env := testEnvelope(0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q.Put(env)
		if _, err := q.Get(); err != nil {
			b.Fatal(fmt.Sprintf("Get: %v", err))
		}
	}
}
