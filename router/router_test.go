package router

import (
	"sort"
	"testing"

	"github.com/commlink-dev/commlink/envelope"
	"github.com/commlink-dev/commlink/registry"
)

func testEnvelope(source, dest string, content map[string]interface{}) *envelope.Envelope {
	msg := envelope.NewMessage(source, dest, envelope.KindNotification, content)
	return envelope.New(msg, envelope.ProtocolAgent, envelope.TransportInProc)
}

func sorted(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

func TestDirectRoute(t *testing.T) {
	r := New(registry.New())
	r.AddRoute("beta", "beta")

	got := r.Route(testEnvelope("alpha", "beta", nil))
	if len(got) != 1 || got[0] != "beta" {
		t.Errorf("Route = %v, want [beta]", got)
	}
}

func TestUnroutableDestination(t *testing.T) {
	r := New(registry.New())

	if got := r.Route(testEnvelope("alpha", "nowhere", nil)); len(got) != 0 {
		t.Errorf("Route = %v, want empty", got)
	}
}

func TestIdempotentTables(t *testing.T) {
	r := New(registry.New())

	r.AddRoute("d", "x")
	r.AddRoute("d", "x") // duplicate add is a no-op
	if got := r.Route(testEnvelope("src", "d", nil)); len(got) != 1 {
		t.Errorf("after duplicate add: %v", got)
	}

	r.RemoveRoute("d", "x")
	r.RemoveRoute("d", "x") // duplicate remove is a no-op
	r.RemoveRoute("absent", "x")
	if got := r.Route(testEnvelope("src", "d", nil)); len(got) != 0 {
		t.Errorf("after remove: %v", got)
	}

	r.Subscribe("topic-1", "x")
	r.Subscribe("topic-1", "x")
	if subs := r.Subscribers("topic-1"); len(subs) != 1 {
		t.Errorf("subscribers = %v, want one", subs)
	}
	r.Unsubscribe("topic-1", "x")
	r.Unsubscribe("topic-1", "x")
	if subs := r.Subscribers("topic-1"); len(subs) != 0 {
		t.Errorf("subscribers after unsubscribe = %v", subs)
	}
}

func TestTopicFanout(t *testing.T) {
	r := New(registry.New())
	r.Subscribe("alerts", "b")
	r.Subscribe("alerts", "c")

	env := testEnvelope("a", "some-dest", map[string]interface{}{"topic": "alerts"})
	got := sorted(r.Route(env))
	want := []string{"b", "c"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Route = %v, want %v", got, want)
	}
}

func TestBroadcastExcludesSource(t *testing.T) {
	reg := registry.New()
	for _, id := range []string{"a", "b", "c"} {
		reg.Register(registry.AgentInfo{ID: id})
	}
	r := New(reg)

	got := sorted(r.Route(testEnvelope("a", envelope.BroadcastDestination, nil)))
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("Route = %v, want [b c]", got)
	}
}

func TestUnionDeduplicates(t *testing.T) {
	r := New(registry.New())
	r.AddRoute("ops", "b")
	r.Subscribe("alerts", "b") // same subscriber via topic

	env := testEnvelope("a", "ops", map[string]interface{}{"topic": "alerts"})
	if got := r.Route(env); len(got) != 1 || got[0] != "b" {
		t.Errorf("Route = %v, want [b]", got)
	}
}

func TestSourceNeverIncluded(t *testing.T) {
	r := New(registry.New())
	r.AddRoute("ops", "a")
	r.AddRoute("ops", "b")

	got := r.Route(testEnvelope("a", "ops", nil))
	for _, id := range got {
		if id == "a" {
			t.Fatalf("Route included the source: %v", got)
		}
	}
	if len(got) != 1 || got[0] != "b" {
		t.Errorf("Route = %v, want [b]", got)
	}
}
