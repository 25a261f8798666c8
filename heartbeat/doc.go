// Package heartbeat provides agent liveness tracking over the message bus.
//
// Senders publish periodic heartbeats to the heartbeat topic through their
// protocol facade. A Monitor subscribes an agent to that topic, records the
// last heartbeat per agent, refreshes the registry's last-seen timestamps,
// and reports agents that go quiet longer than a configured timeout.
package heartbeat
