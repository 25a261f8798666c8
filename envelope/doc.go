// Package envelope defines the unit of transport for agent communication.
//
// # Overview
//
// A Message is the logical payload: who sent it, who should receive it, what
// kind of exchange it belongs to, and an arbitrary content map. An Envelope
// wraps exactly one Message with the metadata the bus needs to route, retry,
// and expire it: destination, source, transport tag, headers, expiry, and a
// retry budget.
//
// Messages are immutable after creation. When a destination resolves to
// multiple recipients the bus clones the envelope per recipient with CloneTo;
// clones share the Message and carry their own destination.
//
// # Wire shape
//
// Envelopes serialize to JSON and round-trip losslessly:
//
//	data, _ := env.Marshal()
//	back, err := envelope.Unmarshal(data)
//
// Unmarshal rejects envelopes missing destination, source, or message with a
// MALFORMED error rather than producing a partial value.
package envelope
