// Package protocol provides the per-agent facade over the message bus.
//
// # Overview
//
// An Agent facade builds messages and envelopes on behalf of one agent id
// and drives the bus: SendMessage for direct sends, BroadcastMessage for
// fan-out to a recipient list, a type filter, or everyone registered,
// ReplyToMessage for correlated responses, and ReceiveMessage for inbound
// dispatch through a per-kind handler table.
//
// # Receiving
//
// Handlers are registered per message kind and validated at registration.
// ReceiveMessage rejects expired envelopes (status "expired") and envelopes
// addressed to another agent (status "wrong_recipient") before any handler
// runs; otherwise every handler for the kind is invoked and its result or
// error recorded, one failing handler never aborting the others.
//
// Call Listen to attach the facade to the bus dispatch loop, or Poll to
// pull queued envelopes explicitly.
package protocol
