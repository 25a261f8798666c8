// Package transport provides pluggable delivery channels for envelopes.
//
// # Overview
//
// The Transport interface covers connect/disconnect lifecycle, outbound
// Send, and inbound Receive. Four implementations ship with the package:
//
//   - InProc: direct delivery to locally registered handlers, with an
//     internal queue fallback.
//   - Push: HTTP POST of the serialized envelope to a per-destination
//     endpoint, plus a listener serving the receiving side.
//   - Stream: duplex WebSocket connections; each connection announces its
//     agent id in the first frame and is kept in a table keyed by that id.
//   - PubSub: publish/subscribe over a Broker (Redis or NATS backends),
//     publishing to agent:{destination} and listening on agent:*.
//
// A Manager holds the registered transports keyed by kind and designates
// exactly one as active for outbound sends; any number may stay connected
// for inbound listening.
//
// Inbound delivery is push-style where possible: transports accept a
// DeliverFunc and hand arriving envelopes to it (typically bus.Send). With
// a nil callback, envelopes accumulate in the transport's bounded queue for
// explicit Receive calls.
package transport
