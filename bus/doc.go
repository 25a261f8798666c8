// Package bus coordinates envelope delivery between agents.
//
// # Overview
//
// The Bus accepts an envelope, asks the router for the recipient set, and
// enqueues a per-recipient clone onto each recipient's bounded queue. A
// registered handler gets a dedicated dispatch worker pulling from its
// destination queue; destinations without a handler accumulate envelopes for
// explicit Receive calls.
//
// # Delivery semantics
//
// Delivery is at-most-once. A message id that reached every recipient enters
// the delivered set, and a later Send carrying the same id short-circuits to
// success without re-enqueueing. A send that misses some recipients joins
// the failed list; the retry loop re-enqueues only to the recipients still
// pending, incrementing the envelope's retry count each cycle, until the
// budget is exhausted and the envelope is dropped.
//
// Ordering is FIFO per destination for envelopes accepted without retry.
// Retried envelopes may land behind fresher traffic to the same destination.
// No ordering holds across destinations.
//
// # Lifecycle
//
//	reg := registry.New()
//	rt := router.New(reg)
//	b := bus.New(bus.DefaultConfig(), rt, reg)
//	b.Start(ctx)       // retry + cleanup loops
//	defer b.Stop()     // stops loops and dispatch workers, waits for drain
package bus
