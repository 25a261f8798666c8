package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/commlink-dev/commlink/envelope"
	"github.com/commlink-dev/commlink/errors"
	"github.com/commlink-dev/commlink/queue"
)

// worker is the dispatch loop for one destination. Each registered handler
// gets its own worker pulling from the destination queue, with a stop token
// for cancellation.
type worker struct {
	destination string
	handler     Handler
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// RegisterHandler installs a handler for a destination and starts its
// dispatch worker. Registering over an existing handler replaces it and
// stops the previous worker.
func (b *Bus) RegisterHandler(destination string, h Handler) error {
	if destination == "" {
		return errors.Malformed("empty destination")
	}
	if h == nil {
		return errors.Malformed("nil handler for " + destination)
	}

	b.mu.Lock()
	prev := b.handlers[destination]
	w := &worker{
		destination: destination,
		handler:     h,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	b.handlers[destination] = w
	q := b.queueForLocked(destination)
	b.mu.Unlock()

	if prev != nil {
		prev.stop()
	}

	go b.dispatchLoop(w, q)
	return nil
}

// UnregisterHandler removes the handler for a destination and stops its
// worker. Unregistering an absent handler is a no-op.
func (b *Bus) UnregisterHandler(destination string) {
	b.mu.Lock()
	w := b.handlers[destination]
	delete(b.handlers, destination)
	b.mu.Unlock()

	if w != nil {
		w.stop()
	}
}

func (w *worker) stop() {
	close(w.stopCh)
	<-w.doneCh
}

// dispatchLoop pulls envelopes for one destination and invokes the handler.
// Handler failures are logged and never stop the loop; expired envelopes are
// discarded without invoking the handler.
func (b *Bus) dispatchLoop(w *worker, q *queue.Queue) {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		env, err := q.Get()
		if err != nil {
			if err == queue.ErrClosed {
				return
			}
			select {
			case <-w.stopCh:
				return
			case <-time.After(b.cfg.PollInterval):
			}
			continue
		}

		b.deliver(w, env)
	}
}

// deliver invokes the worker's handler for one envelope.
func (b *Bus) deliver(w *worker, env *envelope.Envelope) {
	if env.IsExpired() {
		b.expired.Add(1)
		b.log.Debug("discarding expired envelope", map[string]interface{}{
			"destination": w.destination,
			"message_id":  env.Message.ID,
		})
		return
	}

	defer func() {
		if r := recover(); r != nil {
			b.handlerErrs.Add(1)
			b.log.Error("handler panic", map[string]interface{}{
				"destination": w.destination,
				"message_id":  env.Message.ID,
				"panic":       fmt.Sprintf("%v", r),
			})
		}
	}()

	b.handled.Add(1)
	if err := w.handler(context.Background(), env); err != nil {
		b.handlerErrs.Add(1)
		b.log.Error("handler failed", map[string]interface{}{
			"destination": w.destination,
			"message_id":  env.Message.ID,
			"error":       err.Error(),
		})
	}
}

// Start launches the retry and cleanup loops. It returns an error if the
// bus is already running. The loops exit when ctx is cancelled or Stop is
// called.
func (b *Bus) Start(ctx context.Context) error {
	if b.running.Swap(true) {
		return errors.FromCode(errors.ErrCodeInternal, errors.WithMetadata("reason", "bus already started"))
	}
	if ctx == nil {
		ctx = context.Background()
	}

	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})

	go b.run(ctx)
	return nil
}

func (b *Bus) run(ctx context.Context) {
	defer close(b.doneCh)

	retry := time.NewTicker(b.cfg.RetryInterval)
	defer retry.Stop()
	cleanup := time.NewTicker(b.cfg.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case <-retry.C:
			b.retryFailed()
		case <-cleanup.C:
			b.trimHistory()
		}
	}
}

// retryFailed re-attempts delivery for every failed envelope with remaining
// budget. Only recipients still pending are re-enqueued, so recipients that
// already accepted the message never see a duplicate. Exhausted envelopes
// are dropped from the list and never retried again.
func (b *Bus) retryFailed() {
	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := b.failed[:0]
	for _, entry := range b.failed {
		if !entry.env.ShouldRetry() {
			b.droppedN.Add(1)
			b.log.Warn("retry budget exhausted", map[string]interface{}{
				"message_id": entry.env.Message.ID,
				"retries":    entry.env.RetryCount,
			})
			continue
		}

		entry.env.RetryCount++
		b.retried.Add(1)

		var pending []string
		for _, recipient := range entry.pending {
			clone := entry.env.CloneTo(recipient)
			if !b.queueForLocked(recipient).Put(clone) {
				pending = append(pending, recipient)
			}
		}

		if len(pending) == 0 {
			b.delivered[entry.env.Message.ID] = struct{}{}
			b.deliveredN.Add(1)
			continue
		}

		entry.pending = pending
		remaining = append(remaining, entry)
	}
	b.failed = remaining
}

// trimHistory enforces the history bound. Live queues are never cleared
// here; drop-oldest at enqueue is the only queue eviction rule.
func (b *Bus) trimHistory() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if excess := len(b.history) - b.cfg.HistoryLimit; excess > 0 {
		b.history = b.history[excess:]
	}
}

// Stop halts the background loops and all dispatch workers, waiting for
// each to exit. In-flight handler invocations run to completion.
func (b *Bus) Stop() {
	if b.running.Swap(false) {
		close(b.stopCh)
		<-b.doneCh
	}

	b.mu.Lock()
	workers := make([]*worker, 0, len(b.handlers))
	for _, w := range b.handlers {
		workers = append(workers, w)
	}
	b.handlers = make(map[string]*worker)
	b.mu.Unlock()

	for _, w := range workers {
		w.stop()
	}
}
