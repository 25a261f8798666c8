package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/commlink-dev/commlink/envelope"
	"github.com/commlink-dev/commlink/errors"
	"github.com/commlink-dev/commlink/logging"
	"github.com/commlink-dev/commlink/queue"
	"github.com/commlink-dev/commlink/registry"
	"github.com/commlink-dev/commlink/router"
)

// Handler processes an envelope delivered to a destination. A returned error
// is caught and logged by the dispatch worker; it never stops dispatch.
type Handler func(ctx context.Context, env *envelope.Envelope) error

// Config holds bus tuning parameters.
type Config struct {
	// QueueCapacity bounds each destination queue.
	// Default: queue.DefaultCapacity.
	QueueCapacity int

	// HistoryLimit bounds the send-history ring.
	// Default: 1000
	HistoryLimit int

	// PollInterval is how long a dispatch worker sleeps when its queue is
	// empty. Default: 10ms
	PollInterval time.Duration

	// RetryInterval is the period of the retry loop.
	// Default: 500ms
	RetryInterval time.Duration

	// CleanupInterval is the period of the history-trimming loop.
	// Default: 5s
	CleanupInterval time.Duration

	// Logger for bus activity. Default: logging.New().
	Logger *logging.Logger
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:   queue.DefaultCapacity,
		HistoryLimit:    1000,
		PollInterval:    10 * time.Millisecond,
		RetryInterval:   500 * time.Millisecond,
		CleanupInterval: 5 * time.Second,
	}
}

// Stats is a point-in-time snapshot of bus counters.
type Stats struct {
	Sent      uint64 // send attempts accepted for routing
	Delivered uint64 // sends that reached every recipient
	Failed    uint64 // sends that missed at least one recipient
	Unrouted  uint64 // sends with no resolved recipients
	Retried   uint64 // retry attempts made by the retry loop
	Expired   uint64 // envelopes discarded at dispatch for expiry
	Dropped   uint64 // envelopes dropped after retry exhaustion
	Handled   uint64 // envelopes passed to a handler
	HandlerErrs uint64 // handler invocations that returned an error
}

// failedEntry tracks an envelope that missed one or more recipients,
// together with the recipients still pending. Retries re-enqueue only to
// pending recipients, so agents that already received the message never see
// a duplicate.
type failedEntry struct {
	env     *envelope.Envelope
	pending []string
}

// Bus coordinates routing, queueing, dispatch, and retry for envelopes.
// Construct with New, then Start to run the background loops.
type Bus struct {
	cfg    Config
	router *router.Router
	reg    *registry.Registry
	log    *logging.Logger

	mu        sync.Mutex
	queues    map[string]*queue.Queue
	handlers  map[string]*worker
	delivered map[string]struct{}
	failed    []*failedEntry
	history   []*envelope.Envelope

	sent        atomic.Uint64
	deliveredN  atomic.Uint64
	failedN     atomic.Uint64
	unrouted    atomic.Uint64
	retried     atomic.Uint64
	expired     atomic.Uint64
	droppedN    atomic.Uint64
	handled     atomic.Uint64
	handlerErrs atomic.Uint64

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a bus wired to the given router and registry. Pass the same
// registry the router resolves broadcasts from.
func New(cfg Config, rt *router.Router, reg *registry.Registry) *Bus {
	def := DefaultConfig()
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}

	return &Bus{
		cfg:       cfg,
		router:    rt,
		reg:       reg,
		log:       cfg.Logger.WithComponent("bus"),
		queues:    make(map[string]*queue.Queue),
		handlers:  make(map[string]*worker),
		delivered: make(map[string]struct{}),
	}
}

// Router returns the router the bus resolves recipients with.
func (b *Bus) Router() *router.Router {
	return b.router
}

// Registry returns the agent registry the bus was constructed with.
func (b *Bus) Registry() *registry.Registry {
	return b.reg
}

// Send routes an envelope to every resolved recipient and enqueues a clone
// per recipient. The boolean reports the delivery outcome: true when every
// recipient's queue accepted the envelope (or the message was already
// delivered), false otherwise. The error is non-nil only for malformed
// envelopes; delivery-path failures are reported through the boolean and
// recovered by the retry loop when budget remains.
func (b *Bus) Send(env *envelope.Envelope) (bool, error) {
	if env == nil {
		return false, errors.Malformed("nil envelope")
	}
	if err := env.Validate(); err != nil {
		return false, err
	}

	// The whole check-then-act sequence (delivered check, route, enqueue)
	// runs under one critical section to keep resends idempotent.
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.delivered[env.Message.ID]; ok {
		return true, nil
	}

	recipients := b.router.Route(env)
	if len(recipients) == 0 {
		b.unrouted.Add(1)
		b.log.Warn("no recipients resolved", map[string]interface{}{
			"destination": env.Destination,
			"message_id":  env.Message.ID,
		})
		return false, nil
	}

	b.sent.Add(1)
	failed := b.enqueueLocked(env, recipients)
	b.appendHistoryLocked(env)

	if len(failed) == 0 {
		b.delivered[env.Message.ID] = struct{}{}
		b.deliveredN.Add(1)
		return true, nil
	}

	b.failedN.Add(1)
	if env.ShouldRetry() {
		b.failed = append(b.failed, &failedEntry{env: env, pending: failed})
	} else {
		b.droppedN.Add(1)
	}
	b.log.Warn("partial delivery", map[string]interface{}{
		"message_id": env.Message.ID,
		"pending":    len(failed),
		"recipients": len(recipients),
	})
	return false, nil
}

// enqueueLocked clones the envelope per recipient and enqueues each clone,
// returning the recipients whose queue rejected the put.
func (b *Bus) enqueueLocked(env *envelope.Envelope, recipients []string) []string {
	var failed []string
	for _, recipient := range recipients {
		clone := env.CloneTo(recipient)
		if !b.queueForLocked(recipient).Put(clone) {
			failed = append(failed, recipient)
		}
	}
	return failed
}

func (b *Bus) queueForLocked(destination string) *queue.Queue {
	q, ok := b.queues[destination]
	if !ok {
		q = queue.New(b.cfg.QueueCapacity)
		b.queues[destination] = q
	}
	return q
}

func (b *Bus) appendHistoryLocked(env *envelope.Envelope) {
	b.history = append(b.history, env)
	if excess := len(b.history) - b.cfg.HistoryLimit; excess > 0 {
		b.history = b.history[excess:]
	}
}

// Receive pulls the oldest envelope queued for a destination without
// blocking. Returns queue.ErrEmpty when nothing is queued.
func (b *Bus) Receive(destination string) (*envelope.Envelope, error) {
	b.mu.Lock()
	q := b.queueForLocked(destination)
	b.mu.Unlock()
	return q.Get()
}

// QueueSize returns the number of envelopes queued for a destination.
func (b *Bus) QueueSize(destination string) int {
	b.mu.Lock()
	q, ok := b.queues[destination]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	return q.Size()
}

// CloseQueue closes the queue for a destination. Subsequent puts to it are
// rejected and surface as delivery failures.
func (b *Bus) CloseQueue(destination string) {
	b.mu.Lock()
	q := b.queueForLocked(destination)
	b.mu.Unlock()
	q.Close()
}

// Stats returns a snapshot of the bus counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Sent:        b.sent.Load(),
		Delivered:   b.deliveredN.Load(),
		Failed:      b.failedN.Load(),
		Unrouted:    b.unrouted.Load(),
		Retried:     b.retried.Load(),
		Expired:     b.expired.Load(),
		Dropped:     b.droppedN.Load(),
		Handled:     b.handled.Load(),
		HandlerErrs: b.handlerErrs.Load(),
	}
}

// FailedCount returns the number of envelopes awaiting retry.
func (b *Bus) FailedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.failed)
}

// HistoryLen returns the current send-history length.
func (b *Bus) HistoryLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.history)
}
