// Package queue provides the bounded FIFO holding area for envelopes
// addressed to one destination.
//
// Overflow policy: when a queue is at capacity, Put evicts the oldest entry
// to make room for the new one (drop-oldest). Fresh traffic is favored over
// stale traffic and the capacity invariant always holds. The bus cleanup
// loop never clears live queues; drop-oldest is the only eviction rule.
package queue

import (
	"errors"
	"sync"

	"github.com/commlink-dev/commlink/envelope"
)

// Common errors.
var (
	ErrEmpty  = errors.New("queue empty")
	ErrClosed = errors.New("queue closed")
)

// DefaultCapacity is used when a queue is created with no explicit bound.
const DefaultCapacity = 1000

// Queue is a bounded FIFO of envelopes for a single destination.
// Safe for concurrent use.
type Queue struct {
	mu       sync.Mutex
	items    []*envelope.Envelope
	capacity int
	closed   bool

	// dropped counts envelopes evicted by the overflow policy.
	dropped uint64
}

// New creates a queue with the given capacity. Non-positive capacities fall
// back to DefaultCapacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		items:    make([]*envelope.Envelope, 0, capacity),
		capacity: capacity,
	}
}

// Put appends an envelope. At capacity, the oldest entry is evicted first.
// Returns false only if the queue is closed.
func (q *Queue) Put(env *envelope.Envelope) bool {
	if env == nil {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	if len(q.items) >= q.capacity {
		// Drop-oldest: shift out the head to keep the bound.
		copy(q.items, q.items[1:])
		q.items = q.items[:len(q.items)-1]
		q.dropped++
	}

	q.items = append(q.items, env)
	return true
}

// Get removes and returns the oldest envelope, or ErrEmpty.
func (q *Queue) Get() (*envelope.Envelope, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}
	if len(q.items) == 0 {
		return nil, ErrEmpty
	}

	env := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return env, nil
}

// Size returns the current number of queued envelopes.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Capacity returns the configured bound.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Dropped returns the number of envelopes evicted by the overflow policy.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Clear removes all queued envelopes.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = q.items[:0]
}

// Close marks the queue closed. Subsequent Put calls return false and Get
// returns ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
}
