// Package queue implements the bounded FIFO that sits between the accept
// path and the batch assembler.
//
// The queue is a buffered channel: a send wakes at most one waiting
// receiver, each item is delivered to exactly one Dequeue, and items sent by
// non-overlapping callers come out in the order they went in.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"
)

const fallbackQueueCapacity = 1024

var (
	// ErrQueueFull is returned by TryEnqueue when the queue is at capacity.
	ErrQueueFull = errors.New("ingest queue full")
	// ErrQueueClosed is returned when enqueue operations are attempted after
	// the queue has closed, and by Dequeue once a closed queue is empty.
	ErrQueueClosed = errors.New("ingest queue closed")
	// ErrTimeout is returned by Dequeue when no item arrived in time.
	ErrTimeout = errors.New("ingest queue dequeue timeout")
)

// Queue is a threadsafe, fixed-size in-memory queue of Items.
type Queue struct {
	ch       chan *Item
	capacity int
	clock    clock.Clock

	// mu guards closing ch against concurrent sends
	mu     sync.RWMutex
	closed int32

	enqueued uint64
	rejected uint64
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock sets the clock used for dequeue timeouts.
func WithClock(c clock.Clock) Option {
	return func(q *Queue) {
		if c != nil {
			q.clock = c
		}
	}
}

// New creates a bounded Queue of the given capacity. A non-positive
// capacity falls back to a small default.
func New(capacity int, opts ...Option) *Queue {
	if capacity <= 0 {
		capacity = fallbackQueueCapacity
	}
	q := &Queue{ch: make(chan *Item, capacity), capacity: capacity, clock: clock.RealClock{}}
	for _, o := range opts {
		o(q)
	}
	return q
}

// TryEnqueue adds it without blocking. Ownership of it passes to the queue
// in every case: on ErrQueueFull or ErrQueueClosed the item is released.
func (q *Queue) TryEnqueue(it *Item) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if atomic.LoadInt32(&q.closed) == 1 {
		it.Done()
		return ErrQueueClosed
	}

	select {
	case q.ch <- it:
		atomic.AddUint64(&q.enqueued, 1)
		return nil
	default:
		atomic.AddUint64(&q.rejected, 1)
		it.Done()
		return ErrQueueFull
	}
}

// Dequeue returns the oldest item, waiting up to timeout for one to arrive.
// A timeout <= 0 is a non-blocking poll. It returns ErrTimeout when nothing
// arrived, ErrQueueClosed once a closed queue has been emptied, and the
// context error if ctx ends first.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Item, error) {
	select {
	case it, ok := <-q.ch:
		if !ok {
			return nil, ErrQueueClosed
		}
		return it, nil
	default:
	}
	if timeout <= 0 {
		return nil, ErrTimeout
	}

	t := q.clock.NewTimer(timeout)
	defer t.Stop()

	select {
	case it, ok := <-q.ch:
		if !ok {
			return nil, ErrQueueClosed
		}
		return it, nil
	case <-t.C():
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops further enqueues. Items already queued stay available to
// Dequeue and DrainRemaining. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if atomic.LoadInt32(&q.closed) == 1 {
		return
	}
	atomic.StoreInt32(&q.closed, 1)
	close(q.ch)
}

// DrainRemaining closes the queue, releases every item still in it and
// returns how many there were.
func (q *Queue) DrainRemaining() int {
	q.Close()
	n := 0
	for it := range q.ch {
		it.Done()
		n++
	}
	return n
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool { return atomic.LoadInt32(&q.closed) == 1 }

// Len returns the current number of items in the queue.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the configured capacity of the queue.
func (q *Queue) Cap() int { return q.capacity }

// EnqueuedTotal returns how many items were accepted.
func (q *Queue) EnqueuedTotal() uint64 { return atomic.LoadUint64(&q.enqueued) }

// RejectedTotal returns how many enqueues failed with ErrQueueFull.
func (q *Queue) RejectedTotal() uint64 { return atomic.LoadUint64(&q.rejected) }
