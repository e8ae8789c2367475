package event

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Pop once the queue is closed and empty.
var ErrQueueClosed = errors.New("event queue closed")

// Queue is an unbounded, ordered, multi-producer/single-consumer event queue.
// Push never blocks. Pop returns events in exactly the order they were pushed.
type Queue struct {
	mu     sync.Mutex
	items  []Event
	closed bool

	// wake holds at most one pending wake-up for the consumer.
	wake chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		wake: make(chan struct{}, 1),
	}
}

// Push appends an event. Events pushed after Close are dropped.
func (q *Queue) Push(e Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, e)
	q.mu.Unlock()

	q.notify()
}

// Pop blocks until an event is available, the context is done, or the queue
// is closed and drained. Only one goroutine may call Pop.
func (q *Queue) Pop(ctx context.Context) (Event, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			e := q.items[0]
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = nil
			}
			q.mu.Unlock()
			return e, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return 0, ErrQueueClosed
		}

		select {
		case <-q.wake:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Rewrite atomically replaces the pending events with fn(pending) and returns
// how many events were removed. fn must not retain the slice it is given.
func (q *Queue) Rewrite(fn func(pending []Event) []Event) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	before := len(q.items)
	if before == 0 {
		return 0
	}
	pending := make([]Event, before)
	copy(pending, q.items)

	kept := fn(pending)
	q.items = append([]Event(nil), kept...)
	return before - len(q.items)
}

// Len returns the number of pending events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting new events. Pending events can still be popped.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.notify()
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

var _ Sink = (*Queue)(nil)
