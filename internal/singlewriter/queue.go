package singlewriter

import (
	"context"
	"errors"
	"sync"
)

// Sentinel errors for queue lifecycle violations.
// Both are non-retryable and only occur around startup/shutdown.
var (
	// ErrNotStarted is returned by Enqueue before Start has been called.
	ErrNotStarted = errors.New("singlewriter: queue not started")

	// ErrStopped is returned by Enqueue after Stop has been called.
	ErrStopped = errors.New("singlewriter: queue stopped")
)

// Queue serializes all mutation onto a single consumer goroutine.
//
// Producers on any goroutine call Enqueue; items are delivered to the
// consume function in global enqueue order, one at a time. The consumer
// goroutine is the only writer for whatever state the consume function
// touches, so that state needs no further locking.
//
// The intake buffer is unbounded: Enqueue never blocks on a slow consumer.
type Queue[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []T
	started bool
	stopped bool

	done chan struct{}
}

// New creates an unstarted queue. Enqueue returns ErrNotStarted until
// Start is called.
func New[T any]() *Queue[T] {
	q := &Queue[T]{
		done: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Start launches the consumer goroutine. consume is invoked once per
// enqueued item, in enqueue order. The consumer exits when Stop is called
// or ctx is cancelled; items accepted before Stop are drained first,
// items still pending at ctx cancellation are discarded.
//
// Start must be called at most once.
func (q *Queue[T]) Start(ctx context.Context, consume func(T)) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	go q.loop(ctx, consume)
}

// loop is the consumer goroutine. It owns all dequeue operations.
func (q *Queue[T]) loop(ctx context.Context, consume func(T)) {
	defer close(q.done)

	// Wake the cond wait when the context is cancelled.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.stopped = true
		q.mu.Unlock()
		q.cond.Broadcast()
	})
	defer stop()

	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.stopped {
			q.cond.Wait()
		}

		if len(q.items) == 0 {
			// Stopped with nothing left to drain.
			q.mu.Unlock()
			return
		}

		item := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		if ctx.Err() != nil {
			// Cancelled mid-drain: discard remaining items.
			return
		}

		consume(item)
	}
}

// Enqueue appends an item for the consumer. It never blocks on the
// consumer and preserves global enqueue order across producers.
func (q *Queue[T]) Enqueue(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return ErrStopped
	}
	if !q.started {
		return ErrNotStarted
	}

	q.items = append(q.items, item)
	q.cond.Signal()
	return nil
}

// Stop closes intake and waits for the consumer to drain accepted items
// and exit. Safe to call multiple times; Enqueue returns ErrStopped
// afterwards.
func (q *Queue[T]) Stop() {
	q.mu.Lock()
	if !q.started {
		// Never started: mark stopped so Enqueue keeps failing, nothing to await.
		q.stopped = true
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()

	q.cond.Broadcast()
	<-q.done
}

// Len reports the number of items waiting for the consumer.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
