package bus

import (
	"context"
	"errors"
	"sync"

	"main/internal/trade"
)

var (
	ErrQueueFull   = errors.New("order queue full")
	ErrQueueClosed = errors.New("order queue closed")
)

const DefaultCapacity = 1024

// Queue is a FIFO hand-off buffer between trade submitters and workers.
// Enqueue never blocks the submitter; Dequeue blocks a worker until an item
// is available or the queue is closed. Every dequeued item must be marked
// Done so that Join can observe a fully drained queue.
type Queue struct {
	ch chan *trade.Trade

	mu          sync.Mutex
	outstanding int
	waiters     []chan struct{}
	closed      bool
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{ch: make(chan *trade.Trade, capacity)}
}

// Enqueue adds a trade without blocking.
func (q *Queue) Enqueue(t *trade.Trade) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	select {
	case q.ch <- t:
		q.outstanding++
		q.mu.Unlock()
		return nil
	default:
		q.mu.Unlock()
		return ErrQueueFull
	}
}

// Dequeue blocks until a trade is available, the queue is closed and
// empty, or the context is done.
func (q *Queue) Dequeue(ctx context.Context) (*trade.Trade, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case t, ok := <-q.ch:
		if !ok {
			return nil, ErrQueueClosed
		}
		return t, nil
	}
}

// Done marks one previously dequeued trade as finished, regardless of its
// outcome. Done is distinct from Dequeue to leave room for requeue policies.
func (q *Queue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.outstanding == 0 {
		return
	}
	q.outstanding--
	if q.outstanding == 0 {
		for _, w := range q.waiters {
			close(w)
		}
		q.waiters = nil
	}
}

// Join blocks until every enqueued trade has been dequeued and marked Done,
// or the context is done.
func (q *Queue) Join(ctx context.Context) error {
	q.mu.Lock()
	if q.outstanding == 0 {
		q.mu.Unlock()
		return nil
	}
	drained := make(chan struct{})
	q.waiters = append(q.waiters, drained)
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-drained:
		return nil
	}
}

// Close stops the queue from accepting new trades and wakes blocked
// Dequeue calls once the buffer empties. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Len returns the number of buffered trades.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Outstanding returns the number of enqueued trades not yet marked Done.
func (q *Queue) Outstanding() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.outstanding
}
