package jobs

import "sync"

// Queue is an unbounded FIFO with a blocking take and an explicit
// end-of-input signal. One producer pushes candidate batches; multiple
// consumers take items until the producer closes the queue and it drains.
// Ordering across concurrent consumers is best-effort FIFO.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
}

// NewQueue constructs an empty open queue.
func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends items and wakes blocked consumers. Pushing after Close is a
// no-op; the producer has already signaled end-of-input.
func (q *Queue[T]) Push(items ...T) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, items...)
	q.cond.Broadcast()
}

// Take returns the next item in FIFO order, blocking while the queue is
// empty and still open. It returns ok=false once the queue is closed and
// fully drained.
func (q *Queue[T]) Take() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Close signals end-of-input and wakes every blocked consumer. Items already
// queued remain takeable. Safe to call more than once.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

// Len reports the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
