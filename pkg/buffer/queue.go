// Package buffer provides a generic, thread-safe, unbounded FIFO queue.
//
// The queue backs the local ingestion store: producers enqueue rows without
// ever blocking or dropping, and a flush drains whatever is present at that
// moment. Statistics are always collected; Prometheus metrics are optional via
// the WithMetrics functional option.
package buffer

import (
	"fmt"
	"sync"

	"github.com/promotion0824/TwinPlatform-sub045/errors"
)

const minCapacity = 16

// Queue is an unbounded first-in first-out queue.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T // ring storage, len(items) is the current capacity
	head    int // next read position
	size    int
	closed  bool
	stats   *Statistics
	metrics *queueMetrics
}

// NewQueue creates an empty queue. It fails only when metrics registration was
// requested and could not be completed.
func NewQueue[T any](options ...Option[T]) (*Queue[T], error) {
	opts := applyOptions(options...)

	var metrics *queueMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newQueueMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "NewQueue", "metrics registration")
		}
	}

	capacity := opts.initialCapacity
	if capacity < minCapacity {
		capacity = minCapacity
	}

	return &Queue[T]{
		items:   make([]T, capacity),
		stats:   NewStatistics(),
		metrics: metrics,
	}, nil
}

// Enqueue appends an item. It fails only after Close.
func (q *Queue[T]) Enqueue(item T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errors.WrapInvalid(fmt.Errorf("queue closed"), "Queue", "Enqueue", "append item")
	}
	if q.size == len(q.items) {
		q.grow()
	}
	q.items[(q.head+q.size)%len(q.items)] = item
	q.size++
	size := q.size
	q.mu.Unlock()

	q.stats.Enqueue()
	q.stats.UpdateSize(int64(size))
	if q.metrics != nil {
		q.metrics.recordEnqueue(size)
	}
	return nil
}

// grow doubles the ring storage; callers hold q.mu.
func (q *Queue[T]) grow() {
	next := make([]T, len(q.items)*2)
	n := copy(next, q.items[q.head:])
	copy(next[n:], q.items[:q.head])
	q.items = next
	q.head = 0
}

// Dequeue removes and returns the oldest item, or false when empty.
func (q *Queue[T]) Dequeue() (T, bool) {
	var zero T

	q.mu.Lock()
	if q.size == 0 {
		q.mu.Unlock()
		return zero, false
	}
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head = (q.head + 1) % len(q.items)
	q.size--
	size := q.size
	q.mu.Unlock()

	q.stats.Dequeue(1)
	q.stats.UpdateSize(int64(size))
	if q.metrics != nil {
		q.metrics.recordDequeue(1, size)
	}
	return item, true
}

// Drain removes and returns every item present at the time of the call, in
// FIFO order. Items enqueued concurrently after the drain starts stay queued.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	if q.size == 0 {
		q.mu.Unlock()
		return nil
	}
	out := make([]T, q.size)
	n := copy(out, q.items[q.head:min(q.head+q.size, len(q.items))])
	copy(out[n:], q.items[:q.size-n])

	var zero T
	for i := range q.items {
		q.items[i] = zero
	}
	q.head = 0
	q.size = 0
	q.mu.Unlock()

	q.stats.Dequeue(int64(len(out)))
	q.stats.UpdateSize(0)
	if q.metrics != nil {
		q.metrics.recordDequeue(len(out), 0)
	}
	return out
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() *Statistics {
	return q.stats
}

// Close rejects further Enqueue calls. Items already queued can still be
// dequeued or drained.
func (q *Queue[T]) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return nil
}
