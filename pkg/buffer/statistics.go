package buffer

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics tracks queue throughput.
type Statistics struct {
	enqueued atomic.Int64
	dequeued atomic.Int64

	mu          sync.RWMutex
	startTime   time.Time
	currentSize int64
	maxSize     int64
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{
		startTime: time.Now(),
	}
}

// Enqueue records one enqueued item.
func (s *Statistics) Enqueue() { s.enqueued.Add(1) }

// Dequeue records n dequeued items.
func (s *Statistics) Dequeue(n int64) { s.dequeued.Add(n) }

// UpdateSize updates the current queue length.
func (s *Statistics) UpdateSize(size int64) {
	s.mu.Lock()
	s.currentSize = size
	if size > s.maxSize {
		s.maxSize = size
	}
	s.mu.Unlock()
}

func (s *Statistics) Enqueued() int64 { return s.enqueued.Load() }
func (s *Statistics) Dequeued() int64 { return s.dequeued.Load() }

// CurrentSize returns the queue length as of the last operation.
func (s *Statistics) CurrentSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSize
}

// MaxSize returns the largest length the queue has reached.
func (s *Statistics) MaxSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxSize
}

// Throughput returns dequeued items per second since creation.
func (s *Statistics) Throughput() float64 {
	s.mu.RLock()
	elapsed := time.Since(s.startTime)
	s.mu.RUnlock()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.Dequeued()) / elapsed.Seconds()
}
