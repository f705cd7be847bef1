package buffer

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promotion0824/TwinPlatform-sub045/errors"
	"github.com/promotion0824/TwinPlatform-sub045/metric"
)

func TestQueue_FIFO(t *testing.T) {
	q, err := NewQueue[int]()
	require.NoError(t, err)

	_, ok := q.Dequeue()
	assert.False(t, ok)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(i))
	}
	assert.Equal(t, 3, q.Len())

	for i := 0; i < 3; i++ {
		v, ok := q.Dequeue()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueue_GrowsPastInitialCapacity(t *testing.T) {
	q, err := NewQueue[int](WithInitialCapacity[int](16))
	require.NoError(t, err)

	// Move head off zero so growth has to unwrap the ring
	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(-1))
	}
	for i := 0; i < 10; i++ {
		_, _ = q.Dequeue()
	}

	for i := 0; i < 100; i++ {
		require.NoError(t, q.Enqueue(i))
	}
	require.Equal(t, 100, q.Len())

	for i := 0; i < 100; i++ {
		v, ok := q.Dequeue()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
}

func TestQueue_Drain(t *testing.T) {
	q, err := NewQueue[string]()
	require.NoError(t, err)

	assert.Nil(t, q.Drain())

	// Wrapped ring
	for i := 0; i < 12; i++ {
		require.NoError(t, q.Enqueue("x"))
	}
	for i := 0; i < 12; i++ {
		_, _ = q.Dequeue()
	}
	for _, s := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		require.NoError(t, q.Enqueue(s))
	}

	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f", "g", "h"}, q.Drain())
	assert.Equal(t, 0, q.Len())
	assert.Nil(t, q.Drain())
}

func TestQueue_Close(t *testing.T) {
	q, err := NewQueue[int]()
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(1))
	require.NoError(t, q.Close())

	err = q.Enqueue(2)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	assert.Equal(t, []int{1}, q.Drain())
}

func TestQueue_ConcurrentEnqueue(t *testing.T) {
	q, err := NewQueue[int]()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = q.Enqueue(i)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, q.Drain(), 1000)
	assert.Equal(t, int64(1000), q.Stats().Enqueued())
	assert.Equal(t, int64(1000), q.Stats().Dequeued())
	assert.Equal(t, int64(0), q.Stats().CurrentSize())
	assert.GreaterOrEqual(t, q.Stats().MaxSize(), int64(1))
}

func TestQueue_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	q, err := NewQueue[int](WithMetrics[int](registry, "rows"))
	require.NoError(t, err)

	_ = q.Enqueue(1)
	_ = q.Enqueue(2)
	_, _ = q.Dequeue()

	assert.Equal(t, 2.0, testutil.ToFloat64(q.metrics.enqueued))
	assert.Equal(t, 1.0, testutil.ToFloat64(q.metrics.dequeued))
	assert.Equal(t, 1.0, testutil.ToFloat64(q.metrics.size))

	_, err = NewQueue[int](WithMetrics[int](registry, "rows"))
	assert.Error(t, err)
}
