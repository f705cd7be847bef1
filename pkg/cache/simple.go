package cache

import (
	"sync"

	"github.com/promotion0824/TwinPlatform-sub045/errors"
)

// simpleCache is a map guarded by a RWMutex. Entries live until deleted or
// cleared.
type simpleCache[V any] struct {
	mu      sync.RWMutex
	items   map[string]V
	stats   *Statistics
	metrics *cacheMetrics
	evictFn EvictCallback[V]
}

// NewSimple creates a cache without eviction. It fails only when metrics
// registration was requested and could not be completed.
func NewSimple[V any](options ...Option[V]) (Cache[V], error) {
	opts := applyOptions(options...)

	c := &simpleCache[V]{
		items:   make(map[string]V),
		stats:   NewStatistics(),
		evictFn: opts.evictCallback,
	}
	if opts.metricsReg != nil {
		m, err := newCacheMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "cache", "NewSimple", "metrics registration")
		}
		c.metrics = m
	}
	return c, nil
}

// lookup records the outcome of a read.
func (c *simpleCache[V]) lookup(found bool) {
	if found {
		c.stats.Hit()
		if c.metrics != nil {
			c.metrics.recordHit()
		}
		return
	}
	c.stats.Miss()
	if c.metrics != nil {
		c.metrics.recordMiss()
	}
}

// stored records a write that left size entries.
func (c *simpleCache[V]) stored(size int) {
	c.stats.Set()
	if c.metrics != nil {
		c.metrics.recordSet()
	}
	c.resized(size)
}

// removed records a delete that left size entries.
func (c *simpleCache[V]) removed(size int) {
	c.stats.Delete()
	if c.metrics != nil {
		c.metrics.recordDelete()
	}
	c.resized(size)
}

func (c *simpleCache[V]) resized(size int) {
	c.stats.UpdateSize(int64(size))
	if c.metrics != nil {
		c.metrics.updateSize(size)
	}
}

func (c *simpleCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	value, found := c.items[key]
	c.mu.RUnlock()

	c.lookup(found)
	return value, found
}

func (c *simpleCache[V]) Set(key string, value V) (bool, error) {
	created := false
	_, err := c.Update(key, func(_ V, exists bool) V {
		created = !exists
		return value
	})
	return created, err
}

func (c *simpleCache[V]) Update(key string, fn func(old V, exists bool) V) (V, error) {
	if err := validateKey(key); err != nil {
		var zero V
		return zero, err
	}

	c.mu.Lock()
	old, exists := c.items[key]
	value := fn(old, exists)
	c.items[key] = value
	size := len(c.items)
	c.mu.Unlock()

	c.stored(size)
	return value, nil
}

func (c *simpleCache[V]) Delete(key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	value, exists := c.items[key]
	delete(c.items, key)
	size := len(c.items)
	c.mu.Unlock()

	if !exists {
		return false, nil
	}
	if c.evictFn != nil {
		c.evictFn(key, value)
	}
	c.removed(size)
	return true, nil
}

func (c *simpleCache[V]) Clear() error {
	c.mu.Lock()
	old := c.items
	c.items = make(map[string]V)
	c.mu.Unlock()

	if c.evictFn != nil {
		for key, value := range old {
			c.evictFn(key, value)
		}
	}
	c.resized(0)
	return nil
}

func (c *simpleCache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *simpleCache[V]) Keys() []string {
	keys := make([]string, 0, c.Size())
	c.Range(func(key string, _ V) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}

func (c *simpleCache[V]) Range(fn func(key string, value V) bool) {
	c.mu.RLock()
	snapshot := make(map[string]V, len(c.items))
	for key, value := range c.items {
		snapshot[key] = value
	}
	c.mu.RUnlock()

	for key, value := range snapshot {
		if !fn(key, value) {
			return
		}
	}
}

func (c *simpleCache[V]) Stats() *Statistics {
	return c.stats
}

// Close is a no-op; the simple cache owns no goroutines.
func (c *simpleCache[V]) Close() error {
	return nil
}
