// Package cache provides generic, thread-safe in-memory caches keyed by string.
//
// The twin cache generations are built on these caches: every slot map, list
// map and model index is a Cache with always-on statistics and optional
// Prometheus metrics via functional options.
package cache

import (
	"github.com/promotion0824/TwinPlatform-sub045/errors"
)

// Cache represents a generic cache interface that all cache implementations must satisfy.
// The cache is parameterized by value type V for type safety.
type Cache[V any] interface {
	// Get retrieves a value by key. Returns the value and true if found, zero value and false otherwise.
	Get(key string) (V, bool)

	// Set stores a value with the given key. Returns true if a new entry was created, false if updated.
	// Returns an error if the operation fails (e.g., invalid key).
	Set(key string, value V) (bool, error)

	// Update atomically replaces the value stored under key with fn(old, exists)
	// and returns the stored result. No other writer observes the key between
	// the read and the write.
	Update(key string, fn func(old V, exists bool) V) (V, error)

	// Delete removes an entry by key. Returns true if the key existed and was deleted.
	Delete(key string) (bool, error)

	// Clear removes all entries from the cache.
	Clear() error

	// Size returns the current number of entries in the cache.
	Size() int

	// Keys returns a slice of all keys currently in the cache.
	Keys() []string

	// Range calls fn for every entry until fn returns false. Entries are read
	// from a snapshot, so fn may call back into the cache.
	Range(fn func(key string, value V) bool)

	// Stats returns cache statistics.
	Stats() *Statistics

	// Close releases any resources held by the cache.
	Close() error
}

// EvictCallback is called when an entry is removed from the cache.
// It receives the key and value of the removed entry.
type EvictCallback[V any] func(key string, value V)

// validateKey validates a cache key for basic requirements.
// Returns a classified error if the key is invalid.
func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
