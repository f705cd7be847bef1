// Package reader serves twin and relationship reads from the current cache
// generation, falling back to the remote twin store and populating the cache
// with what it fetched.
package reader

import (
	"context"

	"github.com/promotion0824/TwinPlatform-sub045/twin"
	"github.com/promotion0824/TwinPlatform-sub045/twin/cache"
)

// Remote is the remote twin store. Not-found is reported as a nil result and
// a nil error.
type Remote interface {
	GetDigitalTwin(ctx context.Context, id string) (*twin.Twin, error)
	// GetRelationship fetches one relationship; otherEndID is the endpoint
	// that is not the caller's twin and may be used by the store to locate it.
	GetRelationship(ctx context.Context, id, otherEndID string) (*twin.Relationship, error)
	// GetRelationships fetches the given ids, or every relationship when ids
	// is empty. Unknown ids are omitted from the result.
	GetRelationships(ctx context.Context, ids []string) ([]twin.Relationship, error)
	// GetTwinRelationships fetches the incoming and outgoing relationships of
	// one twin in a single call.
	GetTwinRelationships(ctx context.Context, twinID string) ([]twin.Relationship, error)
}

// CacheProvider supplies cache generations.
type CacheProvider interface {
	GetOrCreateCache(ctx context.Context, forceRebuild bool) (*cache.Cache, error)
	IsCacheReady() bool
}
