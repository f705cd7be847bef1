// Package cache holds the in-memory twin graph snapshots served by the lazy
// reader.
//
// A Cache is one generation: an immutable ModelCache, a TwinCache that fills
// up lazily, and the request group used to coalesce remote fetches for that
// generation. The Provider replaces whole generations with a single atomic
// pointer swap, so readers never observe a half-built snapshot.
package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/promotion0824/TwinPlatform-sub045/twin"
)

// Topology is the twin graph skeleton a generation starts from: which twins
// exist, their models, and relationship endpoints. Twin and relationship data
// is fetched lazily.
type Topology struct {
	Twins         []TwinRef
	Relationships []twin.Relationship
}

// TwinRef identifies a twin and its model.
type TwinRef struct {
	ID      string
	ModelID string
}

// Cache is one cache generation.
type Cache struct {
	Models     *ModelCache
	Twins      *TwinCache
	Generation uint64
	BuiltAt    time.Time

	group singleflight.Group
}

// NewCache builds a generation from models and an optional topology. Twins
// and relationships in the topology become placeholders, and because the
// topology is complete, every twin's relationship lists are marked complete.
func NewCache(generation uint64, models map[string]twin.Model, topology *Topology) (*Cache, error) {
	twins, err := NewTwinCache()
	if err != nil {
		return nil, err
	}

	if topology != nil {
		for _, ref := range topology.Twins {
			twins.AddTwinPlaceholder(ref.ID, ref.ModelID)
		}
		for _, r := range topology.Relationships {
			twins.AddRelationshipPlaceholder(r)
		}
		for _, ref := range topology.Twins {
			twins.CompleteOutgoing(ref.ID)
			twins.CompleteIncoming(ref.ID)
		}
	}

	return &Cache{
		Models:     NewModelCache(models),
		Twins:      twins,
		Generation: generation,
		BuiltAt:    time.Now(),
	}, nil
}

// Coalesce runs fn once per key among concurrent callers on this generation.
// Callers arriving while fn runs share its result. fn gets a context that
// keeps ctx's values but not its cancellation, so one caller giving up does
// not fail the others; a caller whose ctx ends stops waiting with ctx.Err().
func (c *Cache) Coalesce(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	return coalesce(ctx, &c.group, key, fn)
}

func coalesce(ctx context.Context, group *singleflight.Group, key string, fn func(context.Context) (any, error)) (any, error) {
	shared := context.WithoutCancel(ctx)
	ch := group.DoChan(key, func() (any, error) {
		return fn(shared)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
