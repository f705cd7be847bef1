package reader

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/promotion0824/TwinPlatform-sub045/errors"
	"github.com/promotion0824/TwinPlatform-sub045/twin"
	"github.com/promotion0824/TwinPlatform-sub045/twin/cache"
)

type direction int

const (
	outgoing direction = iota
	incoming
)

// LazyReader answers reads from the current cache generation and fetches
// anything unresolved from the remote store. Within a generation each twin,
// relationship and per-twin relationship list is fetched at most once, also
// under concurrent callers. Remote errors are returned as-is, wrapped with
// context, and are never cached.
type LazyReader struct {
	remote   Remote
	provider CacheProvider
	logger   *slog.Logger
}

// NewLazyReader creates a reader over remote and the provider's generations.
func NewLazyReader(remote Remote, provider CacheProvider, logger *slog.Logger) *LazyReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &LazyReader{
		remote:   remote,
		provider: provider,
		logger:   logger,
	}
}

// generation returns the generation to read from, or nil when the provider
// is not ready and reads must go straight to the remote store.
func (r *LazyReader) generation(ctx context.Context, method string) (*cache.Cache, error) {
	if !r.provider.IsCacheReady() {
		r.logger.Debug("Twin cache not ready, reading from remote store", "method", method)
		return nil, nil
	}
	c, err := r.provider.GetOrCreateCache(ctx, false)
	if err != nil {
		return nil, errors.Wrap(err, "LazyReader", method, "get cache generation")
	}
	return c, nil
}

// GetDigitalTwin returns the twin with id, or nil when the store does not
// know it. Not-found answers are cached too.
func (r *LazyReader) GetDigitalTwin(ctx context.Context, id string) (*twin.Twin, error) {
	c, err := r.generation(ctx, "GetDigitalTwin")
	if err != nil {
		return nil, err
	}
	if c == nil {
		t, err := r.remote.GetDigitalTwin(ctx, id)
		return t, errors.Wrap(err, "LazyReader", "GetDigitalTwin", "fetch twin")
	}

	if slot := c.Twins.Twin(id); slot.Resolved() {
		return slot.Value, nil
	}

	v, err := c.Coalesce(ctx, "twin:"+id, func(ctx context.Context) (any, error) {
		if slot := c.Twins.Twin(id); slot.Resolved() {
			return slot.Value, nil
		}
		t, err := r.remote.GetDigitalTwin(ctx, id)
		if err != nil {
			return nil, err
		}
		if t == nil {
			c.Twins.MarkTwinAbsent(id)
			return (*twin.Twin)(nil), nil
		}
		c.Twins.SetTwin(t)
		return t, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "LazyReader", "GetDigitalTwin", "fetch twin")
	}
	return asPointer[twin.Twin](v)
}

// GetRelationship returns the relationship with id, or nil when the store
// does not know it.
func (r *LazyReader) GetRelationship(ctx context.Context, id, otherEndID string) (*twin.Relationship, error) {
	c, err := r.generation(ctx, "GetRelationship")
	if err != nil {
		return nil, err
	}
	if c == nil {
		rel, err := r.remote.GetRelationship(ctx, id, otherEndID)
		return rel, errors.Wrap(err, "LazyReader", "GetRelationship", "fetch relationship")
	}

	if slot := c.Twins.Relationship(id); slot.Resolved() {
		return slot.Value, nil
	}

	v, err := c.Coalesce(ctx, "relationship:"+id, func(ctx context.Context) (any, error) {
		if slot := c.Twins.Relationship(id); slot.Resolved() {
			return slot.Value, nil
		}
		rel, err := r.remote.GetRelationship(ctx, id, otherEndID)
		if err != nil {
			return nil, err
		}
		if rel == nil {
			c.Twins.MarkRelationshipAbsent(id)
			return (*twin.Relationship)(nil), nil
		}
		c.Twins.SetRelationship(rel)
		return rel, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "LazyReader", "GetRelationship", "fetch relationship")
	}
	return asPointer[twin.Relationship](v)
}

// GetTwinRelationships returns the relationships whose source is twinID.
func (r *LazyReader) GetTwinRelationships(ctx context.Context, twinID string) ([]twin.Relationship, error) {
	return r.relationshipsOf(ctx, twinID, outgoing, "GetTwinRelationships")
}

// GetIncomingRelationships returns the relationships whose target is twinID.
func (r *LazyReader) GetIncomingRelationships(ctx context.Context, twinID string) ([]twin.Relationship, error) {
	return r.relationshipsOf(ctx, twinID, incoming, "GetIncomingRelationships")
}

func (r *LazyReader) relationshipsOf(ctx context.Context, twinID string, dir direction, method string) ([]twin.Relationship, error) {
	c, err := r.generation(ctx, method)
	if err != nil {
		return nil, err
	}
	if c == nil {
		all, err := r.remote.GetTwinRelationships(ctx, twinID)
		if err != nil {
			return nil, errors.Wrap(err, "LazyReader", method, "fetch twin relationships")
		}
		return filterDirection(all, twinID, dir), nil
	}

	list, ok := r.list(c, twinID, dir)
	if !ok || !list.Complete {
		_, err := c.Coalesce(ctx, "twin-relationships:"+twinID, func(ctx context.Context) (any, error) {
			if list, ok := r.list(c, twinID, dir); ok && list.Complete {
				return nil, nil
			}
			all, err := r.remote.GetTwinRelationships(ctx, twinID)
			if err != nil {
				return nil, err
			}
			for i := range all {
				rel := all[i]
				c.Twins.SetRelationship(&rel)
			}
			c.Twins.CompleteOutgoing(twinID)
			c.Twins.CompleteIncoming(twinID)
			return nil, nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "LazyReader", method, "fetch twin relationships")
		}
		list, _ = r.list(c, twinID, dir)
	}

	if err := r.resolveRelationships(ctx, c, list.IDs); err != nil {
		return nil, errors.Wrap(err, "LazyReader", method, "fetch relationships")
	}
	return collect(c, list.IDs), nil
}

func (r *LazyReader) list(c *cache.Cache, twinID string, dir direction) (cache.RelationshipList, bool) {
	if dir == incoming {
		return c.Twins.Incoming(twinID)
	}
	return c.Twins.Outgoing(twinID)
}

// GetRelationships returns the requested relationships that exist, in request
// order without duplicates. An empty ids returns every relationship.
func (r *LazyReader) GetRelationships(ctx context.Context, ids []string) ([]twin.Relationship, error) {
	c, err := r.generation(ctx, "GetRelationships")
	if err != nil {
		return nil, err
	}
	if c == nil {
		rels, err := r.remote.GetRelationships(ctx, ids)
		return rels, errors.Wrap(err, "LazyReader", "GetRelationships", "fetch relationships")
	}

	if len(ids) == 0 {
		if !c.Twins.AllRelationshipsLoaded() {
			_, err := c.Coalesce(ctx, "relationships:*", func(ctx context.Context) (any, error) {
				if c.Twins.AllRelationshipsLoaded() {
					return nil, nil
				}
				all, err := r.remote.GetRelationships(ctx, nil)
				if err != nil {
					return nil, err
				}
				for i := range all {
					rel := all[i]
					c.Twins.SetRelationship(&rel)
				}
				c.Twins.MarkAllRelationshipsLoaded()
				return nil, nil
			})
			if err != nil {
				return nil, errors.Wrap(err, "LazyReader", "GetRelationships", "fetch all relationships")
			}
		}
		return c.Twins.LoadedRelationships(), nil
	}

	ids = dedupe(ids)
	if err := r.resolveRelationships(ctx, c, ids); err != nil {
		return nil, errors.Wrap(err, "LazyReader", "GetRelationships", "fetch relationships")
	}
	return collect(c, ids), nil
}

// resolveRelationships fetches every unresolved id in one remote call. Ids
// the store does not return are cached as absent.
func (r *LazyReader) resolveRelationships(ctx context.Context, c *cache.Cache, ids []string) error {
	missing := unresolved(c, ids)
	if len(missing) == 0 {
		return nil
	}
	if c.Twins.AllRelationshipsLoaded() {
		for _, id := range missing {
			c.Twins.MarkRelationshipAbsent(id)
		}
		return nil
	}

	sort.Strings(missing)
	_, err := c.Coalesce(ctx, "relationships:"+strings.Join(missing, ","), func(ctx context.Context) (any, error) {
		missing := unresolved(c, missing)
		if len(missing) == 0 {
			return nil, nil
		}
		fetched, err := r.remote.GetRelationships(ctx, missing)
		if err != nil {
			return nil, err
		}
		for i := range fetched {
			rel := fetched[i]
			c.Twins.SetRelationship(&rel)
		}
		for _, id := range missing {
			if !c.Twins.Relationship(id).Resolved() {
				c.Twins.MarkRelationshipAbsent(id)
			}
		}
		r.logger.Debug("Fetched relationships", "requested", len(missing), "found", len(fetched))
		return nil, nil
	})
	return err
}

func unresolved(c *cache.Cache, ids []string) []string {
	var missing []string
	for _, id := range ids {
		if !c.Twins.Relationship(id).Resolved() {
			missing = append(missing, id)
		}
	}
	return missing
}

func collect(c *cache.Cache, ids []string) []twin.Relationship {
	out := make([]twin.Relationship, 0, len(ids))
	for _, id := range ids {
		if slot := c.Twins.Relationship(id); slot.State == cache.Loaded && slot.Value != nil {
			out = append(out, *slot.Value)
		}
	}
	return out
}

func filterDirection(all []twin.Relationship, twinID string, dir direction) []twin.Relationship {
	out := make([]twin.Relationship, 0, len(all))
	for _, rel := range all {
		if (dir == outgoing && rel.SourceID == twinID) || (dir == incoming && rel.TargetID == twinID) {
			out = append(out, rel)
		}
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func asPointer[T any](v any) (*T, error) {
	if v == nil {
		return nil, nil
	}
	p, ok := v.(*T)
	if !ok {
		return nil, errors.WrapFatal(fmt.Errorf("unexpected type from request group: got %T", v),
			"LazyReader", "asPointer", "read coalesced result")
	}
	return p, nil
}
