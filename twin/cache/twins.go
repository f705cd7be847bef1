package cache

import (
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	pkgcache "github.com/promotion0824/TwinPlatform-sub045/pkg/cache"
	"github.com/promotion0824/TwinPlatform-sub045/twin"
)

// TwinCache is the partially loaded view of the twin graph held by one
// generation. Absence of an entry means "not loaded", never "does not exist".
type TwinCache struct {
	twins         pkgcache.Cache[Slot[twin.Twin]]
	relationships pkgcache.Cache[Slot[twin.Relationship]]
	outgoing      pkgcache.Cache[RelationshipList]
	incoming      pkgcache.Cache[RelationshipList]
	byModel       pkgcache.Cache[*idSet]

	allRelationshipsLoaded atomic.Bool
}

type idSet struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func (s *idSet) add(id string) {
	s.mu.Lock()
	s.ids[id] = struct{}{}
	s.mu.Unlock()
}

func (s *idSet) list() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// NewTwinCache creates an empty twin cache.
func NewTwinCache() (*TwinCache, error) {
	twins, err := pkgcache.NewSimple[Slot[twin.Twin]]()
	if err != nil {
		return nil, err
	}
	relationships, err := pkgcache.NewSimple[Slot[twin.Relationship]]()
	if err != nil {
		return nil, err
	}
	outgoing, err := pkgcache.NewSimple[RelationshipList]()
	if err != nil {
		return nil, err
	}
	incoming, err := pkgcache.NewSimple[RelationshipList]()
	if err != nil {
		return nil, err
	}
	byModel, err := pkgcache.NewSimple[*idSet]()
	if err != nil {
		return nil, err
	}

	return &TwinCache{
		twins:         twins,
		relationships: relationships,
		outgoing:      outgoing,
		incoming:      incoming,
		byModel:       byModel,
	}, nil
}

// Twin returns the slot for id; unknown ids yield a NotLoaded slot.
func (tc *TwinCache) Twin(id string) Slot[twin.Twin] {
	slot, _ := tc.twins.Get(id)
	return slot
}

// AddTwinPlaceholder records that a twin exists without loading its data.
// An already resolved slot is left untouched.
func (tc *TwinCache) AddTwinPlaceholder(id, modelID string) {
	_, _ = tc.twins.Update(id, func(old Slot[twin.Twin], exists bool) Slot[twin.Twin] {
		if exists && old.Resolved() {
			return old
		}
		return Slot[twin.Twin]{State: NotLoaded, Value: &twin.Twin{ID: id, ModelID: modelID}}
	})
	tc.indexModel(modelID, id)
}

// SetTwin stores a twin fetched from the remote store.
func (tc *TwinCache) SetTwin(t *twin.Twin) {
	if t == nil || t.ID == "" {
		return
	}
	_, _ = tc.twins.Set(t.ID, Slot[twin.Twin]{State: Loaded, Value: t})
	tc.indexModel(t.ModelID, t.ID)
}

// MarkTwinAbsent records that the remote store does not know id.
func (tc *TwinCache) MarkTwinAbsent(id string) {
	_, _ = tc.twins.Set(id, Slot[twin.Twin]{State: LoadedAbsent})
}

func (tc *TwinCache) indexModel(modelID, twinID string) {
	if modelID == "" {
		return
	}
	set, _ := tc.byModel.Update(modelID, func(old *idSet, exists bool) *idSet {
		if exists {
			return old
		}
		return &idSet{ids: make(map[string]struct{})}
	})
	set.add(twinID)
}

// TwinsOfModel returns the sorted ids of twins known to be of exactly modelID.
func (tc *TwinCache) TwinsOfModel(modelID string) []string {
	set, ok := tc.byModel.Get(modelID)
	if !ok {
		return nil
	}
	return set.list()
}

// TwinCount returns the number of twin slots in any state.
func (tc *TwinCache) TwinCount() int {
	return tc.twins.Size()
}

// Relationship returns the slot for id; unknown ids yield a NotLoaded slot.
func (tc *TwinCache) Relationship(id string) Slot[twin.Relationship] {
	slot, _ := tc.relationships.Get(id)
	return slot
}

// AddRelationshipPlaceholder records a relationship skeleton and links it to
// both endpoints without marking it loaded.
func (tc *TwinCache) AddRelationshipPlaceholder(r twin.Relationship) {
	if r.ID == "" {
		return
	}
	skeleton := r
	_, _ = tc.relationships.Update(r.ID, func(old Slot[twin.Relationship], exists bool) Slot[twin.Relationship] {
		if exists && old.Resolved() {
			return old
		}
		return Slot[twin.Relationship]{State: NotLoaded, Value: &skeleton}
	})
	tc.link(r)
}

// SetRelationship stores a relationship fetched from the remote store and
// appends its id to the source's outgoing and the target's incoming lists.
// Completeness of those lists is not changed.
func (tc *TwinCache) SetRelationship(r *twin.Relationship) {
	if r == nil || r.ID == "" {
		return
	}
	_, _ = tc.relationships.Set(r.ID, Slot[twin.Relationship]{State: Loaded, Value: r})
	tc.link(*r)
}

// MarkRelationshipAbsent records that the remote store does not know id.
func (tc *TwinCache) MarkRelationshipAbsent(id string) {
	_, _ = tc.relationships.Set(id, Slot[twin.Relationship]{State: LoadedAbsent})
}

func (tc *TwinCache) link(r twin.Relationship) {
	if r.SourceID != "" {
		tc.AppendOutgoing(r.SourceID, r.ID)
	}
	if r.TargetID != "" {
		tc.AppendIncoming(r.TargetID, r.ID)
	}
}

// AppendOutgoing adds relationshipID to twinID's outgoing list if missing.
func (tc *TwinCache) AppendOutgoing(twinID, relationshipID string) {
	appendID(tc.outgoing, twinID, relationshipID)
}

// AppendIncoming adds relationshipID to twinID's incoming list if missing.
func (tc *TwinCache) AppendIncoming(twinID, relationshipID string) {
	appendID(tc.incoming, twinID, relationshipID)
}

func appendID(lists pkgcache.Cache[RelationshipList], twinID, relationshipID string) {
	_, _ = lists.Update(twinID, func(old RelationshipList, _ bool) RelationshipList {
		if slices.Contains(old.IDs, relationshipID) {
			return old
		}
		return RelationshipList{
			IDs:      append(slices.Clip(old.IDs), relationshipID),
			Complete: old.Complete,
		}
	})
}

// CompleteOutgoing marks twinID's outgoing list as fully known, creating an
// empty list for twins without relationships.
func (tc *TwinCache) CompleteOutgoing(twinID string) {
	complete(tc.outgoing, twinID)
}

// CompleteIncoming marks twinID's incoming list as fully known.
func (tc *TwinCache) CompleteIncoming(twinID string) {
	complete(tc.incoming, twinID)
}

func complete(lists pkgcache.Cache[RelationshipList], twinID string) {
	_, _ = lists.Update(twinID, func(old RelationshipList, _ bool) RelationshipList {
		return RelationshipList{IDs: old.IDs, Complete: true}
	})
}

// Outgoing returns twinID's outgoing relationship ids.
func (tc *TwinCache) Outgoing(twinID string) (RelationshipList, bool) {
	return tc.outgoing.Get(twinID)
}

// Incoming returns twinID's incoming relationship ids.
func (tc *TwinCache) Incoming(twinID string) (RelationshipList, bool) {
	return tc.incoming.Get(twinID)
}

// LoadedRelationships returns every relationship in the Loaded state, sorted by id.
func (tc *TwinCache) LoadedRelationships() []twin.Relationship {
	var out []twin.Relationship
	tc.relationships.Range(func(_ string, slot Slot[twin.Relationship]) bool {
		if slot.State == Loaded && slot.Value != nil {
			out = append(out, *slot.Value)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MarkAllRelationshipsLoaded records that every relationship of the store is
// cached. Relationship slots still unresolved become LoadedAbsent.
func (tc *TwinCache) MarkAllRelationshipsLoaded() {
	tc.relationships.Range(func(id string, slot Slot[twin.Relationship]) bool {
		if slot.State != NotLoaded {
			return true
		}
		_, _ = tc.relationships.Update(id, func(old Slot[twin.Relationship], _ bool) Slot[twin.Relationship] {
			if old.Resolved() {
				return old
			}
			return Slot[twin.Relationship]{State: LoadedAbsent}
		})
		return true
	})
	tc.allRelationshipsLoaded.Store(true)
}

// AllRelationshipsLoaded reports whether MarkAllRelationshipsLoaded was called.
func (tc *TwinCache) AllRelationshipsLoaded() bool {
	return tc.allRelationshipsLoaded.Load()
}

// RelationshipCount returns the number of relationship slots in any state.
func (tc *TwinCache) RelationshipCount() int {
	return tc.relationships.Size()
}

// Stats summarizes lookups against the twin and relationship slots.
func (tc *TwinCache) Stats() (twins, relationships pkgcache.StatsSummary) {
	return tc.twins.Stats().Summary(), tc.relationships.Stats().Summary()
}
