// Package natsstore keeps twins, relationships and models in NATS JetStream
// key-value buckets. It serves as the remote twin store behind the lazy
// reader and as the loader cache generations are built from.
package natsstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/promotion0824/TwinPlatform-sub045/errors"
	"github.com/promotion0824/TwinPlatform-sub045/natsclient"
	"github.com/promotion0824/TwinPlatform-sub045/twin"
	"github.com/promotion0824/TwinPlatform-sub045/twin/cache"
	"github.com/promotion0824/TwinPlatform-sub045/twin/reader"
)

// Bucket names, prefixed with Config.BucketPrefix.
const (
	TwinsBucket         = "twins"
	RelationshipsBucket = "relationships"
	ModelsBucket        = "models"
	IndexBucket         = "twin_relationships"
)

var (
	_ reader.Remote = (*Store)(nil)
	_ cache.Loader  = (*Store)(nil)
)

// Bucket is the subset of natsclient.KVStore the store needs.
type Bucket interface {
	Get(ctx context.Context, key string) (*natsclient.KVEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	UpdateWithRetry(ctx context.Context, key string, updateFn func(current []byte) ([]byte, error)) error
}

// Buckets groups the buckets a Store works on.
type Buckets struct {
	Twins         Bucket
	Relationships Bucket
	Models        Bucket
	// Index maps a twin id to the ids of its incoming and outgoing
	// relationships.
	Index Bucket
}

// Store is a twin store over JetStream KV buckets.
type Store struct {
	buckets Buckets
	logger  *slog.Logger
}

// New creates a store over already opened buckets.
func New(buckets Buckets, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{buckets: buckets, logger: logger}
}

// Open creates or opens the store's buckets through client.
func Open(ctx context.Context, client *natsclient.Client, prefix string, logger *slog.Logger) (*Store, error) {
	return openBuckets(client, prefix, logger, func(name string) (jetstream.KeyValue, error) {
		return client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
			Bucket:      name,
			Description: "twin platform " + strings.TrimPrefix(name, prefix),
			History:     1,
		})
	})
}

// OpenExisting opens the store's buckets without creating them. A missing
// bucket is an invalid-class error.
func OpenExisting(ctx context.Context, client *natsclient.Client, prefix string, logger *slog.Logger) (*Store, error) {
	return openBuckets(client, prefix, logger, func(name string) (jetstream.KeyValue, error) {
		return client.GetKeyValueBucket(ctx, name)
	})
}

func openBuckets(client *natsclient.Client, prefix string, logger *slog.Logger,
	bucket func(name string) (jetstream.KeyValue, error)) (*Store, error) {
	var buckets Buckets
	for _, b := range []struct {
		name string
		dst  *Bucket
	}{
		{TwinsBucket, &buckets.Twins},
		{RelationshipsBucket, &buckets.Relationships},
		{ModelsBucket, &buckets.Models},
		{IndexBucket, &buckets.Index},
	} {
		kv, err := bucket(prefix + b.name)
		if err != nil {
			return nil, errors.Wrap(err, "Store", "Open", fmt.Sprintf("open bucket %s", prefix+b.name))
		}
		*b.dst = client.NewKVStore(kv)
	}
	return New(buckets, logger), nil
}

// EncodeKey maps an id to a valid KV key. Twin ids may contain characters
// that KV keys do not allow, so ids are stored base64url encoded.
func EncodeKey(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

// DecodeKey reverses EncodeKey.
func DecodeKey(key string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return "", errors.WrapInvalid(err, "Store", "DecodeKey", fmt.Sprintf("decode key %q", key))
	}
	return string(b), nil
}

func getJSON[T any](ctx context.Context, b Bucket, id, method string) (*T, error) {
	entry, err := b.Get(ctx, EncodeKey(id))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, nil
		}
		return nil, errors.WrapTransient(err, "Store", method, fmt.Sprintf("get %s", id))
	}
	var v T
	if err := json.Unmarshal(entry.Value, &v); err != nil {
		return nil, errors.WrapInvalid(err, "Store", method, fmt.Sprintf("decode %s", id))
	}
	return &v, nil
}

func putJSON(ctx context.Context, b Bucket, id string, v any, method string) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.WrapInvalid(err, "Store", method, fmt.Sprintf("encode %s", id))
	}
	if _, err := b.Put(ctx, EncodeKey(id), data); err != nil {
		return errors.WrapTransient(err, "Store", method, fmt.Sprintf("put %s", id))
	}
	return nil
}

// GetDigitalTwin returns the twin with id, or nil when it is not stored.
func (s *Store) GetDigitalTwin(ctx context.Context, id string) (*twin.Twin, error) {
	return getJSON[twin.Twin](ctx, s.buckets.Twins, id, "GetDigitalTwin")
}

// GetRelationship returns the relationship with id, or nil when it is not
// stored. Relationships are keyed by id alone, so otherEndID is not needed.
func (s *Store) GetRelationship(ctx context.Context, id, _ string) (*twin.Relationship, error) {
	return getJSON[twin.Relationship](ctx, s.buckets.Relationships, id, "GetRelationship")
}

// GetRelationships returns the stored relationships among ids, or all of
// them when ids is empty.
func (s *Store) GetRelationships(ctx context.Context, ids []string) ([]twin.Relationship, error) {
	if len(ids) == 0 {
		var err error
		if ids, err = s.ids(ctx, s.buckets.Relationships, "GetRelationships"); err != nil {
			return nil, err
		}
	}

	out := make([]twin.Relationship, 0, len(ids))
	for _, id := range ids {
		rel, err := s.GetRelationship(ctx, id, "")
		if err != nil {
			return nil, err
		}
		if rel != nil {
			out = append(out, *rel)
		}
	}
	return out, nil
}

// GetTwinRelationships returns the incoming and outgoing relationships of
// twinID.
func (s *Store) GetTwinRelationships(ctx context.Context, twinID string) ([]twin.Relationship, error) {
	ids, err := s.indexed(ctx, twinID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return s.GetRelationships(ctx, ids)
}

func (s *Store) indexed(ctx context.Context, twinID string) ([]string, error) {
	entry, err := s.buckets.Index.Get(ctx, EncodeKey(twinID))
	if err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, nil
		}
		return nil, errors.WrapTransient(err, "Store", "GetTwinRelationships", fmt.Sprintf("read index of %s", twinID))
	}
	var ids []string
	if err := json.Unmarshal(entry.Value, &ids); err != nil {
		return nil, errors.WrapInvalid(err, "Store", "GetTwinRelationships", fmt.Sprintf("decode index of %s", twinID))
	}
	return ids, nil
}

func (s *Store) ids(ctx context.Context, b Bucket, method string) ([]string, error) {
	keys, err := b.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", method, "list keys")
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		id, err := DecodeKey(key)
		if err != nil {
			s.logger.Warn("Skipping undecodable key", "key", key, "error", err)
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// LoadModels returns every stored model keyed by id.
func (s *Store) LoadModels(ctx context.Context) (map[string]twin.Model, error) {
	ids, err := s.ids(ctx, s.buckets.Models, "LoadModels")
	if err != nil {
		return nil, err
	}
	models := make(map[string]twin.Model, len(ids))
	for _, id := range ids {
		m, err := getJSON[twin.Model](ctx, s.buckets.Models, id, "LoadModels")
		if err != nil {
			return nil, err
		}
		if m != nil {
			models[m.ID] = *m
		}
	}
	return models, nil
}

// LoadTopology returns the id and model of every twin and the endpoints of
// every relationship. Properties are left to the lazy reader.
func (s *Store) LoadTopology(ctx context.Context) (*cache.Topology, error) {
	twinIDs, err := s.ids(ctx, s.buckets.Twins, "LoadTopology")
	if err != nil {
		return nil, err
	}
	topology := &cache.Topology{Twins: make([]cache.TwinRef, 0, len(twinIDs))}
	for _, id := range twinIDs {
		t, err := s.GetDigitalTwin(ctx, id)
		if err != nil {
			return nil, err
		}
		if t != nil {
			topology.Twins = append(topology.Twins, cache.TwinRef{ID: t.ID, ModelID: t.ModelID})
		}
	}

	rels, err := s.GetRelationships(ctx, nil)
	if err != nil {
		return nil, err
	}
	topology.Relationships = make([]twin.Relationship, 0, len(rels))
	for _, rel := range rels {
		topology.Relationships = append(topology.Relationships, twin.Relationship{
			ID:       rel.ID,
			SourceID: rel.SourceID,
			TargetID: rel.TargetID,
			Name:     rel.Name,
		})
	}

	s.logger.Debug("Loaded twin topology", "twins", len(topology.Twins), "relationships", len(topology.Relationships))
	return topology, nil
}

// PutTwin stores t, replacing any previous version.
func (s *Store) PutTwin(ctx context.Context, t twin.Twin) error {
	if t.ID == "" {
		return errors.WrapInvalid(errors.ErrInvalidArgument, "Store", "PutTwin", "validate twin id")
	}
	return putJSON(ctx, s.buckets.Twins, t.ID, t, "PutTwin")
}

// PutModel stores m, replacing any previous version.
func (s *Store) PutModel(ctx context.Context, m twin.Model) error {
	if m.ID == "" {
		return errors.WrapInvalid(errors.ErrInvalidArgument, "Store", "PutModel", "validate model id")
	}
	return putJSON(ctx, s.buckets.Models, m.ID, m, "PutModel")
}

// PutRelationship stores r and adds it to the index of both endpoints.
func (s *Store) PutRelationship(ctx context.Context, r twin.Relationship) error {
	if r.ID == "" || r.SourceID == "" || r.TargetID == "" {
		return errors.WrapInvalid(errors.ErrInvalidArgument, "Store", "PutRelationship", "validate relationship")
	}
	if err := putJSON(ctx, s.buckets.Relationships, r.ID, r, "PutRelationship"); err != nil {
		return err
	}
	for _, endpoint := range []string{r.SourceID, r.TargetID} {
		if err := s.index(ctx, endpoint, r.ID, true); err != nil {
			return err
		}
	}
	return nil
}

// DeleteRelationship removes the relationship with id and its index entries.
// Deleting an unknown relationship is not an error.
func (s *Store) DeleteRelationship(ctx context.Context, id string) error {
	rel, err := s.GetRelationship(ctx, id, "")
	if err != nil || rel == nil {
		return err
	}
	for _, endpoint := range []string{rel.SourceID, rel.TargetID} {
		if err := s.index(ctx, endpoint, id, false); err != nil {
			return err
		}
	}
	err = s.buckets.Relationships.Delete(ctx, EncodeKey(id))
	if err != nil && !natsclient.IsKVNotFoundError(err) {
		return errors.WrapTransient(err, "Store", "DeleteRelationship", fmt.Sprintf("delete %s", id))
	}
	return nil
}

func (s *Store) index(ctx context.Context, twinID, relationshipID string, add bool) error {
	err := s.buckets.Index.UpdateWithRetry(ctx, EncodeKey(twinID), func(current []byte) ([]byte, error) {
		var ids []string
		if len(current) > 0 {
			if err := json.Unmarshal(current, &ids); err != nil {
				return nil, err
			}
		}
		i, found := slices.BinarySearch(ids, relationshipID)
		switch {
		case add && !found:
			ids = slices.Insert(ids, i, relationshipID)
		case !add && found:
			ids = slices.Delete(ids, i, i+1)
		}
		return json.Marshal(ids)
	})
	if err != nil {
		if stderrors.Is(err, natsclient.ErrKVMaxRetriesExceeded) {
			return errors.WrapTransient(err, "Store", "index", fmt.Sprintf("update index of %s", twinID))
		}
		return errors.Wrap(err, "Store", "index", fmt.Sprintf("update index of %s", twinID))
	}
	return nil
}
