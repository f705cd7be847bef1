package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/promotion0824/TwinPlatform-sub045/twin"
)

// Dataset is the seed file layout.
type Dataset struct {
	Models        []twin.Model        `json:"models"`
	Twins         []twin.Twin         `json:"twins"`
	Relationships []twin.Relationship `json:"relationships"`
}

// Seeder persists graph data.
type Seeder interface {
	PutModel(ctx context.Context, m twin.Model) error
	PutTwin(ctx context.Context, t twin.Twin) error
	PutRelationship(ctx context.Context, r twin.Relationship) error
}

// TwinLookup resolves a twin and its edges.
type TwinLookup interface {
	GetDigitalTwin(ctx context.Context, id string) (*twin.Twin, error)
	GetTwinRelationships(ctx context.Context, twinID string) ([]twin.Relationship, error)
	GetIncomingRelationships(ctx context.Context, twinID string) ([]twin.Relationship, error)
}

func seedFile(ctx context.Context, store Seeder, path string) (Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Dataset{}, fmt.Errorf("read seed file: %w", err)
	}
	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return Dataset{}, fmt.Errorf("parse seed file: %w", err)
	}
	return ds, seed(ctx, store, ds)
}

// seed writes models first so twins never reference an unknown model.
func seed(ctx context.Context, store Seeder, ds Dataset) error {
	for _, m := range ds.Models {
		if err := store.PutModel(ctx, m); err != nil {
			return fmt.Errorf("seed model %s: %w", m.ID, err)
		}
	}
	for _, t := range ds.Twins {
		if err := store.PutTwin(ctx, t); err != nil {
			return fmt.Errorf("seed twin %s: %w", t.ID, err)
		}
	}
	for _, r := range ds.Relationships {
		if err := store.PutRelationship(ctx, r); err != nil {
			return fmt.Errorf("seed relationship %s: %w", r.ID, err)
		}
	}
	return nil
}

type lookupResult struct {
	Twin     *twin.Twin          `json:"twin"`
	Outgoing []twin.Relationship `json:"outgoing"`
	Incoming []twin.Relationship `json:"incoming"`
}

func lookup(ctx context.Context, r TwinLookup, id string, w io.Writer) error {
	t, err := r.GetDigitalTwin(ctx, id)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("twin %s not found", id)
	}
	out, err := r.GetTwinRelationships(ctx, id)
	if err != nil {
		return err
	}
	in, err := r.GetIncomingRelationships(ctx, id)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(lookupResult{Twin: t, Outgoing: out, Incoming: in})
}
