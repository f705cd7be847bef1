// Package twin defines the digital twin graph data model shared by the query
// builder, the twin cache and the remote twin store.
package twin

import (
	"time"
)

// Reserved property names of the twin query language.
const (
	FieldTwinID               = "$dtId"
	FieldRelationshipSourceID = "$sourceId"
	FieldRelationshipTargetID = "$targetId"
	FieldRelationshipID       = "$relationshipId"
	FieldLastUpdateTime       = "$metadata.$lastUpdateTime"
	FieldName                 = "name"
)

// Twin is a node in the digital twin graph.
type Twin struct {
	ID         string         `json:"$dtId"`
	ModelID    string         `json:"$model"`
	Properties map[string]any `json:"properties,omitempty"`
	Metadata   Metadata       `json:"$metadata"`
}

// Metadata carries store-maintained twin attributes.
type Metadata struct {
	LastUpdateTime time.Time `json:"$lastUpdateTime"`
}

// Name returns the twin's "name" property, or "" when it has none.
func (t *Twin) Name() string {
	if t == nil || t.Properties == nil {
		return ""
	}
	name, _ := t.Properties[FieldName].(string)
	return name
}

// Relationship is a directed, typed edge between two twins.
type Relationship struct {
	ID         string         `json:"$relationshipId"`
	SourceID   string         `json:"$sourceId"`
	TargetID   string         `json:"$targetId"`
	Name       string         `json:"$relationshipName"`
	Properties map[string]any `json:"properties,omitempty"`
}

// OtherEnd returns the endpoint of r that is not twinID.
func (r *Relationship) OtherEnd(twinID string) string {
	if r.SourceID == twinID {
		return r.TargetID
	}
	return r.SourceID
}

// Model is a twin type descriptor identified by a DTMI.
type Model struct {
	ID             string   `json:"id"`
	DisplayName    string   `json:"displayName"`
	IsCapability   bool     `json:"isCapability"`
	Extends        []string `json:"extends,omitempty"`
	Decommissioned bool     `json:"decommissioned,omitempty"`
}
