package cache

import (
	"sort"

	"github.com/promotion0824/TwinPlatform-sub045/twin"
)

// ModelCache is an immutable index of the models known to one generation.
type ModelCache struct {
	models   map[string]twin.Model
	children map[string][]string
}

// NewModelCache indexes models by id and by the models they extend. The map
// is copied; later changes to it are not observed.
func NewModelCache(models map[string]twin.Model) *ModelCache {
	mc := &ModelCache{
		models:   make(map[string]twin.Model, len(models)),
		children: make(map[string][]string),
	}
	for id, m := range models {
		mc.models[id] = m
		for _, parent := range m.Extends {
			mc.children[parent] = append(mc.children[parent], id)
		}
	}
	for _, ids := range mc.children {
		sort.Strings(ids)
	}
	return mc
}

// Get returns the model with the given id.
func (mc *ModelCache) Get(id string) (twin.Model, bool) {
	m, ok := mc.models[id]
	return m, ok
}

// Len returns the number of models.
func (mc *ModelCache) Len() int {
	return len(mc.models)
}

// Ancestors returns every model id reachable through extends, nearest first.
// Parents that are not themselves known models are still reported.
func (mc *ModelCache) Ancestors(id string) []string {
	return mc.walk(id, func(current string) []string {
		return mc.models[current].Extends
	})
}

// Descendants returns every known model that transitively extends id.
func (mc *ModelCache) Descendants(id string) []string {
	return mc.walk(id, func(current string) []string {
		return mc.children[current]
	})
}

// walk is a breadth-first traversal that tolerates cycles.
func (mc *ModelCache) walk(start string, next func(string) []string) []string {
	seen := map[string]bool{start: true}
	queue := []string{start}
	var out []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, n := range next(current) {
			if seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, n)
			queue = append(queue, n)
		}
	}
	return out
}

// IsOfModel reports whether modelID is model, or with exact unset, whether it
// extends model.
func (mc *ModelCache) IsOfModel(modelID, model string, exact bool) bool {
	if modelID == model {
		return true
	}
	if exact {
		return false
	}
	for _, a := range mc.Ancestors(modelID) {
		if a == model {
			return true
		}
	}
	return false
}
