// Package cache documentation.
//
// # Usage
//
//	twins, err := cache.NewSimple[Slot](cache.WithMetrics[Slot](registry, "twin_slots"))
//	if err != nil {
//	    return err
//	}
//
//	_, _ = twins.Set(id, slot)
//	ids, _ := byModel.Update(modelID, func(old []string, _ bool) []string {
//	    return append(old, id)
//	})
//
// Update is the building block for read-modify-write on shared entries such as
// relationship id lists: fn runs while the cache holds its write lock, so fn
// must not call back into the same cache.
//
// # Statistics
//
// Every cache keeps Statistics (hits, misses, sets, deletes, size). When
// WithMetrics is given the same counters are exported to Prometheus under
// twinplatform_cache_* with a component label.
package cache
