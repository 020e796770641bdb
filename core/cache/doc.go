// Package cache provides the read cache that sits in front of snapshot stores.
//
// [LRU] is bounded by entry count and optionally expires entries:
//
//	c := cache.NewLRU(cache.LRUOpts{Size: 1000, DefaultTTL: time.Minute})
//	defer c.Close()
//
// [Typed] wraps a [Cache] for a single value type, as the snapshotter does
// for *es.Snapshot. [Nop] disables caching.
package cache
