// Package cmap provides a concurrent string-keyed map for keepstore.
//
// The map is split into shards selected by a murmur3 hash of the key.
// Each shard is guarded by its own RWMutex so readers of different keys
// never contend.
//
// Usage:
//
//	m := cmap.New[[]byte]()
//	m.Set("ks:employees", payload)
//	val, ok := m.Get("ks:employees")
//
// Iteration (Range, Keys) locks one shard at a time, so the view is not a
// consistent snapshot across shards.
package cmap
