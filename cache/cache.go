// Package cache implements the Chunk Cache: a fixed-byte-budget LRU over
// (stream_id, chunk_index) -> bytes, shared between the Range Server and
// every stream's Prefetch Engine workers.
package cache

import (
	"fmt"
	"sync"

	"github.com/golang/groupcache/lru"
)

// Key identifies one chunk.
type Key struct {
	StreamID string
	Index    int64
}

func (k Key) cacheKey() lru.Key {
	return fmt.Sprintf("%s\x00%d", k.StreamID, k.Index)
}

// ChunkCache is a byte-budgeted, recency-ordered store. It wraps
// groupcache's lru.Cache for eviction ordering (groupcache/lru is not
// itself thread-safe, hence the mutex) and keeps a side-index by stream so
// delete_prefix doesn't need to enumerate the whole LRU list, which
// lru.Cache does not expose a way to do safely.
type ChunkCache struct {
	mu        sync.Mutex
	lru       *lru.Cache
	maxBytes  int64
	usedBytes int64
	byStream  map[string]map[int64]struct{}
}

// New builds a cache with the given byte budget (spec.md CACHE_MAX_BYTES).
func New(maxBytes int64) *ChunkCache {
	c := &ChunkCache{
		maxBytes: maxBytes,
		byStream: make(map[string]map[int64]struct{}),
	}
	c.lru = &lru.Cache{
		OnEvicted: func(key lru.Key, value interface{}) {
			c.onEvicted(value.(entry))
		},
	}
	return c
}

type entry struct {
	key   Key
	bytes []byte
}

// onEvicted is called by lru.Cache under c.mu already held (Remove,
// RemoveOldest, and Add-with-replace all call it synchronously), so it must
// not itself lock.
func (c *ChunkCache) onEvicted(e entry) {
	c.usedBytes -= int64(len(e.bytes))
	if set, ok := c.byStream[e.key.StreamID]; ok {
		delete(set, e.key.Index)
		if len(set) == 0 {
			delete(c.byStream, e.key.StreamID)
		}
	}
}

// Get returns the stored bytes and promotes the key to most-recent.
func (c *ChunkCache) Get(key Key) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.lru.Get(key.cacheKey())
	if !ok {
		return nil, false
	}
	return v.(entry).bytes, true
}

// Contains reports presence without affecting recency.
func (c *ChunkCache) Contains(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.byStream[key.StreamID]
	if !ok {
		return false
	}
	_, ok = set[key.Index]
	return ok
}

// Insert evicts least-recent entries until the new entry fits, then stores
// it. An entry larger than maxBytes is rejected silently, matching spec.md
// §4.2's policy (a chunk never exceeds CHUNK_SIZE in practice).
func (c *ChunkCache) Insert(key Key, bytes []byte) {
	size := int64(len(bytes))
	if size > c.maxBytes {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cacheKey := key.cacheKey()
	if _, ok := c.lru.Get(cacheKey); ok {
		c.lru.Remove(cacheKey) // onEvicted reclaims the prior size and side-index entry
	}

	for c.usedBytes+size > c.maxBytes && c.lru.Len() > 0 {
		c.lru.RemoveOldest()
	}

	c.lru.Add(cacheKey, entry{key: key, bytes: bytes})
	c.usedBytes += size

	set, ok := c.byStream[key.StreamID]
	if !ok {
		set = make(map[int64]struct{})
		c.byStream[key.StreamID] = set
	}
	set[key.Index] = struct{}{}
}

// DeletePrefix removes every entry whose key's stream id equals streamID.
func (c *ChunkCache) DeletePrefix(streamID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.byStream[streamID]
	if !ok {
		return
	}
	// Copy indices first: Remove mutates byStream via onEvicted while we'd
	// otherwise be ranging over it.
	indices := make([]int64, 0, len(set))
	for idx := range set {
		indices = append(indices, idx)
	}
	for _, idx := range indices {
		c.lru.Remove(Key{StreamID: streamID, Index: idx}.cacheKey())
	}
}

// Clear empties the cache entirely.
func (c *ChunkCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru = &lru.Cache{OnEvicted: c.lru.OnEvicted}
	c.usedBytes = 0
	c.byStream = make(map[string]map[int64]struct{})
}

// UsedBytes reports current occupancy, for diagnostics and tests asserting
// the budget invariant.
func (c *ChunkCache) UsedBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usedBytes
}
