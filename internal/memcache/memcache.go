// Package memcache is the volatile tier of the asset cache: a cost-bounded
// LRU of decoded assets. Entries are disposable projections of the disk tier
// and may be evicted at any moment, either because the byte or entry budget
// is exceeded or because an external memory-pressure signal calls Trim or
// Purge. A miss after a Put is always valid behaviour.
package memcache

import (
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/postercache/postercache/internal/asset"
	"github.com/postercache/postercache/internal/keycodec"
)

// Options bounds the cache. MaxBytes <= 0 disables the byte budget and
// MaxEntries <= 0 disables the entry budget, so the zero value is unbounded
// and only shrinks through Trim.
type Options struct {
	MaxBytes   int64
	MaxEntries int
}

// Stats is a point-in-time snapshot of the cache.
type Stats struct {
	Entries   int   `json:"entries"`
	Bytes     int64 `json:"bytes"`
	MaxBytes  int64 `json:"max_bytes"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// Cache is safe for concurrent use. All operations are synchronous and never
// block on I/O.
type Cache struct {
	mu       sync.Mutex
	lru      *lru.Cache
	maxBytes int64
	bytes    int64

	// explicit marks removals requested by callers so they are not counted
	// as evictions.
	explicit  bool
	hits      int64
	misses    int64
	evictions int64
}

// New builds a cache bounded by opts.
func New(opts Options) *Cache {
	c := &Cache{
		lru:      lru.New(opts.MaxEntries),
		maxBytes: opts.MaxBytes,
	}
	c.lru.OnEvicted = c.onEvicted
	return c
}

// Put stores a, replacing any previous entry for key. Assets larger than the
// whole byte budget are not stored.
func (c *Cache) Put(key keycodec.Key, a *asset.Asset) {
	if a == nil {
		return
	}
	cost := a.Cost()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.removeLocked(key)
	if c.maxBytes > 0 && cost > c.maxBytes {
		return
	}
	c.lru.Add(key, a)
	c.bytes += cost
	if c.maxBytes > 0 {
		c.trimLocked(c.maxBytes)
	}
}

// Get returns the asset for key and marks it recently used.
func (c *Cache) Get(key keycodec.Key) (*asset.Asset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	return value.(*asset.Asset), true
}

// Remove drops key if present.
func (c *Cache) Remove(key keycodec.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

// Trim evicts least recently used entries until the total cost is at most
// target bytes. It is the hook for external memory-pressure signals.
func (c *Cache) Trim(target int64) {
	if target < 0 {
		target = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trimLocked(target)
}

// Purge evicts every entry.
func (c *Cache) Purge() {
	c.Trim(0)
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   c.lru.Len(),
		Bytes:     c.bytes,
		MaxBytes:  c.maxBytes,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *Cache) removeLocked(key keycodec.Key) {
	c.explicit = true
	c.lru.Remove(key)
	c.explicit = false
}

func (c *Cache) trimLocked(target int64) {
	for c.bytes > target && c.lru.Len() > 0 {
		c.lru.RemoveOldest()
	}
}

// onEvicted runs with c.mu held; lru invokes it synchronously.
func (c *Cache) onEvicted(_ lru.Key, value interface{}) {
	if a, ok := value.(*asset.Asset); ok {
		c.bytes -= a.Cost()
	}
	if !c.explicit {
		c.evictions++
	}
}
