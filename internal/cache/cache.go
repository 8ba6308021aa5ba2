// Package cache implements the capacity-bounded, sharded LRU cache shared by
// the embedding cache and the query cache.
//
// The cache is split into shards, each guarded by its own mutex, so that
// concurrent readers on different keys never contend on a single global lock.
// Keys are mapped to shards with FNV-1a. Each shard maintains its own LRU
// list; capacity is distributed across shards, so eviction order is LRU per
// shard rather than globally. Caches too small to give every shard a useful
// capacity default to a single shard and behave as a strict LRU.
//
// Entries may carry a TTL. Expired entries are treated as misses and removed
// lazily on access; Sweep removes them eagerly for epoch-style invalidation.
package cache

import (
	"container/list"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultShards is the shard count used when Config.Shards is zero.
const DefaultShards = 16

// minEntriesPerShard is the smallest per-shard capacity worth striping for.
// Below it a default-sharded cache collapses to one shard: per-shard LRU
// under key skew would otherwise evict recently used entries while the
// cache holds fewer entries than its capacity.
const minEntriesPerShard = 64

// Config configures a Cache.
type Config struct {
	// Capacity is the maximum number of resident entries across all shards.
	// Must be positive.
	Capacity int

	// Shards is the number of lock-striped segments. Defaults to
	// DefaultShards for large caches and a single shard when the capacity
	// is too small to stripe; always clamped so every shard holds at least
	// one entry.
	Shards int

	// TTL is the default time-to-live for entries. Zero means entries never
	// expire and are only removed by LRU pressure.
	TTL time.Duration
}

// Stats reports cumulative cache counters.
type Stats struct {
	Entries   int
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Expired   uint64
}

// Cache is a sharded LRU cache with optional TTL expiry.
// It is safe for concurrent use by multiple goroutines.
type Cache[K ~string, V any] struct {
	shards []*shard[K, V]
	ttl    time.Duration

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	expired   atomic.Uint64

	// now is swappable in tests to drive TTL expiry deterministically.
	now func() time.Time
}

type entry[K ~string, V any] struct {
	key            K
	value          V
	insertedAt     time.Time
	lastAccessedAt time.Time
	expiresAt      time.Time // zero = never expires
	hitCount       uint64
}

type shard[K ~string, V any] struct {
	mu       sync.Mutex
	capacity int
	items    map[K]*list.Element
	lru      *list.List // front = most recently used
}

// New creates a Cache. Panics if cfg.Capacity is not positive; capacity is
// validated by config loading before any cache is constructed.
func New[K ~string, V any](cfg Config) *Cache[K, V] {
	if cfg.Capacity <= 0 {
		panic("cache: capacity must be positive")
	}

	n := cfg.Shards
	if n <= 0 {
		n = DefaultShards
		if cfg.Capacity < minEntriesPerShard*n {
			n = 1
		}
	}
	if n > cfg.Capacity {
		n = cfg.Capacity
	}

	c := &Cache[K, V]{
		shards: make([]*shard[K, V], n),
		ttl:    cfg.TTL,
		now:    time.Now,
	}

	// Distribute capacity so the total resident count never exceeds
	// cfg.Capacity: the first capacity%n shards hold one extra entry.
	base := cfg.Capacity / n
	extra := cfg.Capacity % n
	for i := range c.shards {
		cap := base
		if i < extra {
			cap++
		}
		c.shards[i] = &shard[K, V]{
			capacity: cap,
			items:    make(map[K]*list.Element),
			lru:      list.New(),
		}
	}
	return c
}

func (c *Cache[K, V]) shardFor(key K) *shard[K, V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// Get returns the value for key and refreshes its recency. Expired entries
// are removed and reported as misses.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	s := c.shardFor(key)
	now := c.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}

	ent := el.Value.(*entry[K, V])
	if !ent.expiresAt.IsZero() && now.After(ent.expiresAt) {
		s.lru.Remove(el)
		delete(s.items, key)
		c.expired.Add(1)
		c.misses.Add(1)
		var zero V
		return zero, false
	}

	ent.lastAccessedAt = now
	ent.hitCount++
	s.lru.MoveToFront(el)
	c.hits.Add(1)
	return ent.value, true
}

// Put inserts or overwrites the value for key using the cache default TTL.
func (c *Cache[K, V]) Put(key K, value V) {
	c.PutTTL(key, value, c.ttl)
}

// PutTTL inserts or overwrites the value for key with an explicit TTL,
// evicting the shard's least-recently-used entry if the shard is full.
// A zero ttl means the entry never expires.
func (c *Cache[K, V]) PutTTL(key K, value V, ttl time.Duration) {
	s := c.shardFor(key)
	now := c.now()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[key]; ok {
		// Last-writer-wins overwrite keeps the entry's slot but resets its
		// bookkeeping.
		ent := el.Value.(*entry[K, V])
		ent.value = value
		ent.insertedAt = now
		ent.lastAccessedAt = now
		ent.expiresAt = expiresAt
		ent.hitCount = 0
		s.lru.MoveToFront(el)
		return
	}

	if s.lru.Len() >= s.capacity {
		oldest := s.lru.Back()
		if oldest != nil {
			old := oldest.Value.(*entry[K, V])
			s.lru.Remove(oldest)
			delete(s.items, old.key)
			c.evictions.Add(1)
		}
	}

	s.items[key] = s.lru.PushFront(&entry[K, V]{
		key:            key,
		value:          value,
		insertedAt:     now,
		lastAccessedAt: now,
		expiresAt:      expiresAt,
	})
}

// Delete removes key from the cache. It reports whether an entry was removed.
func (c *Cache[K, V]) Delete(key K) bool {
	s := c.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return false
	}
	s.lru.Remove(el)
	delete(s.items, key)
	return true
}

// Len returns the number of resident entries, including not-yet-swept
// expired ones.
func (c *Cache[K, V]) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.Lock()
		total += s.lru.Len()
		s.mu.Unlock()
	}
	return total
}

// Sweep removes all expired entries and returns how many were removed.
// Used for explicit epoch sweeps after corpus version bumps.
func (c *Cache[K, V]) Sweep() int {
	now := c.now()
	removed := 0

	for _, s := range c.shards {
		s.mu.Lock()
		for el := s.lru.Back(); el != nil; {
			prev := el.Prev()
			ent := el.Value.(*entry[K, V])
			if !ent.expiresAt.IsZero() && now.After(ent.expiresAt) {
				s.lru.Remove(el)
				delete(s.items, ent.key)
				removed++
			}
			el = prev
		}
		s.mu.Unlock()
	}

	if removed > 0 {
		c.expired.Add(uint64(removed))
	}
	return removed
}

// Range calls fn for every resident, unexpired entry without refreshing
// recency. Iteration stops early if fn returns false. Used by snapshot
// persistence; fn must not call back into the cache.
func (c *Cache[K, V]) Range(fn func(key K, value V) bool) {
	now := c.now()
	for _, s := range c.shards {
		s.mu.Lock()
		for el := s.lru.Front(); el != nil; el = el.Next() {
			ent := el.Value.(*entry[K, V])
			if !ent.expiresAt.IsZero() && now.After(ent.expiresAt) {
				continue
			}
			if !fn(ent.key, ent.value) {
				s.mu.Unlock()
				return
			}
		}
		s.mu.Unlock()
	}
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Entries:   c.Len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Expired:   c.expired.Load(),
	}
}
