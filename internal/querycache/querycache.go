// Package querycache caches end-to-end query answers keyed by a fingerprint
// of the normalized query, its retrieval parameters, and the corpus version
// tag.
//
// The corpus tag makes invalidation free: any document change bumps the tag,
// new queries fingerprint differently, and stale entries age out under LRU
// pressure or an explicit sweep. Nothing enumerates affected entries.
package querycache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"time"

	"github.com/koopa0/ragcache/internal/cache"
)

// Fingerprint is the deterministic cache key for one query configuration.
type Fingerprint string

// Params are the retrieval parameters that shape an answer. Two queries with
// equal normalized text but different parameters must not share a cache
// entry.
type Params struct {
	TopK      int
	MinScore  float64
	CorpusTag uint64
}

// NewFingerprint derives the cache key from the query text and params. Query
// text is normalized (lowercased, whitespace collapsed) so trivially
// reworded duplicates share an entry.
func NewFingerprint(query string, p Params) Fingerprint {
	normalized := strings.ToLower(strings.Join(strings.Fields(query), " "))

	h := sha256.New()
	h.Write([]byte(normalized))

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(p.TopK))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(int64(p.MinScore*1e9)))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], p.CorpusTag)
	h.Write(buf[:])

	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// Config configures the query cache.
type Config struct {
	// Capacity is the maximum number of resident answers.
	Capacity int

	// Shards overrides the cache shard count (0 = default).
	Shards int

	// TTL expires answers even without capacity pressure, bounding
	// staleness for corpora that change outside the tag's scope.
	TTL time.Duration
}

// Cache is the read-through answer cache. V is the caller's result type; the
// retrieval orchestrator stores its Result here.
//
// Cache is safe for concurrent use by multiple goroutines.
type Cache[V any] struct {
	entries *cache.Cache[Fingerprint, V]
}

// New creates a query cache.
func New[V any](cfg Config) *Cache[V] {
	return &Cache[V]{
		entries: cache.New[Fingerprint, V](cache.Config{
			Capacity: cfg.Capacity,
			Shards:   cfg.Shards,
			TTL:      cfg.TTL,
		}),
	}
}

// Get returns the cached answer for fp, if present and unexpired.
func (c *Cache[V]) Get(fp Fingerprint) (V, bool) {
	return c.entries.Get(fp)
}

// Put stores an answer, overwriting any entry for the same fingerprint
// (last-writer-wins; the orchestrator guarantees at most one in-flight
// computation per fingerprint).
func (c *Cache[V]) Put(fp Fingerprint, result V) {
	c.entries.Put(fp, result)
}

// Sweep removes expired entries eagerly. Called after corpus version bumps
// to reclaim entries keyed on stale tags without waiting for LRU pressure.
func (c *Cache[V]) Sweep() int {
	return c.entries.Sweep()
}

// Stats returns the underlying cache counters.
func (c *Cache[V]) Stats() cache.Stats {
	return c.entries.Stats()
}
