package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/koopa0/ragcache/internal/cache"
)

var (
	// ErrEmptyText indicates the input text is empty after normalization.
	ErrEmptyText = errors.New("empty text")

	// ErrInputTooLarge indicates the input exceeds the configured size
	// ceiling. Rejected before any upstream call.
	ErrInputTooLarge = errors.New("input too large")

	// ErrEmbeddingUnavailable indicates the embedding collaborator failed or
	// timed out. Callers retry with backoff; the cache never retries on
	// their behalf.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
)

// DefaultNegativeTTL bounds how long an upstream failure is remembered.
// Long enough to absorb a retry storm, short enough that a sustained outage
// stays visible.
const DefaultNegativeTTL = 2 * time.Second

// CacheConfig configures the embedding cache.
type CacheConfig struct {
	// Capacity is the maximum number of resident embeddings.
	Capacity int

	// Shards overrides the cache shard count (0 = default).
	Shards int

	// MaxTextLen is the input size ceiling in bytes; longer texts are
	// rejected with ErrInputTooLarge.
	MaxTextLen int

	// BatchMaxSize bounds how many misses go upstream in one batched call.
	BatchMaxSize int

	// NegativeTTL overrides DefaultNegativeTTL (0 = default).
	NegativeTTL time.Duration
}

// Cache is the read-through cache in front of the embedding collaborator.
// It is safe for concurrent use by multiple goroutines.
type Cache struct {
	embedder Embedder
	entries  *cache.Cache[string, Embedding]
	negative *cache.Cache[string, string] // content hash → failure message
	flight   singleflight.Group
	logger   *slog.Logger

	maxTextLen   int
	batchMaxSize int
	negativeTTL  time.Duration
}

// NewCache creates an embedding cache in front of embedder.
func NewCache(embedder Embedder, cfg CacheConfig, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}

	negTTL := cfg.NegativeTTL
	if negTTL <= 0 {
		negTTL = DefaultNegativeTTL
	}
	batchMax := cfg.BatchMaxSize
	if batchMax <= 0 {
		batchMax = 16
	}

	return &Cache{
		embedder: embedder,
		entries: cache.New[string, Embedding](cache.Config{
			Capacity: cfg.Capacity,
			Shards:   cfg.Shards,
		}),
		negative: cache.New[string, string](cache.Config{
			Capacity: 1024,
			TTL:      negTTL,
		}),
		logger:       logger,
		maxTextLen:   cfg.MaxTextLen,
		batchMaxSize: batchMax,
		negativeTTL:  negTTL,
	}
}

// ContentHash returns the deterministic hash of the normalized text. Two
// texts differing only in surrounding or repeated whitespace share a hash,
// so identical chunks across documents embed once.
func ContentHash(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// GetOrCompute returns the embedding for text, computing it at most once per
// content hash regardless of how many callers ask concurrently.
func (c *Cache) GetOrCompute(ctx context.Context, text string) (Embedding, error) {
	hash, err := c.validate(text)
	if err != nil {
		return Embedding{}, err
	}

	if emb, ok := c.entries.Get(hash); ok {
		return emb, nil
	}
	if msg, ok := c.negative.Get(hash); ok {
		return Embedding{}, fmt.Errorf("%w: %s (negative cached)", ErrEmbeddingUnavailable, msg)
	}

	// Single-flight: concurrent callers for the same hash share one
	// upstream call and receive the same result or error.
	v, err, _ := c.flight.Do(hash, func() (any, error) {
		// A waiter queued behind a completed leader may arrive after the
		// insert; re-check before going upstream.
		if emb, ok := c.entries.Get(hash); ok {
			return emb, nil
		}

		vectors, err := c.embedder.Embed(ctx, []string{text})
		if err != nil {
			c.negative.Put(hash, err.Error())
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
		}
		if len(vectors) != 1 {
			msg := fmt.Sprintf("embedder returned %d vectors for 1 text", len(vectors))
			c.negative.Put(hash, msg)
			return nil, fmt.Errorf("%w: %s", ErrEmbeddingUnavailable, msg)
		}

		emb := Embedding{
			ContentHash: hash,
			Vector:      vectors[0],
			ModelID:     c.embedder.Name(),
			CreatedAt:   time.Now(),
		}
		c.entries.Put(hash, emb)
		return emb, nil
	})
	if err != nil {
		return Embedding{}, err
	}
	return v.(Embedding), nil
}

// GetOrComputeBatch returns embeddings for texts in input order. Cache hits
// are served locally; misses are deduplicated and sent upstream in batches
// of at most BatchMaxSize.
func (c *Cache) GetOrComputeBatch(ctx context.Context, texts []string) ([]Embedding, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	hashes := make([]string, len(texts))
	results := make([]Embedding, len(texts))

	// Partition into hits and unique misses.
	missText := make(map[string]string) // hash → text
	var missOrder []string
	for i, text := range texts {
		hash, err := c.validate(text)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		hashes[i] = hash

		if emb, ok := c.entries.Get(hash); ok {
			results[i] = emb
			continue
		}
		if _, seen := missText[hash]; !seen {
			missText[hash] = text
			missOrder = append(missOrder, hash)
		}
	}

	if len(missOrder) == 0 {
		return results, nil
	}

	computed := make(map[string]Embedding, len(missOrder))
	for start := 0; start < len(missOrder); start += c.batchMaxSize {
		end := min(start+c.batchMaxSize, len(missOrder))
		batch := missOrder[start:end]

		batchTexts := make([]string, len(batch))
		for i, hash := range batch {
			batchTexts[i] = missText[hash]
		}

		vectors, err := c.embedder.Embed(ctx, batchTexts)
		if err != nil {
			return nil, fmt.Errorf("%w: batch of %d: %v", ErrEmbeddingUnavailable, len(batch), err)
		}
		if len(vectors) != len(batchTexts) {
			return nil, fmt.Errorf("%w: embedder returned %d vectors for %d texts",
				ErrEmbeddingUnavailable, len(vectors), len(batchTexts))
		}

		now := time.Now()
		for i, hash := range batch {
			emb := Embedding{
				ContentHash: hash,
				Vector:      vectors[i],
				ModelID:     c.embedder.Name(),
				CreatedAt:   now,
			}
			c.entries.Put(hash, emb)
			computed[hash] = emb
		}
	}

	// Merge computed misses back in input order.
	for i, hash := range hashes {
		if results[i].ContentHash == "" {
			results[i] = computed[hash]
		}
	}

	c.logger.Debug("batch embedded",
		"texts", len(texts),
		"misses", len(missOrder))
	return results, nil
}

// Stats returns counters for the positive entry cache.
func (c *Cache) Stats() cache.Stats {
	return c.entries.Stats()
}

func (c *Cache) validate(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}
	if c.maxTextLen > 0 && len(text) > c.maxTextLen {
		return "", fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrInputTooLarge, len(text), c.maxTextLen)
	}
	return ContentHash(text), nil
}
