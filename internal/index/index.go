// Package index provides approximate-nearest-neighbor retrieval over chunk
// embeddings.
//
// Two implementations share one contract: Memory, an in-process brute-force
// scan suitable for per-user corpora, and Postgres, backed by pgvector for
// corpora that outgrow memory. The backend is chosen at construction time by
// configuration; ordering, tie-breaking and min-score filtering are identical
// either way.
package index

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrDimensionMismatch indicates a vector's length disagrees with the
	// index's configured dimension. Fatal at insert time; vectors are never
	// truncated or padded.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrIndexCorrupt indicates the index failed an internal consistency
	// check. Recovery is a full rebuild from the chunk store, not a
	// per-request retry.
	ErrIndexCorrupt = errors.New("vector index corrupt")

	// ErrUnknownMetric indicates an unrecognized similarity metric name.
	ErrUnknownMetric = errors.New("unknown similarity metric")
)

// Metric is the similarity metric of an index. It is fixed for the lifetime
// of an index instance; mixing metrics corrupts ranking.
type Metric string

const (
	// MetricCosine scores by cosine similarity.
	MetricCosine Metric = "cosine"

	// MetricDot scores by inner product; intended for pre-normalized
	// vectors, where it equals cosine similarity at lower cost.
	MetricDot Metric = "dot"
)

// ParseMetric validates a metric name from configuration.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricCosine, MetricDot:
		return Metric(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
	}
}

// Entry is one indexed chunk vector. The entry references its chunk by ID
// only; chunk text stays in the chunk store.
type Entry struct {
	ChunkID    string
	DocumentID string
	Vector     []float32
}

// Match is one search result.
type Match struct {
	ChunkID    string
	DocumentID string
	Score      float64
}

// Index is the vector index contract.
//
// Insert is idempotent on chunk ID (re-inserting replaces the prior vector).
// DeleteByDocument is atomic with respect to any single Search call: an
// in-flight search observes either all of a document's entries or none of
// them, never a partially deleted state.
// Search returns matches ordered by descending score, ties broken by chunk
// ID ascending, entries below minScore excluded, at most k results.
type Index interface {
	Insert(ctx context.Context, entries ...Entry) error
	DeleteByDocument(ctx context.Context, documentID string) (int, error)
	Search(ctx context.Context, vector []float32, k int, minScore float64) ([]Match, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

// norm returns the L2 norm of v.
func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// dot returns the inner product of a and b, which must share a length.
func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func checkDimension(dim int, vector []float32) error {
	if len(vector) != dim {
		return fmt.Errorf("%w: got %d, index configured for %d", ErrDimensionMismatch, len(vector), dim)
	}
	return nil
}
