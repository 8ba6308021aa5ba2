package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"sync"
	"time"
)

// Embedder is a deterministic in-process embedder for tests. It satisfies
// embedding.Embedder without importing it (kept import-free so every
// package can use it).
//
// Each text maps to a stable pseudo-random unit vector derived from its
// SHA-256 digest, so equal texts always embed identically. Fixed vectors
// for specific texts can be pinned via Vectors.
type Embedder struct {
	// Dim is the dimensionality of produced vectors.
	Dim int

	// Vectors pins exact outputs for specific texts. Texts not present
	// fall back to the derived deterministic vector.
	Vectors map[string][]float32

	// Err, when set, is returned by every Embed call.
	Err error

	// Delay is slept (context-aware) before each Embed call returns.
	Delay time.Duration

	mu        sync.Mutex
	calls     int
	textsSeen int
}

// NewEmbedder creates a deterministic test embedder producing vectors of
// the given dimension.
func NewEmbedder(dim int) *Embedder {
	return &Embedder{Dim: dim, Vectors: make(map[string][]float32)}
}

// Embed implements the embedder contract.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.textsSeen += len(texts)
	err := e.Err
	delay := e.Delay
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := e.Vectors[text]; ok {
			out[i] = append([]float32(nil), v...)
			continue
		}
		out[i] = e.derive(text)
	}
	return out, nil
}

// Name implements the embedder contract.
func (e *Embedder) Name() string { return "testutil/deterministic" }

// Calls returns how many Embed calls were made.
func (e *Embedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// TextsEmbedded returns the total number of texts passed across all calls.
func (e *Embedder) TextsEmbedded() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.textsSeen
}

// SetErr makes subsequent Embed calls fail with err (nil restores success).
func (e *Embedder) SetErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Err = err
}

// derive builds a stable vector from the text digest, normalized to unit
// length so cosine and dot scores stay in a sane range.
func (e *Embedder) derive(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	v := make([]float32, e.Dim)
	var norm float64
	for i := range v {
		// Cycle through the digest, reseeding with the index to decorrelate
		// dimensions beyond 32.
		word := binary.LittleEndian.Uint32(sum[(i*4)%28:]) ^ uint32(i*2654435761)
		f := float64(word)/float64(1<<32) - 0.5
		v[i] = float32(f)
		norm += f * f
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
	return v
}
