// Package embedding provides the read-through embedding cache sitting in
// front of the embedding collaborator.
//
// The cache deduplicates identical texts by content hash (identical chunks
// across documents embed once), collapses concurrent requests for the same
// hash into a single upstream call, and keeps a short-lived negative cache so
// a retry storm after an upstream failure does not amplify the outage.
package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"google.golang.org/genai"
)

// Embedder is the boundary contract with the embedding collaborator.
// Implementations must return one vector per input text, in input order, and
// surface failures as errors rather than zero vectors.
type Embedder interface {
	// Embed returns the embedding vectors for texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Name identifies the embedding model for cache bookkeeping.
	Name() string
}

// Embedding is a computed embedding record, owned exclusively by the cache.
type Embedding struct {
	ContentHash string
	Vector      []float32
	ModelID     string
	CreatedAt   time.Time
}

// GenkitEmbedder adapts a Genkit ai.Embedder to the Embedder boundary.
type GenkitEmbedder struct {
	embedder ai.Embedder
	model    string
	dim      int32 // 0 = model default
}

// NewGenkitEmbedder wraps a Genkit embedder. If dim is positive it is passed
// as OutputDimensionality so the model truncates vectors to the index's
// configured dimension.
func NewGenkitEmbedder(embedder ai.Embedder, model string, dim int) *GenkitEmbedder {
	return &GenkitEmbedder{
		embedder: embedder,
		model:    model,
		dim:      int32(dim),
	}
}

// Name returns the underlying model identifier.
func (g *GenkitEmbedder) Name() string { return g.model }

// Embed sends all texts in a single request and returns vectors in input
// order.
func (g *GenkitEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	docs := make([]*ai.Document, len(texts))
	for i, t := range texts {
		docs[i] = ai.DocumentFromText(t, nil)
	}

	req := &ai.EmbedRequest{Input: docs}
	if g.dim > 0 {
		dim := g.dim
		req.Options = &genai.EmbedContentConfig{OutputDimensionality: &dim}
	}

	resp, err := g.embedder.Embed(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("embedding %d texts: %w", len(texts), err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(resp.Embeddings), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if len(e.Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding at position %d", i)
		}
		vectors[i] = e.Embedding
	}
	return vectors, nil
}
