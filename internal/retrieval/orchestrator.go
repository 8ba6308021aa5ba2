// Package retrieval implements the per-query state machine that ties the
// caches, the vector index, and the generation collaborator together.
//
// Query path:
//
//	START → CACHE_CHECK → CACHE_HIT → DONE
//	               ↓ miss
//	        EMBED_QUERY → VECTOR_SEARCH → ASSEMBLE_CONTEXT
//	               → GENERATE_ANSWER → STORE_CACHE → DONE
//
// Any step failing ends the query in FAILED with a structured error; no
// partial answer is ever returned, and a failed generation is never cached.
// At most one generation runs per fingerprint; concurrent duplicates join
// the pending computation.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/koopa0/ragcache/internal/chunk"
	"github.com/koopa0/ragcache/internal/embedding"
	"github.com/koopa0/ragcache/internal/generate"
	"github.com/koopa0/ragcache/internal/index"
	"github.com/koopa0/ragcache/internal/querycache"
)

// Source identifies one supporting passage of an answer.
type Source struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
}

// Result is the outcome of one query. Constructed per request; persisted
// only as a query cache entry.
type Result struct {
	Answer          string   `json:"answer"`
	Sources         []Source `json:"sources"`
	ServedFromCache bool     `json:"served_from_cache"`
}

// Options are the retrieval parameters, fixed at construction from the
// validated configuration.
type Options struct {
	TopK              int
	MinScore          float64
	MaxContextSize    int // byte budget for assembled context
	GenerationTimeout time.Duration
}

// Orchestrator runs the query state machine. All collaborators are explicit
// constructor arguments; there is no package-level state, so tests build
// fresh instances with fresh caches.
//
// Orchestrator is safe for concurrent use by multiple goroutines.
type Orchestrator struct {
	embeddings *embedding.Cache
	idx        index.Index
	answers    *querycache.Cache[Result]
	chunks     *chunk.Store
	generator  generate.Generator
	opts       Options
	logger     *slog.Logger

	flight singleflight.Group // keyed by fingerprint
}

// New creates an Orchestrator.
func New(
	embeddings *embedding.Cache,
	idx index.Index,
	answers *querycache.Cache[Result],
	chunks *chunk.Store,
	generator generate.Generator,
	opts Options,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		embeddings: embeddings,
		idx:        idx,
		answers:    answers,
		chunks:     chunks,
		generator:  generator,
		opts:       opts,
		logger:     logger,
	}
}

// Query answers a natural-language question grounded in the indexed corpus.
func (o *Orchestrator) Query(ctx context.Context, query string) (Result, error) {
	if query == "" {
		return Result{}, ErrEmptyQuery
	}

	queryID := uuid.NewString()
	fp := querycache.NewFingerprint(query, querycache.Params{
		TopK:      o.opts.TopK,
		MinScore:  o.opts.MinScore,
		CorpusTag: o.chunks.Version(),
	})

	// CACHE_CHECK
	if cached, ok := o.answers.Get(fp); ok {
		cached.ServedFromCache = true
		o.logger.Debug("query served from cache", "query_id", queryID)
		return cached, nil
	}

	// Single computation per fingerprint; duplicates join the pending
	// result and share its outcome, including errors.
	v, err, shared := o.flight.Do(string(fp), func() (any, error) {
		if cached, ok := o.answers.Get(fp); ok {
			cached.ServedFromCache = true
			return cached, nil
		}
		return o.compute(ctx, queryID, query, fp)
	})
	if err != nil {
		return Result{}, err
	}

	result := v.(Result)
	if shared {
		o.logger.Debug("query joined in-flight computation", "query_id", queryID)
	}
	return result, nil
}

// compute runs the cache-miss path: EMBED_QUERY through STORE_CACHE.
func (o *Orchestrator) compute(ctx context.Context, queryID, query string, fp querycache.Fingerprint) (Result, error) {
	start := time.Now()

	// EMBED_QUERY
	emb, err := o.embeddings.GetOrCompute(ctx, query)
	if err != nil {
		return Result{}, fmt.Errorf("embedding query: %w", err)
	}

	// VECTOR_SEARCH
	matches, err := o.idx.Search(ctx, emb.Vector, o.opts.TopK, o.opts.MinScore)
	if err != nil {
		return Result{}, fmt.Errorf("searching index: %w", err)
	}

	// ASSEMBLE_CONTEXT. Fewer sources than topK is a degraded success, not
	// an error.
	contextText, sources := o.assembleContext(matches)

	// GENERATE_ANSWER, the only unbounded step, under a hard timeout.
	genCtx, cancel := context.WithTimeout(ctx, o.opts.GenerationTimeout)
	defer cancel()

	answer, err := o.generator.Generate(genCtx, query, contextText)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(genCtx.Err(), context.DeadlineExceeded) {
			return Result{}, fmt.Errorf("%w after %s", ErrGenerationTimeout, o.opts.GenerationTimeout)
		}
		return Result{}, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	result := Result{
		Answer:  answer,
		Sources: sources,
	}

	// STORE_CACHE, only on success.
	o.answers.Put(fp, result)

	o.logger.Debug("query answered",
		"query_id", queryID,
		"sources", len(sources),
		"elapsed", time.Since(start))
	return result, nil
}

// assembleContext concatenates retrieved chunk texts best-first until the
// context budget is reached; lower-scored chunks past the budget are
// dropped. A top-ranked chunk larger than the whole budget is truncated to
// it, since the generator has a fixed input limit the budget must hold
// against. Matches whose chunk has been deleted since indexing are skipped.
func (o *Orchestrator) assembleContext(matches []index.Match) (string, []Source) {
	var (
		parts   []string
		sources []Source
		size    int
	)
	for _, m := range matches {
		c, ok := o.chunks.Get(m.ChunkID)
		if !ok {
			continue
		}
		text := c.Text
		if size+len(text) > o.opts.MaxContextSize {
			if size > 0 {
				break
			}
			text = text[:o.opts.MaxContextSize]
		}
		parts = append(parts, text)
		size += len(text)
		sources = append(sources, Source{
			ChunkID:    m.ChunkID,
			DocumentID: m.DocumentID,
			Score:      m.Score,
		})
	}
	return joinContext(parts), sources
}

func joinContext(parts []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}

	n := 0
	for _, p := range parts {
		n += len(p)
	}
	buf := make([]byte, 0, n+2*(len(parts)-1))
	for i, p := range parts {
		if i > 0 {
			buf = append(buf, '\n', '\n')
		}
		buf = append(buf, p...)
	}
	return string(buf)
}
