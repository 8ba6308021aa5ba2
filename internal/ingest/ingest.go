// Package ingest drives the ingestion path: chunk records from the upstream
// document collaborator are embedded in bounded batches and inserted into
// the vector index.
//
// Backpressure is explicit: at most maxOutstanding embed batches run
// concurrently and batches pass a rate limiter before going upstream, so an
// ingestion burst queues instead of fanning out unbounded external calls.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/koopa0/ragcache/internal/chunk"
	"github.com/koopa0/ragcache/internal/embedding"
	"github.com/koopa0/ragcache/internal/index"
)

// AnswerSweeper removes expired answer-cache entries. Optional; wired so a
// corpus change reclaims stale answers eagerly instead of waiting for LRU
// pressure.
type AnswerSweeper interface {
	Sweep() int
}

// Config bounds the ingestion pipeline.
type Config struct {
	// BatchMaxSize is the number of chunks embedded per upstream call.
	BatchMaxSize int

	// MaxOutstanding is the number of embed batches in flight at once.
	MaxOutstanding int

	// BatchesPerSecond rate-limits upstream embed calls. Zero disables the
	// limiter.
	BatchesPerSecond float64
}

// Ingestor owns the ingestion path. It is safe for concurrent use by
// multiple goroutines; the index serializes conflicting mutations.
type Ingestor struct {
	chunks     *chunk.Store
	embeddings *embedding.Cache
	idx        index.Index
	sweeper    AnswerSweeper // may be nil
	limiter    *rate.Limiter // may be nil
	cfg        Config
	logger     *slog.Logger
}

// New creates an Ingestor. sweeper may be nil.
func New(
	chunks *chunk.Store,
	embeddings *embedding.Cache,
	idx index.Index,
	sweeper AnswerSweeper,
	cfg Config,
	logger *slog.Logger,
) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchMaxSize <= 0 {
		cfg.BatchMaxSize = 16
	}
	if cfg.MaxOutstanding <= 0 {
		cfg.MaxOutstanding = 4
	}

	var limiter *rate.Limiter
	if cfg.BatchesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.BatchesPerSecond), cfg.MaxOutstanding)
	}

	return &Ingestor{
		chunks:     chunks,
		embeddings: embeddings,
		idx:        idx,
		sweeper:    sweeper,
		limiter:    limiter,
		cfg:        cfg,
		logger:     logger,
	}
}

// IndexChunks stores the chunks, embeds them in bounded batches, and inserts
// the vectors into the index. The corpus version tag bumps once per call, so
// answers cached before the change stop matching new fingerprints.
//
// Chunks land in the store before embedding, so a failed embed call can
// leave store chunks without index vectors. IndexChunks is idempotent per
// chunk ID; callers retry the same call to converge.
func (ing *Ingestor) IndexChunks(ctx context.Context, chunks []chunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	start := time.Now()
	ing.chunks.Put(chunks...)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(ing.cfg.MaxOutstanding)

	for begin := 0; begin < len(chunks); begin += ing.cfg.BatchMaxSize {
		batch := chunks[begin:min(begin+ing.cfg.BatchMaxSize, len(chunks))]
		g.Go(func() error {
			if ing.limiter != nil {
				if err := ing.limiter.Wait(ctx); err != nil {
					return fmt.Errorf("waiting for embed slot: %w", err)
				}
			}

			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Text
			}
			embs, err := ing.embeddings.GetOrComputeBatch(ctx, texts)
			if err != nil {
				return fmt.Errorf("embedding batch of %d: %w", len(batch), err)
			}

			entries := make([]index.Entry, len(batch))
			for i, c := range batch {
				entries[i] = index.Entry{
					ChunkID:    c.ID,
					DocumentID: c.DocumentID,
					Vector:     embs[i].Vector,
				}
			}
			if err := ing.idx.Insert(ctx, entries...); err != nil {
				return fmt.Errorf("inserting batch of %d: %w", len(batch), err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	ing.sweep()
	ing.logger.Debug("chunks indexed",
		"chunks", len(chunks),
		"corpus_version", ing.chunks.Version(),
		"elapsed", time.Since(start))
	return nil
}

// DeleteDocument removes a document's chunks from the corpus and its vectors
// from the index, bumping the corpus version tag.
func (ing *Ingestor) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	removed, err := ing.idx.DeleteByDocument(ctx, documentID)
	if err != nil {
		return 0, fmt.Errorf("deleting document %q from index: %w", documentID, err)
	}
	ing.chunks.DeleteDocument(documentID)

	ing.sweep()
	ing.logger.Info("document deleted",
		"document_id", documentID,
		"vectors_removed", removed,
		"corpus_version", ing.chunks.Version())
	return removed, nil
}

// Rebuild re-indexes the entire corpus from the authoritative chunk store
// and returns how many chunks were re-indexed. This is the recovery path for
// index corruption: every document's vectors are dropped and re-inserted
// from freshly retrieved embeddings (cache hits make unchanged chunks cheap).
func (ing *Ingestor) Rebuild(ctx context.Context) (int, error) {
	all := ing.chunks.All()

	// Clear per document so searches never observe a half-deleted document.
	seen := make(map[string]bool)
	for _, c := range all {
		if seen[c.DocumentID] {
			continue
		}
		seen[c.DocumentID] = true
		if _, err := ing.idx.DeleteByDocument(ctx, c.DocumentID); err != nil {
			return 0, fmt.Errorf("clearing document %q: %w", c.DocumentID, err)
		}
	}

	if err := ing.IndexChunks(ctx, all); err != nil {
		return 0, fmt.Errorf("rebuilding index: %w", err)
	}

	ing.logger.Info("index rebuilt", "chunks", len(all), "documents", len(seen))
	return len(all), nil
}

func (ing *Ingestor) sweep() {
	if ing.sweeper == nil {
		return
	}
	if n := ing.sweeper.Sweep(); n > 0 {
		ing.logger.Debug("swept stale answers", "removed", n)
	}
}
