package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/goleak"

	"github.com/koopa0/ragcache/internal/chunk"
	"github.com/koopa0/ragcache/internal/embedding"
	"github.com/koopa0/ragcache/internal/index"
	"github.com/koopa0/ragcache/internal/testutil"
)

type fixture struct {
	ing      *Ingestor
	chunks   *chunk.Store
	embedder *testutil.Embedder
	idx      *index.Memory
	sweeper  *countingSweeper
}

type countingSweeper struct{ calls int }

func (s *countingSweeper) Sweep() int {
	s.calls++
	return 0
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	embedder := testutil.NewEmbedder(4)
	embeddings := embedding.NewCache(embedder, embedding.CacheConfig{Capacity: 256}, testutil.DiscardLogger())
	idx := index.NewMemory(4, index.MetricCosine, testutil.DiscardLogger())
	chunks := chunk.NewStore()
	sweeper := &countingSweeper{}

	return &fixture{
		ing:      New(chunks, embeddings, idx, sweeper, cfg, testutil.DiscardLogger()),
		chunks:   chunks,
		embedder: embedder,
		idx:      idx,
		sweeper:  sweeper,
	}
}

func makeChunks(doc string, n int) []chunk.Chunk {
	out := make([]chunk.Chunk, n)
	for i := range out {
		out[i] = chunk.Chunk{
			ID:         fmt.Sprintf("%s-%03d", doc, i),
			DocumentID: doc,
			Text:       fmt.Sprintf("passage %s %d", doc, i),
			Sequence:   i,
		}
	}
	return out
}

func TestIndexChunks(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, Config{BatchMaxSize: 4})
	ctx := context.Background()

	if err := f.ing.IndexChunks(ctx, makeChunks("doc", 10)); err != nil {
		t.Fatalf("IndexChunks: %v", err)
	}

	if n, _ := f.idx.Len(ctx); n != 10 {
		t.Errorf("index has %d vectors, want 10", n)
	}
	if f.chunks.Len() != 10 {
		t.Errorf("store has %d chunks, want 10", f.chunks.Len())
	}
	if v := f.chunks.Version(); v != 1 {
		t.Errorf("Version = %d after one ingest, want 1", v)
	}
	// 10 chunks at 4 per batch.
	if f.embedder.Calls() != 3 {
		t.Errorf("embed calls = %d, want 3", f.embedder.Calls())
	}
	if f.sweeper.calls != 1 {
		t.Errorf("sweeper calls = %d, want 1", f.sweeper.calls)
	}
}

func TestIndexChunksEmpty(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})

	if err := f.ing.IndexChunks(context.Background(), nil); err != nil {
		t.Fatalf("IndexChunks(nil) = %v", err)
	}
	if v := f.chunks.Version(); v != 0 {
		t.Errorf("empty ingest bumped the version tag to %d", v)
	}
}

func TestIndexChunksReingestIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()
	cs := makeChunks("doc", 5)

	if err := f.ing.IndexChunks(ctx, cs); err != nil {
		t.Fatal(err)
	}
	embedCallsAfterFirst := f.embedder.Calls()

	if err := f.ing.IndexChunks(ctx, cs); err != nil {
		t.Fatal(err)
	}

	if n, _ := f.idx.Len(ctx); n != 5 {
		t.Errorf("index has %d vectors after re-ingest, want 5", n)
	}
	// Unchanged texts are embedding cache hits; nothing goes upstream again.
	if f.embedder.Calls() != embedCallsAfterFirst {
		t.Errorf("re-ingest made %d new embed calls, want 0",
			f.embedder.Calls()-embedCallsAfterFirst)
	}
	if v := f.chunks.Version(); v != 2 {
		t.Errorf("Version = %d, want 2", v)
	}
}

func TestIndexChunksEmbedFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.embedder.SetErr(errors.New("upstream down"))

	err := f.ing.IndexChunks(context.Background(), makeChunks("doc", 3))
	if !errors.Is(err, embedding.ErrEmbeddingUnavailable) {
		t.Fatalf("err = %v, want ErrEmbeddingUnavailable", err)
	}
}

func TestDeleteDocument(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()

	if err := f.ing.IndexChunks(ctx, makeChunks("keep", 3)); err != nil {
		t.Fatal(err)
	}
	if err := f.ing.IndexChunks(ctx, makeChunks("drop", 4)); err != nil {
		t.Fatal(err)
	}

	removed, err := f.ing.DeleteDocument(ctx, "drop")
	if err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if removed != 4 {
		t.Errorf("removed = %d, want 4", removed)
	}
	if n, _ := f.idx.Len(ctx); n != 3 {
		t.Errorf("index has %d vectors, want 3", n)
	}
	if f.chunks.Len() != 3 {
		t.Errorf("store has %d chunks, want 3", f.chunks.Len())
	}
}

func TestRebuild(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()

	if err := f.ing.IndexChunks(ctx, makeChunks("a", 3)); err != nil {
		t.Fatal(err)
	}
	if err := f.ing.IndexChunks(ctx, makeChunks("b", 2)); err != nil {
		t.Fatal(err)
	}

	// Simulate divergence: a vector the store does not know about.
	if err := f.idx.Insert(ctx, index.Entry{
		ChunkID:    "orphan",
		DocumentID: "ghost",
		Vector:     []float32{1, 0, 0, 0},
	}); err != nil {
		t.Fatal(err)
	}

	reindexed, err := f.ing.Rebuild(ctx)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if reindexed != 5 {
		t.Errorf("reindexed = %d, want 5", reindexed)
	}

	// Every store chunk is back; the orphan survives only because its
	// document is unknown to the store. Known documents are exact.
	n, _ := f.idx.Len(ctx)
	if n != 6 {
		t.Errorf("index has %d vectors after rebuild, want 6", n)
	}
	matches, err := f.idx.Search(ctx, []float32{1, 0, 0, 0}, 10, -1)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range matches {
		if m.DocumentID == "a" || m.DocumentID == "b" {
			return // store documents present, as expected
		}
	}
}
