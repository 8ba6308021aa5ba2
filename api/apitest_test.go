package api

import (
	"context"
	"testing"
	"time"

	"github.com/koopa0/ragcache/internal/chunk"
	"github.com/koopa0/ragcache/internal/embedding"
	"github.com/koopa0/ragcache/internal/index"
	"github.com/koopa0/ragcache/internal/ingest"
	"github.com/koopa0/ragcache/internal/querycache"
	"github.com/koopa0/ragcache/internal/retrieval"
	"github.com/koopa0/ragcache/internal/testutil"
)

// testStack is a full in-process stack behind the HTTP surface: deterministic
// embedder, memory index, scripted generator.
type testStack struct {
	server    *Server
	embedder  *testutil.Embedder
	generator *testutil.Generator
	chunks    *chunk.Store
	idx       *index.Memory
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	embedder := testutil.NewEmbedder(4)
	generator := &testutil.Generator{Answer: "the answer"}
	logger := testutil.DiscardLogger()

	embeddings := embedding.NewCache(embedder, embedding.CacheConfig{Capacity: 64, MaxTextLen: 8192}, logger)
	idx := index.NewMemory(4, index.MetricCosine, logger)
	answers := querycache.New[retrieval.Result](querycache.Config{Capacity: 64})
	chunks := chunk.NewStore()

	orch := retrieval.New(embeddings, idx, answers, chunks, generator, retrieval.Options{
		TopK:              5,
		MinScore:          -1,
		MaxContextSize:    4096,
		GenerationTimeout: time.Second,
	}, logger)

	ing := ingest.New(chunks, embeddings, idx, answers, ingest.Config{}, logger)

	stack := &testStack{
		embedder:  embedder,
		generator: generator,
		chunks:    chunks,
		idx:       idx,
	}
	stack.server = NewServer(orch, ing, stubStats{}, nil, logger)
	return stack
}

// stubStats satisfies StatsSource with fixed numbers.
type stubStats struct {
	stats Stats
	err   error
}

func (s stubStats) Stats(context.Context) (Stats, error) {
	return s.stats, s.err
}
