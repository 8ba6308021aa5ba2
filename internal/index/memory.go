package index

import (
	"context"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
)

// memEntry is an immutable indexed vector with its precomputed norm.
type memEntry struct {
	chunkID    string
	documentID string
	vector     []float32
	norm       float64
}

// memSnapshot is an immutable view of the index. Searches read a snapshot
// without locking; mutations build a new snapshot and swap the pointer, so a
// search in flight keeps a consistent view across concurrent deletions.
type memSnapshot struct {
	entries []memEntry
	byChunk map[string]int // chunk ID → position in entries
}

// Memory is the in-process VectorIndex: an exact brute-force scan with
// copy-on-write snapshots. Search is lock-free; Insert and DeleteByDocument
// serialize against each other.
//
// Memory is safe for concurrent use by multiple goroutines.
type Memory struct {
	dim    int
	metric Metric
	logger *slog.Logger

	mu   sync.Mutex // serializes mutations
	snap atomic.Pointer[memSnapshot]
}

// NewMemory creates an empty in-memory index for vectors of the given
// dimension.
func NewMemory(dim int, metric Metric, logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Memory{
		dim:    dim,
		metric: metric,
		logger: logger,
	}
	m.snap.Store(&memSnapshot{byChunk: make(map[string]int)})
	return m
}

// Insert adds or replaces entries. All vectors are validated against the
// index dimension before any of them is applied.
func (m *Memory) Insert(_ context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if err := checkDimension(m.dim, e.Vector); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.snap.Load()
	next := &memSnapshot{
		entries: make([]memEntry, len(old.entries), len(old.entries)+len(entries)),
		byChunk: make(map[string]int, len(old.byChunk)+len(entries)),
	}
	copy(next.entries, old.entries)
	for id, pos := range old.byChunk {
		next.byChunk[id] = pos
	}

	for _, e := range entries {
		vec := make([]float32, len(e.Vector))
		copy(vec, e.Vector)
		ent := memEntry{
			chunkID:    e.ChunkID,
			documentID: e.DocumentID,
			vector:     vec,
			norm:       norm(vec),
		}
		if pos, ok := next.byChunk[e.ChunkID]; ok {
			next.entries[pos] = ent
		} else {
			next.byChunk[e.ChunkID] = len(next.entries)
			next.entries = append(next.entries, ent)
		}
	}

	m.snap.Store(next)
	return nil
}

// DeleteByDocument removes every entry of the document and returns how many
// were removed. Searches in flight keep their pre-deletion snapshot.
func (m *Memory) DeleteByDocument(_ context.Context, documentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.snap.Load()
	next := &memSnapshot{byChunk: make(map[string]int, len(old.byChunk))}
	for _, e := range old.entries {
		if e.documentID == documentID {
			continue
		}
		next.byChunk[e.chunkID] = len(next.entries)
		next.entries = append(next.entries, e)
	}

	removed := len(old.entries) - len(next.entries)
	if removed > 0 {
		m.snap.Store(next)
		m.logger.Debug("deleted document vectors", "document_id", documentID, "removed", removed)
	}
	return removed, nil
}

// Search scans the current snapshot, partitioned across CPUs, and returns
// matches ordered by descending score with deterministic tie-breaking.
func (m *Memory) Search(_ context.Context, vector []float32, k int, minScore float64) ([]Match, error) {
	if err := checkDimension(m.dim, vector); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	snap := m.snap.Load()
	if len(snap.entries) == 0 {
		return nil, nil
	}

	queryNorm := norm(vector)
	if m.metric == MetricCosine && queryNorm == 0 {
		return nil, nil
	}

	workers := runtime.NumCPU()
	if workers > len(snap.entries) {
		workers = len(snap.entries)
	}
	stride := (len(snap.entries) + workers - 1) / workers

	partials := make(chan []Match, workers)
	for w := 0; w < workers; w++ {
		start := w * stride
		end := min(start+stride, len(snap.entries))
		go func(part []memEntry) {
			var local []Match
			for i := range part {
				e := &part[i]
				score := m.score(vector, queryNorm, e)
				if score >= minScore {
					local = append(local, Match{
						ChunkID:    e.chunkID,
						DocumentID: e.documentID,
						Score:      score,
					})
				}
			}
			partials <- local
		}(snap.entries[start:end])
	}

	var matches []Match
	for w := 0; w < workers; w++ {
		matches = append(matches, <-partials...)
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ChunkID < matches[j].ChunkID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (m *Memory) score(query []float32, queryNorm float64, e *memEntry) float64 {
	d := dot(query, e.vector)
	if m.metric == MetricDot {
		return d
	}
	if e.norm == 0 {
		return 0
	}
	return d / (queryNorm * e.norm)
}

// Len returns the number of indexed entries.
func (m *Memory) Len(_ context.Context) (int, error) {
	return len(m.snap.Load().entries), nil
}

// Verify runs an internal consistency check, returning ErrIndexCorrupt on
// the first violation. A failed check means rebuild, not repair.
func (m *Memory) Verify() error {
	snap := m.snap.Load()
	if len(snap.entries) != len(snap.byChunk) {
		return ErrIndexCorrupt
	}
	for id, pos := range snap.byChunk {
		if pos < 0 || pos >= len(snap.entries) || snap.entries[pos].chunkID != id {
			return ErrIndexCorrupt
		}
	}
	for i := range snap.entries {
		e := &snap.entries[i]
		if len(e.vector) != m.dim || math.IsNaN(e.norm) || math.IsInf(e.norm, 0) {
			return ErrIndexCorrupt
		}
	}
	return nil
}

// Close releases the index (no resources to free for the memory backend).
func (*Memory) Close() error { return nil }
