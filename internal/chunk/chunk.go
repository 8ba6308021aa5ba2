// Package chunk defines the unit of retrieval and the in-process corpus the
// retrieval core reads from.
//
// Chunks are produced by the ingestion collaborator (upload, text extraction
// and splitting happen upstream); this package only holds the resulting
// immutable records and the corpus version tag that query fingerprints embed.
package chunk

import (
	"sort"
	"sync"
)

// Chunk is an immutable span of document text used as the unit of retrieval.
type Chunk struct {
	ID         string // stable chunk identifier
	DocumentID string // owning document
	Text       string
	Sequence   int // position within the document
}

// Store holds the chunk corpus and its version tag.
//
// The version tag is bumped on every mutation, so cached answers keyed on an
// older tag naturally stop matching new fingerprints. No enumeration of
// affected cache entries is needed.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	mu      sync.RWMutex
	chunks  map[string]Chunk            // chunk ID → chunk
	byDoc   map[string]map[string]bool  // document ID → chunk ID set
	version uint64
}

// NewStore creates an empty chunk store with version tag 0.
func NewStore() *Store {
	return &Store{
		chunks: make(map[string]Chunk),
		byDoc:  make(map[string]map[string]bool),
	}
}

// Put inserts or replaces chunks and bumps the corpus version tag once.
// Re-putting a chunk ID replaces the prior record.
func (s *Store) Put(chunks ...Chunk) {
	if len(chunks) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range chunks {
		if prev, ok := s.chunks[c.ID]; ok && prev.DocumentID != c.DocumentID {
			delete(s.byDoc[prev.DocumentID], c.ID)
		}
		s.chunks[c.ID] = c
		set := s.byDoc[c.DocumentID]
		if set == nil {
			set = make(map[string]bool)
			s.byDoc[c.DocumentID] = set
		}
		set[c.ID] = true
	}
	s.version++
}

// Get returns the chunk with the given ID.
func (s *Store) Get(id string) (Chunk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chunks[id]
	return c, ok
}

// ByDocument returns the document's chunks ordered by sequence index.
func (s *Store) ByDocument(docID string) []Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byDoc[docID]
	out := make([]Chunk, 0, len(ids))
	for id := range ids {
		out = append(out, s.chunks[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// DeleteDocument removes all chunks of a document, bumps the version tag,
// and returns how many chunks were removed.
func (s *Store) DeleteDocument(docID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, ok := s.byDoc[docID]
	if !ok {
		return 0
	}
	for id := range ids {
		delete(s.chunks, id)
	}
	delete(s.byDoc, docID)
	s.version++
	return len(ids)
}

// All returns a snapshot of every chunk in the corpus. Used by the index
// rebuild path after a corruption check fails.
func (s *Store) All() []Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Chunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Version returns the current corpus version tag.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Len returns the number of chunks in the corpus.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}
