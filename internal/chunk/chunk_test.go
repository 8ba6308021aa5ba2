package chunk

import (
	"testing"
)

func TestPutAndGet(t *testing.T) {
	t.Parallel()
	s := NewStore()

	s.Put(Chunk{ID: "c1", DocumentID: "d1", Text: "hello", Sequence: 0})

	c, ok := s.Get("c1")
	if !ok {
		t.Fatal("Get(c1) missed after Put")
	}
	if c.Text != "hello" || c.DocumentID != "d1" {
		t.Errorf("Get(c1) = %+v, want text %q in document d1", c, "hello")
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestPutBumpsVersionOncePerCall(t *testing.T) {
	t.Parallel()
	s := NewStore()

	if v := s.Version(); v != 0 {
		t.Fatalf("initial Version() = %d, want 0", v)
	}

	s.Put(
		Chunk{ID: "c1", DocumentID: "d1"},
		Chunk{ID: "c2", DocumentID: "d1"},
		Chunk{ID: "c3", DocumentID: "d1"},
	)
	if v := s.Version(); v != 1 {
		t.Errorf("Version() after batched Put = %d, want 1", v)
	}

	s.Put() // empty Put must not bump
	if v := s.Version(); v != 1 {
		t.Errorf("Version() after empty Put = %d, want 1", v)
	}
}

func TestPutReplacesByID(t *testing.T) {
	t.Parallel()
	s := NewStore()

	s.Put(Chunk{ID: "c1", DocumentID: "d1", Text: "old"})
	s.Put(Chunk{ID: "c1", DocumentID: "d1", Text: "new"})

	c, _ := s.Get("c1")
	if c.Text != "new" {
		t.Errorf("Text = %q, want %q", c.Text, "new")
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d after replace, want 1", s.Len())
	}
}

func TestPutMovesChunkBetweenDocuments(t *testing.T) {
	t.Parallel()
	s := NewStore()

	s.Put(Chunk{ID: "c1", DocumentID: "d1"})
	s.Put(Chunk{ID: "c1", DocumentID: "d2"})

	if got := s.ByDocument("d1"); len(got) != 0 {
		t.Errorf("ByDocument(d1) = %v, want empty after move", got)
	}
	if got := s.ByDocument("d2"); len(got) != 1 {
		t.Errorf("ByDocument(d2) has %d chunks, want 1", len(got))
	}
}

func TestByDocumentOrder(t *testing.T) {
	t.Parallel()
	s := NewStore()

	s.Put(
		Chunk{ID: "c3", DocumentID: "d1", Sequence: 2},
		Chunk{ID: "c1", DocumentID: "d1", Sequence: 0},
		Chunk{ID: "c2", DocumentID: "d1", Sequence: 1},
		Chunk{ID: "x1", DocumentID: "d2", Sequence: 0},
	)

	got := s.ByDocument("d1")
	if len(got) != 3 {
		t.Fatalf("ByDocument(d1) has %d chunks, want 3", len(got))
	}
	for i, want := range []string{"c1", "c2", "c3"} {
		if got[i].ID != want {
			t.Errorf("ByDocument(d1)[%d].ID = %q, want %q", i, got[i].ID, want)
		}
	}
}

func TestDeleteDocument(t *testing.T) {
	t.Parallel()
	s := NewStore()

	s.Put(
		Chunk{ID: "c1", DocumentID: "d1"},
		Chunk{ID: "c2", DocumentID: "d1"},
		Chunk{ID: "x1", DocumentID: "d2"},
	)
	v := s.Version()

	if removed := s.DeleteDocument("d1"); removed != 2 {
		t.Fatalf("DeleteDocument(d1) = %d, want 2", removed)
	}
	if s.Version() != v+1 {
		t.Errorf("Version() = %d after delete, want %d", s.Version(), v+1)
	}
	if _, ok := s.Get("c1"); ok {
		t.Error("c1 still present after document delete")
	}
	if _, ok := s.Get("x1"); !ok {
		t.Error("x1 from another document was removed")
	}

	// Deleting an absent document is a no-op and must not bump the tag.
	if removed := s.DeleteDocument("d1"); removed != 0 {
		t.Errorf("second DeleteDocument(d1) = %d, want 0", removed)
	}
	if s.Version() != v+1 {
		t.Errorf("Version() bumped by no-op delete")
	}
}

func TestAllSortedByID(t *testing.T) {
	t.Parallel()
	s := NewStore()

	s.Put(
		Chunk{ID: "b", DocumentID: "d1"},
		Chunk{ID: "a", DocumentID: "d2"},
		Chunk{ID: "c", DocumentID: "d1"},
	)

	all := s.All()
	if len(all) != 3 {
		t.Fatalf("All() has %d chunks, want 3", len(all))
	}
	for i, want := range []string{"a", "b", "c"} {
		if all[i].ID != want {
			t.Errorf("All()[%d].ID = %q, want %q", i, all[i].ID, want)
		}
	}
}
