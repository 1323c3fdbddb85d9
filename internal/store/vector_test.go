package store_test

import (
	"database/sql"
	"testing"

	"github.com/HendryAvila/wrangler/internal/store"
)

func seedVectors(t *testing.T, s *store.Store) {
	t.Helper()
	err := s.WithTx(func(tx *sql.Tx) error {
		if err := s.ReplaceSource(tx, store.SourceDocument, "a.md",
			[]string{"about cats"}, [][]float32{{1, 0, 0, 0}}, "ha"); err != nil {
			return err
		}
		return s.ReplaceSource(tx, store.SourceDocument, "b.md",
			[]string{"about dogs"}, [][]float32{{0, 1, 0, 0}}, "hb")
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestNearestChunks_OrdersByDistance(t *testing.T) {
	s := newTestStore(t)
	seedVectors(t, s)

	hits, err := s.NearestChunks([]float32{0.9, 0.1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("hit count = %d, want 2", len(hits))
	}
	if hits[0].SourceRef != "a.md" {
		t.Fatalf("closest hit = %s, want a.md", hits[0].SourceRef)
	}
	if hits[0].Distance >= hits[1].Distance {
		t.Fatalf("hits not in ascending distance order: %f >= %f",
			hits[0].Distance, hits[1].Distance)
	}
}

func TestNearestChunks_KLimit(t *testing.T) {
	s := newTestStore(t)
	seedVectors(t, s)

	hits, err := s.NearestChunks([]float32{1, 1, 1, 1}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Fatalf("hit count = %d, want 1", len(hits))
	}
}

func TestVectorReady_AfterMigration(t *testing.T) {
	s := newTestStore(t)
	if !s.VectorReady() {
		t.Fatal("vector table should be ready after clean migration")
	}
	if s.EmbeddingDim() != 4 {
		t.Fatalf("dim = %d, want 4", s.EmbeddingDim())
	}
}

// Changing the configured dimensionality is destructive: reopening the
// store with a different dim drops every chunk, vector, and hash so the
// next cycle reindexes from scratch.
func TestDimensionMismatch_ResetsVectors(t *testing.T) {
	dir := t.TempDir()

	s1, err := store.New(store.Config{DataDir: dir, EmbeddingDim: 4})
	if err != nil {
		t.Fatal(err)
	}
	err = s1.WithTx(func(tx *sql.Tx) error {
		return s1.ReplaceSource(tx, store.SourceDocument, "a.md",
			[]string{"text"}, [][]float32{{1, 0, 0, 0}}, "h")
	})
	if err != nil {
		t.Fatal(err)
	}
	s1.Close()

	s2, err := store.New(store.Config{DataDir: dir, EmbeddingDim: 8})
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	if !s2.VectorReady() {
		t.Fatal("vector table should be rebuilt and ready")
	}
	chunks, embeddings, err := s2.ChunkCounts()
	if err != nil {
		t.Fatal(err)
	}
	if chunks != 0 || embeddings != 0 {
		t.Fatalf("counts after reset = %d chunks, %d embeddings; want 0, 0", chunks, embeddings)
	}
	hash, err := s2.SourceHash(store.SourceDocument, "a.md")
	if err != nil {
		t.Fatal(err)
	}
	if hash != "" {
		t.Fatalf("stale hash survived dimension reset: %q", hash)
	}
}

func TestReplaceSource_RejectsWrongDim(t *testing.T) {
	s := newTestStore(t)

	err := s.WithTx(func(tx *sql.Tx) error {
		return s.ReplaceSource(tx, store.SourceDocument, "bad.md",
			[]string{"text"}, [][]float32{{1, 0}}, "h")
	})
	if err == nil {
		t.Fatal("expected error storing a 2-dim vector in a 4-dim table")
	}
}
