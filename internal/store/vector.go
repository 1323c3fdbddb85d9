package store

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"math"
	"regexp"
	"sort"
)

// The embeddings table declares its dimensionality in a CHECK clause so
// the expected vector size survives in the table definition itself.
// migrateEmbeddings reads it back out of sqlite_master on startup: a
// mismatch with the configured dimension is a destructive migration
// (drop all vectors, reset every hash) and an unparseable definition
// marks vector search structurally unavailable.

var dimPattern = regexp.MustCompile(`length\(embedding\)\s*=\s*(\d+)\s*\*\s*4`)

func embeddingsDDL(dim int) string {
	return fmt.Sprintf(`
		CREATE TABLE rag_embeddings (
			chunk_id  INTEGER PRIMARY KEY,
			embedding BLOB NOT NULL CHECK (length(embedding) = %d * 4),
			FOREIGN KEY (chunk_id) REFERENCES rag_chunks(id) ON DELETE CASCADE
		)`, dim)
}

func (s *Store) migrateEmbeddings() error {
	var ddl string
	err := s.db.QueryRow(
		`SELECT sql FROM sqlite_master WHERE type = 'table' AND name = 'rag_embeddings'`,
	).Scan(&ddl)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.Exec(embeddingsDDL(s.cfg.EmbeddingDim)); err != nil {
			return fmt.Errorf("create rag_embeddings: %w", err)
		}
		s.vectorReady = true
		return nil

	case err != nil:
		return fmt.Errorf("inspect rag_embeddings: %w", err)
	}

	m := dimPattern.FindStringSubmatch(ddl)
	if m == nil {
		// The table exists but its declared dimension cannot be
		// determined. Vector search degrades rather than failing the
		// whole process.
		log.Printf("WARNING: rag_embeddings has no parseable dimension; vector search disabled")
		s.vectorReady = false
		return nil
	}

	var declared int
	if _, err := fmt.Sscanf(m[1], "%d", &declared); err != nil {
		s.vectorReady = false
		return nil
	}

	if declared != s.cfg.EmbeddingDim {
		log.Printf("WARNING: embedding dimension changed %d -> %d; dropping all vectors and forcing reindex",
			declared, s.cfg.EmbeddingDim)
		if err := s.resetVectors(); err != nil {
			return err
		}
	}

	s.vectorReady = true
	return nil
}

// resetVectors drops every embedding and chunk and clears all hashes
// and scan timestamps, so the next indexing cycle reprocesses the full
// corpus at the new dimensionality.
func (s *Store) resetVectors() error {
	stmts := []string{
		`DROP TABLE IF EXISTS rag_embeddings`,
		`DELETE FROM rag_chunks`,
		`DELETE FROM rag_meta WHERE key LIKE 'hash/%' OR key LIKE 'lastscan/%'`,
		embeddingsDDL(s.cfg.EmbeddingDim),
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("reset vectors: %w", err)
		}
	}
	return nil
}

// VectorReady reports whether the embeddings table is structurally
// usable. Probed once at startup and cached.
func (s *Store) VectorReady() bool {
	return s.vectorReady
}

// EmbeddingDim returns the configured vector dimensionality.
func (s *Store) EmbeddingDim() int {
	return s.cfg.EmbeddingDim
}

// ─── Vector encoding ─────────────────────────────────────────────────────────

// encodeVector packs a float32 slice as little-endian bytes.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

// ─── Nearest neighbor search ─────────────────────────────────────────────────

// ChunkHit is one KNN result: a chunk joined with its cosine distance.
type ChunkHit struct {
	RagChunk
	Distance float64 `json:"distance"`
}

// NearestChunks runs an exact k-nearest-neighbor search over the single
// embedding collection, ascending cosine distance. The collection is
// project-scale (thousands of rows), so a full scan stays cheap; reads
// never go through the write queue.
func (s *Store) NearestChunks(query []float32, k int) ([]ChunkHit, error) {
	if !s.vectorReady {
		return nil, fmt.Errorf("store: vector search unavailable")
	}
	if k <= 0 {
		k = 8
	}

	rows, err := s.db.Query(
		`SELECT c.id, c.source_type, c.source_ref, c.chunk_index, c.content, c.indexed_at, e.embedding
		 FROM rag_embeddings e
		 JOIN rag_chunks c ON c.id = e.chunk_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: knn query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []ChunkHit
	for rows.Next() {
		var h ChunkHit
		var blob []byte
		if err := rows.Scan(&h.ID, &h.SourceType, &h.SourceRef, &h.ChunkIndex, &h.Content, &h.IndexedAt, &blob); err != nil {
			return nil, err
		}
		h.Distance = cosineDistance(query, decodeVector(blob))
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2 // maximal distance for incomparable vectors
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
