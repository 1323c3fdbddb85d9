package store

import (
	"database/sql"
	"fmt"
)

// ─── Types ───────────────────────────────────────────────────────────────────

// RagChunk is a bounded span of source text stored for retrieval.
type RagChunk struct {
	ID         int64  `json:"id"`
	SourceType string `json:"source_type"`
	SourceRef  string `json:"source_ref"`
	ChunkIndex int    `json:"chunk_index"`
	Content    string `json:"content"`
	IndexedAt  string `json:"indexed_at"`
}

// Source types known to the indexing pipeline.
const (
	SourceDocument = "document"
	SourceContext  = "context"
)

// Meta key prefixes. Hash keys drive change detection; lastscan keys
// record the last successful scan per source type.
func hashKey(sourceType, sourceRef string) string { return "hash/" + sourceType + "/" + sourceRef }

// LastScanKey returns the rag_meta key for a source type's scan timestamp.
func LastScanKey(sourceType string) string { return "lastscan/" + sourceType }

// ─── Meta ────────────────────────────────────────────────────────────────────

// MetaGet returns the rag_meta value for key, or "" when absent.
func (s *Store) MetaGet(key string) (string, error) {
	var v string
	err := s.db.QueryRow(`SELECT value FROM rag_meta WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: meta get %q: %w", key, err)
	}
	return v, nil
}

// MetaSet upserts a rag_meta key.
func (s *Store) MetaSet(q dbtx, key, value string) error {
	_, err := q.Exec(
		`INSERT INTO rag_meta (key, value, updated_at) VALUES (?, ?, datetime('now'))
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("store: meta set %q: %w", key, err)
	}
	return nil
}

// SourceHash returns the stored content hash for a source, "" when the
// source has never been successfully indexed.
func (s *Store) SourceHash(sourceType, sourceRef string) (string, error) {
	return s.MetaGet(hashKey(sourceType, sourceRef))
}

// ─── Chunk lifecycle ─────────────────────────────────────────────────────────

// ReplaceSource atomically swaps a source's chunks, embeddings, and
// content hash inside one transaction. Partial provider failures never
// reach this method — the indexer only calls it once every chunk of the
// source has a vector, so a source can never be marked indexed without
// matching embeddings.
func (s *Store) ReplaceSource(tx *sql.Tx, sourceType, sourceRef string, chunks []string, vectors [][]float32, hash string) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("store: replace source %s/%s: %d chunks but %d vectors",
			sourceType, sourceRef, len(chunks), len(vectors))
	}

	if err := s.deleteSourceRows(tx, sourceType, sourceRef); err != nil {
		return err
	}

	for i, content := range chunks {
		res, err := tx.Exec(
			`INSERT INTO rag_chunks (source_type, source_ref, chunk_index, content) VALUES (?, ?, ?, ?)`,
			sourceType, sourceRef, i, content,
		)
		if err != nil {
			return fmt.Errorf("store: insert chunk %d for %s/%s: %w", i, sourceType, sourceRef, err)
		}
		chunkID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(
			`INSERT INTO rag_embeddings (chunk_id, embedding) VALUES (?, ?)`,
			chunkID, encodeVector(vectors[i]),
		); err != nil {
			return fmt.Errorf("store: insert embedding for chunk %d: %w", chunkID, err)
		}
	}

	return s.MetaSet(tx, hashKey(sourceType, sourceRef), hash)
}

// DeleteSource removes a vanished source's chunks, embeddings, and hash.
func (s *Store) DeleteSource(tx *sql.Tx, sourceType, sourceRef string) error {
	if err := s.deleteSourceRows(tx, sourceType, sourceRef); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM rag_meta WHERE key = ?`, hashKey(sourceType, sourceRef)); err != nil {
		return fmt.Errorf("store: delete hash for %s/%s: %w", sourceType, sourceRef, err)
	}
	return nil
}

func (s *Store) deleteSourceRows(q dbtx, sourceType, sourceRef string) error {
	// Embeddings first: the FK cascade only fires with foreign_keys=ON,
	// and an explicit delete keeps the pair removal visible in one place.
	if _, err := q.Exec(
		`DELETE FROM rag_embeddings WHERE chunk_id IN
		   (SELECT id FROM rag_chunks WHERE source_type = ? AND source_ref = ?)`,
		sourceType, sourceRef,
	); err != nil {
		return fmt.Errorf("store: delete embeddings for %s/%s: %w", sourceType, sourceRef, err)
	}
	if _, err := q.Exec(
		`DELETE FROM rag_chunks WHERE source_type = ? AND source_ref = ?`,
		sourceType, sourceRef,
	); err != nil {
		return fmt.Errorf("store: delete chunks for %s/%s: %w", sourceType, sourceRef, err)
	}
	return nil
}

// ─── Reads ───────────────────────────────────────────────────────────────────

// ChunksForSource returns a source's chunks in index order.
func (s *Store) ChunksForSource(sourceType, sourceRef string) ([]RagChunk, error) {
	rows, err := s.db.Query(
		`SELECT id, source_type, source_ref, chunk_index, content, indexed_at
		 FROM rag_chunks WHERE source_type = ? AND source_ref = ?
		 ORDER BY chunk_index ASC`,
		sourceType, sourceRef,
	)
	if err != nil {
		return nil, fmt.Errorf("store: chunks for %s/%s: %w", sourceType, sourceRef, err)
	}
	defer func() { _ = rows.Close() }()

	var results []RagChunk
	for rows.Next() {
		var c RagChunk
		if err := rows.Scan(&c.ID, &c.SourceType, &c.SourceRef, &c.ChunkIndex, &c.Content, &c.IndexedAt); err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// IndexedSourceRefs returns every source_ref currently holding chunks
// for the given source type, so the scanner can detect deletions.
func (s *Store) IndexedSourceRefs(sourceType string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT source_ref FROM rag_chunks WHERE source_type = ?`, sourceType,
	)
	if err != nil {
		return nil, fmt.Errorf("store: indexed refs for %s: %w", sourceType, err)
	}
	defer func() { _ = rows.Close() }()

	var refs []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// ChunkCounts returns the total chunk and embedding row counts.
func (s *Store) ChunkCounts() (chunks, embeddings int, err error) {
	if err = s.db.QueryRow(`SELECT COUNT(*) FROM rag_chunks`).Scan(&chunks); err != nil {
		return 0, 0, fmt.Errorf("store: count chunks: %w", err)
	}
	if err = s.db.QueryRow(`SELECT COUNT(*) FROM rag_embeddings`).Scan(&embeddings); err != nil {
		return 0, 0, fmt.Errorf("store: count embeddings: %w", err)
	}
	return chunks, embeddings, nil
}
