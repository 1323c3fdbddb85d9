package store

import (
	"database/sql"
	"fmt"
)

// ContextEntry is a structured key/value record shared between agents.
// Context entries are the non-document indexing source and the first
// tier of "fresh" evidence during retrieval.
type ContextEntry struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	Author    string `json:"author"`
	UpdatedAt string `json:"updated_at"`
}

// UpsertContextEntry inserts or replaces a context entry by key.
func (s *Store) UpsertContextEntry(q dbtx, e ContextEntry) error {
	_, err := q.Exec(
		`INSERT INTO context_entries (key, value, author, updated_at)
		 VALUES (?, ?, ?, datetime('now'))
		 ON CONFLICT(key) DO UPDATE SET
		     value = excluded.value,
		     author = excluded.author,
		     updated_at = datetime('now')`,
		e.Key, e.Value, e.Author,
	)
	if err != nil {
		return fmt.Errorf("store: upsert context entry %q: %w", e.Key, err)
	}
	return nil
}

// GetContextEntry retrieves a context entry by key.
func (s *Store) GetContextEntry(key string) (*ContextEntry, error) {
	row := s.db.QueryRow(
		`SELECT key, value, author, updated_at FROM context_entries WHERE key = ?`, key,
	)
	var e ContextEntry
	if err := row.Scan(&e.Key, &e.Value, &e.Author, &e.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get context entry %q: %w", key, err)
	}
	return &e, nil
}

// RecentContextEntries returns entries updated at or after the given
// SQLite timestamp (empty since means all), newest first.
func (s *Store) RecentContextEntries(since string, limit int) ([]ContextEntry, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT key, value, author, updated_at FROM context_entries`
	var args []any
	if since != "" {
		query += ` WHERE datetime(updated_at) >= datetime(?)`
		args = append(args, since)
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: recent context entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []ContextEntry
	for rows.Next() {
		var e ContextEntry
		if err := rows.Scan(&e.Key, &e.Value, &e.Author, &e.UpdatedAt); err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// AllContextEntries returns every context entry, for the index scanner.
func (s *Store) AllContextEntries() ([]ContextEntry, error) {
	return s.RecentContextEntries("", 1<<20)
}
