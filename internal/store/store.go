// Package store implements the persisted state engine for Wrangler.
//
// It uses SQLite (modernc.org/sqlite, pure Go) to hold agents, tasks,
// notes, dependency edges, the audit log, structured context entries,
// and the RAG chunk/embedding tables. A single database file backs the
// whole system; all writes are expected to arrive through the
// write-serialization queue — the store itself does not enforce that
// contract.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when an insert hits a unique constraint.
var ErrAlreadyExists = errors.New("already exists")

// ─── Config ──────────────────────────────────────────────────────────────────

// Config holds store configuration.
type Config struct {
	DataDir string

	// EmbeddingDim is the fixed dimensionality of stored vectors.
	// Changing it is destructive: all embeddings are dropped and every
	// source is scheduled for reindexing.
	EmbeddingDim int
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir:      filepath.Join(home, ".wrangler"),
		EmbeddingDim: 1536,
	}
}

// ─── Store ───────────────────────────────────────────────────────────────────

// Store is the persisted state engine backed by a single SQLite file.
type Store struct {
	db  *sql.DB
	cfg Config

	// vectorReady is probed once during migration. When false, the
	// embeddings table is structurally unusable and vector search
	// degrades to fresh-evidence-only retrieval.
	vectorReady bool
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so row helpers can run
// inside or outside a transaction.
type dbtx interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// New opens (or creates) the database file, applies pragmas, and runs
// migrations including the embedding-dimension probe.
func New(cfg Config) (*Store, error) {
	if cfg.EmbeddingDim <= 0 {
		cfg.EmbeddingDim = DefaultConfig().EmbeddingDim
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "wrangler.db")
	db, err := openDB("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// SQLite performance pragmas
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("store: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, cfg: cfg}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("store: migration: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a transaction, committing on nil error and
// rolling back otherwise. Multi-statement write units submitted to the
// serialization queue use this so a concurrent reader never observes a
// partial effect.
func (s *Store) WithTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			agent_id      TEXT PRIMARY KEY,
			token         TEXT NOT NULL UNIQUE,
			capabilities  TEXT NOT NULL DEFAULT '[]',
			color         TEXT NOT NULL,
			status        TEXT NOT NULL DEFAULT 'created',
			current_task  INTEGER,
			working_dir   TEXT NOT NULL,
			created_at    TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at    TEXT NOT NULL DEFAULT (datetime('now')),
			terminated_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status);
		CREATE INDEX IF NOT EXISTS idx_agents_token  ON agents(token);

		CREATE TABLE IF NOT EXISTS tasks (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			assigned_to TEXT,
			created_by  TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'pending',
			priority    TEXT NOT NULL DEFAULT 'medium',
			parent_id   INTEGER,
			created_at  TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at  TEXT NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (parent_id) REFERENCES tasks(id)
		);

		CREATE INDEX IF NOT EXISTS idx_tasks_assigned ON tasks(assigned_to);
		CREATE INDEX IF NOT EXISTS idx_tasks_status   ON tasks(status);
		CREATE INDEX IF NOT EXISTS idx_tasks_parent   ON tasks(parent_id);
		CREATE INDEX IF NOT EXISTS idx_tasks_updated  ON tasks(updated_at DESC);

		CREATE TABLE IF NOT EXISTS task_notes (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id    INTEGER NOT NULL,
			author     TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_notes_task ON task_notes(task_id);

		CREATE TABLE IF NOT EXISTS task_deps (
			task_id    INTEGER NOT NULL,
			depends_on INTEGER NOT NULL,
			PRIMARY KEY (task_id, depends_on),
			FOREIGN KEY (task_id)    REFERENCES tasks(id) ON DELETE CASCADE,
			FOREIGN KEY (depends_on) REFERENCES tasks(id) ON DELETE CASCADE
		);

		CREATE TABLE IF NOT EXISTS audit_log (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			agent_id    TEXT NOT NULL,
			action_type TEXT NOT NULL,
			task_id     INTEGER,
			detail      TEXT,
			created_at  TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_audit_agent   ON audit_log(agent_id);
		CREATE INDEX IF NOT EXISTS idx_audit_task    ON audit_log(task_id);
		CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at DESC);

		CREATE TABLE IF NOT EXISTS context_entries (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			author     TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_context_updated ON context_entries(updated_at DESC);

		CREATE TABLE IF NOT EXISTS rag_chunks (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			source_type TEXT NOT NULL,
			source_ref  TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content     TEXT NOT NULL,
			indexed_at  TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_chunks_source ON rag_chunks(source_type, source_ref);

		CREATE TABLE IF NOT EXISTS rag_meta (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	return s.migrateEmbeddings()
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// Truncate shortens a string to max length with ellipsis.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// isUniqueViolation checks if an error is a SQLite UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Now returns the current time formatted for SQLite.
func Now() string {
	return time.Now().UTC().Format("2006-01-02 15:04:05")
}
