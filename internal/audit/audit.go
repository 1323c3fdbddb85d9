// Package audit provides the dual-durability action log: every
// state-changing operation appends one row to the audit_log table and
// one line to a line-delimited JSON file, so the trail survives store
// corruption. No deletion or mutation API exists.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/HendryAvila/wrangler/internal/store"
)

// Logger appends audit entries to both sinks.
type Logger struct {
	st *store.Store

	mu sync.Mutex
	f  *os.File
}

// New opens (or creates) the append-only audit.jsonl file in dataDir.
func New(st *store.Store, dataDir string) (*Logger, error) {
	path := filepath.Join(dataDir, "audit.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	return &Logger{st: st, f: f}, nil
}

// Close closes the file sink.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// Append writes the entry to the store (inside the caller's queued
// transaction) and to the journal file. The file line is written even
// if the transaction later rolls back — the journal records attempted
// intent, the table records committed state.
func (l *Logger) Append(tx *sql.Tx, e store.AuditEntry) error {
	if e.CreatedAt == "" {
		e.CreatedAt = store.Now()
	}

	id, err := l.st.InsertAudit(tx, e)
	if err != nil {
		return err
	}
	e.ID = id

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write journal: %w", err)
	}
	return nil
}

// Detail marshals a structured payload for an audit entry's detail
// column. Marshal failures degrade to a plain string rather than
// dropping the entry.
func Detail(v any) *string {
	b, err := json.Marshal(v)
	if err != nil {
		s := fmt.Sprintf("%v", v)
		return &s
	}
	s := string(b)
	return &s
}
