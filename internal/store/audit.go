package store

import "fmt"

// AuditEntry is one immutable row in the append-only action log.
type AuditEntry struct {
	ID         int64   `json:"id"`
	AgentID    string  `json:"agent_id"`
	ActionType string  `json:"action_type"`
	TaskID     *int64  `json:"task_id,omitempty"`
	Detail     *string `json:"detail,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

// InsertAudit appends an audit row. There is no update or delete
// counterpart — the log is append-only by construction.
func (s *Store) InsertAudit(q dbtx, e AuditEntry) (int64, error) {
	res, err := q.Exec(
		`INSERT INTO audit_log (agent_id, action_type, task_id, detail) VALUES (?, ?, ?, ?)`,
		e.AgentID, e.ActionType, e.TaskID, e.Detail,
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert audit: %w", err)
	}
	return res.LastInsertId()
}

// RecentAudit returns the newest audit rows, optionally filtered by agent.
func (s *Store) RecentAudit(agentID string, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, agent_id, action_type, task_id, detail, created_at FROM audit_log`
	var args []any
	if agentID != "" {
		query += ` WHERE agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: recent audit: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.AgentID, &e.ActionType, &e.TaskID, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}
