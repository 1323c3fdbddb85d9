package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// ─── Types ───────────────────────────────────────────────────────────────────

// Agent represents a registered worker identity. Agents are never
// physically deleted; termination is a status transition.
type Agent struct {
	AgentID      string   `json:"agent_id"`
	Token        string   `json:"-"`
	Capabilities []string `json:"capabilities"`
	Color        string   `json:"color"`
	Status       string   `json:"status"`
	CurrentTask  *int64   `json:"current_task,omitempty"`
	WorkingDir   string   `json:"working_directory"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`
	TerminatedAt *string  `json:"terminated_at,omitempty"`
}

// Agent statuses.
const (
	AgentCreated    = "created"
	AgentActive     = "active"
	AgentTerminated = "terminated"
)

// ─── Writes ──────────────────────────────────────────────────────────────────

// InsertAgent persists a new agent row. The caller is responsible for
// duplicate-id policy; a UNIQUE violation is reported as an error.
func (s *Store) InsertAgent(q dbtx, a Agent) error {
	caps, err := json.Marshal(a.Capabilities)
	if err != nil {
		return fmt.Errorf("store: marshal capabilities: %w", err)
	}
	_, err = q.Exec(
		`INSERT INTO agents (agent_id, token, capabilities, color, status, working_dir)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.AgentID, a.Token, string(caps), a.Color, a.Status, a.WorkingDir,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("store: agent %s: %w", a.AgentID, ErrAlreadyExists)
		}
		return fmt.Errorf("store: insert agent %s: %w", a.AgentID, err)
	}
	return nil
}

// TerminateAgent marks an agent terminated and clears its current task.
func (s *Store) TerminateAgent(q dbtx, agentID string) error {
	res, err := q.Exec(
		`UPDATE agents
		 SET status = ?, current_task = NULL,
		     terminated_at = datetime('now'), updated_at = datetime('now')
		 WHERE agent_id = ? AND status != ?`,
		AgentTerminated, agentID, AgentTerminated,
	)
	if err != nil {
		return fmt.Errorf("store: terminate agent %s: %w", agentID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAgentStatus updates an agent's lifecycle status.
func (s *Store) SetAgentStatus(q dbtx, agentID, status string) error {
	res, err := q.Exec(
		`UPDATE agents SET status = ?, updated_at = datetime('now') WHERE agent_id = ?`,
		status, agentID,
	)
	if err != nil {
		return fmt.Errorf("store: set agent status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCurrentTask points (or clears, with nil) an agent's current task.
func (s *Store) SetCurrentTask(q dbtx, agentID string, taskID *int64) error {
	res, err := q.Exec(
		`UPDATE agents SET current_task = ?, updated_at = datetime('now') WHERE agent_id = ?`,
		taskID, agentID,
	)
	if err != nil {
		return fmt.Errorf("store: set current task: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ─── Reads ───────────────────────────────────────────────────────────────────

// GetAgent retrieves an agent by id, terminated agents included.
func (s *Store) GetAgent(agentID string) (*Agent, error) {
	return scanAgent(s.db.QueryRow(
		`SELECT agent_id, token, capabilities, color, status, current_task,
		        working_dir, created_at, updated_at, terminated_at
		 FROM agents WHERE agent_id = ?`, agentID,
	))
}

// ListAgents returns all agents ordered by creation time. History is
// preserved, so terminated agents appear unless liveOnly is set.
func (s *Store) ListAgents(liveOnly bool) ([]Agent, error) {
	query := `
		SELECT agent_id, token, capabilities, color, status, current_task,
		       working_dir, created_at, updated_at, terminated_at
		FROM agents
	`
	if liveOnly {
		query += ` WHERE status != 'terminated'`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("store: list agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []Agent
	for rows.Next() {
		a, err := scanAgentRow(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *a)
	}
	return results, rows.Err()
}

// CountAgents returns the total number of agent rows, terminated included.
// Used for deterministic round-robin color assignment.
func (s *Store) CountAgents() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM agents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count agents: %w", err)
	}
	return n, nil
}

type rowLike interface {
	Scan(dest ...any) error
}

func scanAgent(row *sql.Row) (*Agent, error) {
	a, err := scanAgentRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return a, err
}

func scanAgentRow(row rowLike) (*Agent, error) {
	var a Agent
	var caps string
	if err := row.Scan(
		&a.AgentID, &a.Token, &caps, &a.Color, &a.Status, &a.CurrentTask,
		&a.WorkingDir, &a.CreatedAt, &a.UpdatedAt, &a.TerminatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(caps), &a.Capabilities); err != nil {
		a.Capabilities = nil
	}
	return &a, nil
}
