package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// ─── Types ───────────────────────────────────────────────────────────────────

// Task is one node in the task graph.
type Task struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	AssignedTo  *string `json:"assigned_to,omitempty"`
	CreatedBy   string  `json:"created_by"`
	Status      string  `json:"status"`
	Priority    string  `json:"priority"`
	ParentID    *int64  `json:"parent_id,omitempty"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   string  `json:"updated_at"`

	// Derived, populated by GetTaskFull.
	ChildIDs  []int64 `json:"child_ids,omitempty"`
	DependsOn []int64 `json:"depends_on,omitempty"`
	Notes     []Note  `json:"notes,omitempty"`
}

// Note is a timestamped annotation on a task.
type Note struct {
	ID        int64  `json:"id"`
	TaskID    int64  `json:"task_id"`
	Author    string `json:"author"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// Task statuses.
const (
	TaskPending    = "pending"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
	TaskCancelled  = "cancelled"
	TaskFailed     = "failed"
)

// ValidTaskStatus reports whether status is one of the five task states.
func ValidTaskStatus(status string) bool {
	switch status {
	case TaskPending, TaskInProgress, TaskCompleted, TaskCancelled, TaskFailed:
		return true
	}
	return false
}

// TerminalTaskStatus reports whether status is conventionally terminal.
func TerminalTaskStatus(status string) bool {
	return status == TaskCompleted || status == TaskCancelled
}

// ValidPriority reports whether p is a recognized priority.
func ValidPriority(p string) bool {
	switch p {
	case "high", "medium", "low":
		return true
	}
	return false
}

// ListTasksFilter narrows ListTasks results.
type ListTasksFilter struct {
	AgentID string
	Status  string
	Limit   int
}

// ─── Writes ──────────────────────────────────────────────────────────────────

// InsertTask persists a new task and returns its id.
func (s *Store) InsertTask(q dbtx, t Task) (int64, error) {
	res, err := q.Exec(
		`INSERT INTO tasks (title, description, assigned_to, created_by, status, priority, parent_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.Title, t.Description, t.AssignedTo, t.CreatedBy, t.Status, t.Priority, t.ParentID,
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert task: %w", err)
	}
	return res.LastInsertId()
}

// UpdateTaskFields applies a partial update. Nil pointers leave the
// column untouched; clearing assigned_to requires clearAssignee.
func (s *Store) UpdateTaskFields(q dbtx, id int64, status, title, description, priority *string, assignedTo *string, clearAssignee bool) error {
	sets := []string{"updated_at = datetime('now')"}
	var args []any

	if status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *status)
	}
	if title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *title)
	}
	if description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *description)
	}
	if priority != nil {
		sets = append(sets, "priority = ?")
		args = append(args, *priority)
	}
	if clearAssignee {
		sets = append(sets, "assigned_to = NULL")
	} else if assignedTo != nil {
		sets = append(sets, "assigned_to = ?")
		args = append(args, *assignedTo)
	}

	args = append(args, id)
	res, err := q.Exec(`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("store: update task %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddNote appends a note to a task.
func (s *Store) AddNote(q dbtx, taskID int64, author, content string) (int64, error) {
	res, err := q.Exec(
		`INSERT INTO task_notes (task_id, author, content) VALUES (?, ?, ?)`,
		taskID, author, content,
	)
	if err != nil {
		return 0, fmt.Errorf("store: add note to task %d: %w", taskID, err)
	}
	return res.LastInsertId()
}

// ReplaceDeps swaps a task's dependency set. Acyclicity is the task
// graph engine's responsibility; the store only persists edges.
func (s *Store) ReplaceDeps(q dbtx, taskID int64, dependsOn []int64) error {
	if _, err := q.Exec(`DELETE FROM task_deps WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("store: clear deps for task %d: %w", taskID, err)
	}
	for _, dep := range dependsOn {
		if _, err := q.Exec(
			`INSERT OR IGNORE INTO task_deps (task_id, depends_on) VALUES (?, ?)`,
			taskID, dep,
		); err != nil {
			return fmt.Errorf("store: insert dep %d -> %d: %w", taskID, dep, err)
		}
	}
	return nil
}

// ─── Reads ───────────────────────────────────────────────────────────────────

// GetTask retrieves a bare task row (no notes/children/deps).
func (s *Store) GetTask(id int64) (*Task, error) {
	return s.getTask(s.db, id)
}

// GetTaskTx is GetTask inside a transaction, for queued read-modify-write units.
func (s *Store) GetTaskTx(tx *sql.Tx, id int64) (*Task, error) {
	return s.getTask(tx, id)
}

func (s *Store) getTask(q dbtx, id int64) (*Task, error) {
	row := q.QueryRow(
		`SELECT id, title, description, assigned_to, created_by, status, priority, parent_id, created_at, updated_at
		 FROM tasks WHERE id = ?`, id,
	)
	var t Task
	if err := row.Scan(
		&t.ID, &t.Title, &t.Description, &t.AssignedTo, &t.CreatedBy,
		&t.Status, &t.Priority, &t.ParentID, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get task %d: %w", id, err)
	}
	return &t, nil
}

// GetTaskFull retrieves a task with its notes, child ids, and dependency set.
func (s *Store) GetTaskFull(id int64) (*Task, error) {
	t, err := s.GetTask(id)
	if err != nil {
		return nil, err
	}
	if t.ChildIDs, err = s.ChildTaskIDs(id); err != nil {
		return nil, err
	}
	if t.DependsOn, err = s.TaskDeps(id); err != nil {
		return nil, err
	}
	if t.Notes, err = s.TaskNotes(id); err != nil {
		return nil, err
	}
	return t, nil
}

// ChildTaskIDs returns the ordered list of a task's children.
func (s *Store) ChildTaskIDs(id int64) ([]int64, error) {
	return s.queryIDs(
		`SELECT id FROM tasks WHERE parent_id = ? ORDER BY id ASC`, id,
	)
}

// TaskDeps returns a task's dependency set.
func (s *Store) TaskDeps(id int64) ([]int64, error) {
	return s.queryIDs(
		`SELECT depends_on FROM task_deps WHERE task_id = ? ORDER BY depends_on ASC`, id,
	)
}

// AllDeps returns every dependency edge as a task_id -> depends_on
// adjacency map, for cycle checking.
func (s *Store) AllDeps() (map[int64][]int64, error) {
	rows, err := s.db.Query(`SELECT task_id, depends_on FROM task_deps`)
	if err != nil {
		return nil, fmt.Errorf("store: all deps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	deps := make(map[int64][]int64)
	for rows.Next() {
		var from, to int64
		if err := rows.Scan(&from, &to); err != nil {
			return nil, err
		}
		deps[from] = append(deps[from], to)
	}
	return deps, rows.Err()
}

// TaskNotes returns a task's notes in chronological order.
func (s *Store) TaskNotes(id int64) ([]Note, error) {
	rows, err := s.db.Query(
		`SELECT id, task_id, author, content, created_at
		 FROM task_notes WHERE task_id = ? ORDER BY id ASC`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("store: notes for task %d: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	var notes []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.TaskID, &n.Author, &n.Content, &n.CreatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// ListTasks returns tasks matching the filter, most recently updated first.
func (s *Store) ListTasks(f ListTasksFilter) ([]Task, error) {
	query := `
		SELECT id, title, description, assigned_to, created_by, status, priority, parent_id, created_at, updated_at
		FROM tasks WHERE 1=1
	`
	var args []any

	if f.AgentID != "" {
		query += " AND assigned_to = ?"
		args = append(args, f.AgentID)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY updated_at DESC LIMIT ?"
	args = append(args, limit)

	return s.queryTasks(query, args...)
}

// SearchTasksKeyword returns tasks whose title or description contains
// any of the given lowercase words. Simple substring matching — this is
// the "fresh evidence" tier of hybrid retrieval, not full-text search.
func (s *Store) SearchTasksKeyword(words []string, limit int) ([]Task, error) {
	if len(words) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT id, title, description, assigned_to, created_by, status, priority, parent_id, created_at, updated_at
		FROM tasks WHERE (
	`
	var clauses []string
	var args []any
	for _, w := range words {
		clauses = append(clauses, "instr(lower(title || ' ' || description), ?) > 0")
		args = append(args, strings.ToLower(w))
	}
	query += strings.Join(clauses, " OR ") + ") ORDER BY updated_at DESC LIMIT ?"
	args = append(args, limit)

	return s.queryTasks(query, args...)
}

func (s *Store) queryTasks(query string, args ...any) ([]Task, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(
			&t.ID, &t.Title, &t.Description, &t.AssignedTo, &t.CreatedBy,
			&t.Status, &t.Priority, &t.ParentID, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

func (s *Store) queryIDs(query string, args ...any) ([]int64, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
