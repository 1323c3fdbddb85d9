// Package taskgraph implements the task dependency/priority graph and
// its status machine: task creation, hierarchy, explicit dependency
// edges with acyclicity checking, timestamped notes, and the
// current-task pointer rules.
//
// Status transitions are free-form among the five states; completed and
// cancelled are terminal by convention only. Dependencies are advisory
// metadata for planning logic, not a hard gate — but every mutation of
// the dependency set is validated against self-reference and cycles.
package taskgraph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/HendryAvila/wrangler/internal/audit"
	"github.com/HendryAvila/wrangler/internal/queue"
	"github.com/HendryAvila/wrangler/internal/registry"
	"github.com/HendryAvila/wrangler/internal/store"
)

// ErrNoParent rejects non-admin self-tasks with no explicit parent and
// no current task, preventing ungoverned root-task sprawl.
var ErrNoParent = errors.New("taskgraph: no parent task: agent has no current task and none was given")

// ErrCycle rejects dependency edges that would create a cycle.
var ErrCycle = errors.New("taskgraph: dependency would create a cycle")

// Engine is the task graph engine.
type Engine struct {
	st     *store.Store
	q      *queue.Queue
	log    *audit.Logger
	reg    *registry.Registry
	notify registry.Notify
}

// New creates a task graph engine.
func New(st *store.Store, q *queue.Queue, log *audit.Logger, reg *registry.Registry, notify registry.Notify) *Engine {
	return &Engine{st: st, q: q, log: log, reg: reg, notify: notify}
}

// AdminFields are the update_status fields only admins may touch.
type AdminFields struct {
	Title       *string
	Description *string
	Priority    *string
	AssignedTo  *string
	DependsOn   []int64 // nil means unchanged; empty slice clears
}

// ─── Creation ────────────────────────────────────────────────────────────────

// Assign creates a task for an assignee. Creating a root task (no
// parent) for another agent is admin-only.
func (e *Engine) Assign(ctx context.Context, acting registry.Identity, assignee, title, description, priority string, dependsOn []int64, parent *int64) (*store.Task, error) {
	if parent == nil && !acting.Admin && assignee != acting.AgentID {
		return nil, registry.ErrUnauthorized
	}
	return e.create(ctx, acting, assignee, title, description, priority, dependsOn, parent, false)
}

// CreateSelf creates a task for the calling agent. With no explicit
// parent, the caller's current task becomes the parent; a non-admin
// caller with neither is rejected.
func (e *Engine) CreateSelf(ctx context.Context, acting registry.Identity, title, description, priority string, dependsOn []int64, parent *int64) (*store.Task, error) {
	if parent == nil && !acting.Admin {
		agent, ok := e.reg.Get(acting.AgentID)
		if !ok {
			return nil, fmt.Errorf("taskgraph: agent %s: %w", acting.AgentID, store.ErrNotFound)
		}
		if agent.CurrentTask == nil {
			return nil, ErrNoParent
		}
		parent = agent.CurrentTask
	}
	return e.create(ctx, acting, acting.AgentID, title, description, priority, dependsOn, parent, true)
}

func (e *Engine) create(ctx context.Context, acting registry.Identity, assignee, title, description, priority string, dependsOn []int64, parent *int64, self bool) (*store.Task, error) {
	if title == "" {
		return nil, fmt.Errorf("taskgraph: title is required")
	}
	if priority == "" {
		priority = "medium"
	}
	if !store.ValidPriority(priority) {
		return nil, fmt.Errorf("taskgraph: invalid priority %q", priority)
	}

	var assignedTo *string
	if assignee != "" && assignee != registry.AdminID {
		agent, ok := e.reg.Get(assignee)
		if !ok {
			return nil, fmt.Errorf("taskgraph: assignee %s: %w", assignee, store.ErrNotFound)
		}
		if agent.Status == store.AgentTerminated {
			return nil, fmt.Errorf("taskgraph: assignee %s is terminated", assignee)
		}
		assignedTo = &assignee
	}

	action := "task_assign"
	if self {
		action = "task_create"
	}

	var id int64
	var pointerSet bool
	err := e.q.Do(ctx, func() error {
		return e.st.WithTx(func(tx *sql.Tx) error {
			if parent != nil {
				if _, err := e.st.GetTaskTx(tx, *parent); err != nil {
					return fmt.Errorf("taskgraph: parent task %d: %w", *parent, err)
				}
			}
			for _, dep := range dependsOn {
				if _, err := e.st.GetTaskTx(tx, dep); err != nil {
					return fmt.Errorf("taskgraph: dependency task %d: %w", dep, err)
				}
			}

			var err error
			id, err = e.st.InsertTask(tx, store.Task{
				Title:       title,
				Description: description,
				AssignedTo:  assignedTo,
				CreatedBy:   acting.AgentID,
				Status:      store.TaskPending,
				Priority:    priority,
				ParentID:    parent,
			})
			if err != nil {
				return err
			}
			if len(dependsOn) > 0 {
				if err := e.st.ReplaceDeps(tx, id, dependsOn); err != nil {
					return err
				}
			}

			// Assigning a task to an idle agent sets its pointer.
			if assignedTo != nil {
				if agent, ok := e.reg.Get(*assignedTo); ok && agent.CurrentTask == nil {
					if err := e.st.SetCurrentTask(tx, *assignedTo, &id); err != nil {
						return err
					}
					pointerSet = true
				}
			}

			return e.log.Append(tx, store.AuditEntry{
				AgentID:    acting.AgentID,
				ActionType: action,
				TaskID:     &id,
				Detail: audit.Detail(map[string]any{
					"title":       title,
					"assigned_to": derefOr(assignedTo, ""),
					"priority":    priority,
					"parent":      parent,
					"depends_on":  dependsOn,
				}),
			})
		})
	})
	if err != nil {
		return nil, err
	}

	if pointerSet {
		e.reg.SetCurrentTask(*assignedTo, &id)
	}

	task, err := e.st.GetTaskFull(id)
	if err != nil {
		return nil, err
	}
	e.publish("task_update", task)
	return task, nil
}

// ─── Status updates ──────────────────────────────────────────────────────────

// UpdateStatus transitions a task and optionally (admin-only) rewrites
// its metadata. The whole read-modify-write — status, transition note,
// parent outcome note, pointer maintenance, audit — runs as one queued
// unit inside a single transaction, so it can never interleave with a
// concurrent write to the same task.
func (e *Engine) UpdateStatus(ctx context.Context, acting registry.Identity, taskID int64, newStatus, note string, admin *AdminFields) (*store.Task, error) {
	if !store.ValidTaskStatus(newStatus) {
		return nil, fmt.Errorf("taskgraph: invalid status %q", newStatus)
	}
	if admin != nil && !acting.Admin {
		return nil, registry.ErrUnauthorized
	}

	type pointerChange struct {
		agentID string
		taskID  *int64
	}
	var pointerChanges []pointerChange

	err := e.q.Do(ctx, func() error {
		return e.st.WithTx(func(tx *sql.Tx) error {
			task, err := e.st.GetTaskTx(tx, taskID)
			if err != nil {
				return fmt.Errorf("taskgraph: task %d: %w", taskID, err)
			}

			fields := &AdminFields{}
			if admin != nil {
				fields = admin
			}

			if fields.Priority != nil && !store.ValidPriority(*fields.Priority) {
				return fmt.Errorf("taskgraph: invalid priority %q", *fields.Priority)
			}
			if fields.DependsOn != nil {
				if err := e.checkAcyclic(taskID, fields.DependsOn); err != nil {
					return err
				}
			}

			// Reassignment pointer rules.
			var newAssignee *string
			clearAssignee := false
			if fields.AssignedTo != nil {
				if *fields.AssignedTo == "" {
					clearAssignee = true
				} else {
					agent, ok := e.reg.Get(*fields.AssignedTo)
					if !ok || agent.Status == store.AgentTerminated {
						return fmt.Errorf("taskgraph: assignee %s: %w", derefOr(fields.AssignedTo, ""), store.ErrNotFound)
					}
					newAssignee = fields.AssignedTo
				}

				prior := task.AssignedTo
				if prior != nil && (newAssignee == nil || *prior != *newAssignee) {
					if agent, ok := e.reg.Get(*prior); ok && agent.CurrentTask != nil && *agent.CurrentTask == taskID {
						if err := e.st.SetCurrentTask(tx, *prior, nil); err != nil {
							return err
						}
						pointerChanges = append(pointerChanges, pointerChange{*prior, nil})
					}
				}
				if newAssignee != nil {
					if agent, ok := e.reg.Get(*newAssignee); ok && agent.CurrentTask == nil {
						tid := taskID
						if err := e.st.SetCurrentTask(tx, *newAssignee, &tid); err != nil {
							return err
						}
						pointerChanges = append(pointerChanges, pointerChange{*newAssignee, &tid})
					}
				}
			}

			if err := e.st.UpdateTaskFields(tx, taskID, &newStatus,
				fields.Title, fields.Description, fields.Priority, newAssignee, clearAssignee); err != nil {
				return err
			}
			if fields.DependsOn != nil {
				if err := e.st.ReplaceDeps(tx, taskID, fields.DependsOn); err != nil {
					return err
				}
			}

			// Every transition carries a note by the acting agent.
			content := note
			if content == "" {
				content = fmt.Sprintf("status changed: %s -> %s", task.Status, newStatus)
			}
			if _, err := e.st.AddNote(tx, taskID, acting.AgentID, content); err != nil {
				return err
			}

			// Terminal outcomes are recorded on the parent.
			if store.TerminalTaskStatus(newStatus) && task.ParentID != nil {
				outcome := fmt.Sprintf("child task #%d (%s) finished with status %s", taskID, task.Title, newStatus)
				if _, err := e.st.AddNote(tx, *task.ParentID, "system", outcome); err != nil {
					return err
				}
			}

			return e.log.Append(tx, store.AuditEntry{
				AgentID:    acting.AgentID,
				ActionType: "task_update",
				TaskID:     &taskID,
				Detail: audit.Detail(map[string]any{
					"from": task.Status,
					"to":   newStatus,
					"note": content,
				}),
			})
		})
	})
	if err != nil {
		return nil, err
	}

	for _, pc := range pointerChanges {
		e.reg.SetCurrentTask(pc.agentID, pc.taskID)
	}

	task, err := e.st.GetTaskFull(taskID)
	if err != nil {
		return nil, err
	}
	e.publish("task_update", task)
	return task, nil
}

// ─── Reads ───────────────────────────────────────────────────────────────────

// Get returns a task with notes, children, and dependencies.
func (e *Engine) Get(taskID int64) (*store.Task, error) {
	return e.st.GetTaskFull(taskID)
}

// List returns tasks matching the filter, with notes attached.
func (e *Engine) List(agentID, status string, limit int) ([]store.Task, error) {
	if status != "" && !store.ValidTaskStatus(status) {
		return nil, fmt.Errorf("taskgraph: invalid status %q", status)
	}
	tasks, err := e.st.ListTasks(store.ListTasksFilter{AgentID: agentID, Status: status, Limit: limit})
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		notes, err := e.st.TaskNotes(tasks[i].ID)
		if err != nil {
			return nil, err
		}
		tasks[i].Notes = notes
	}
	return tasks, nil
}

// ─── Cycle detection ─────────────────────────────────────────────────────────

// checkAcyclic rejects self-references and any dependency set that
// would let taskID reach itself through depends_on edges.
func (e *Engine) checkAcyclic(taskID int64, dependsOn []int64) error {
	deps, err := e.st.AllDeps()
	if err != nil {
		return err
	}
	deps[taskID] = dependsOn

	for _, dep := range dependsOn {
		if dep == taskID {
			return fmt.Errorf("taskgraph: task %d cannot depend on itself: %w", taskID, ErrCycle)
		}
	}

	// DFS from taskID; revisiting it means a cycle.
	visited := make(map[int64]bool)
	stack := append([]int64(nil), dependsOn...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == taskID {
			return ErrCycle
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		stack = append(stack, deps[cur]...)
	}
	return nil
}

func (e *Engine) publish(eventType string, payload any) {
	if e.notify != nil {
		e.notify(eventType, payload)
	}
}

func derefOr(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}
