package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/wrangler/internal/registry"
	"github.com/HendryAvila/wrangler/internal/taskgraph"
)

// ─── task_assign ─────────────────────────────────────────────────────────────

// TaskAssignTool handles the task_assign MCP tool.
type TaskAssignTool struct {
	reg    *registry.Registry
	engine *taskgraph.Engine
}

// NewTaskAssignTool creates a TaskAssignTool.
func NewTaskAssignTool(reg *registry.Registry, engine *taskgraph.Engine) *TaskAssignTool {
	return &TaskAssignTool{reg: reg, engine: engine}
}

// Definition returns the MCP tool definition for task_assign.
func (t *TaskAssignTool) Definition() mcp.Tool {
	return mcp.NewTool("task_assign",
		mcp.WithDescription(
			"Assign a task to an agent. Creating a root task (no parent) for "+
				"another agent requires the admin token.",
		),
		mcp.WithString("token", mcp.Required(), mcp.Description("Bearer token")),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("Assignee agent id")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Task title")),
		mcp.WithString("description", mcp.Description("Task description")),
		mcp.WithString("priority", mcp.Description("high | medium | low (default medium)")),
		mcp.WithNumber("parent", mcp.Description("Parent task id")),
		mcp.WithArray("depends_on", mcp.Description("Task ids this task depends on (advisory)")),
	)
}

// Handle processes the task_assign tool call.
func (t *TaskAssignTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	acting, errRes := authenticate(t.reg, req)
	if errRes != nil {
		return errRes, nil
	}

	assignee := req.GetString("agent_id", "")
	title := req.GetString("title", "")
	if assignee == "" || title == "" {
		return mcp.NewToolResultError("'agent_id' and 'title' are required"), nil
	}
	description := req.GetString("description", "")
	priority := req.GetString("priority", "medium")
	dependsOn, _ := int64SliceArg(req, "depends_on")
	var parent *int64
	if p, ok := int64Arg(req, "parent"); ok {
		parent = &p
	}

	task, err := t.engine.Assign(ctx, acting, assignee, title, description, priority, dependsOn, parent)
	if err != nil {
		return errResult(err), nil
	}
	return taskResult(fmt.Sprintf("Task #%d assigned to %s.", task.ID, assignee), task)
}

// ─── task_create ─────────────────────────────────────────────────────────────

// TaskCreateTool handles the task_create MCP tool.
type TaskCreateTool struct {
	reg    *registry.Registry
	engine *taskgraph.Engine
}

// NewTaskCreateTool creates a TaskCreateTool.
func NewTaskCreateTool(reg *registry.Registry, engine *taskgraph.Engine) *TaskCreateTool {
	return &TaskCreateTool{reg: reg, engine: engine}
}

// Definition returns the MCP tool definition for task_create.
func (t *TaskCreateTool) Definition() mcp.Tool {
	return mcp.NewTool("task_create",
		mcp.WithDescription(
			"Create a task for yourself. Defaults the parent to your current "+
				"task; non-admin callers with neither a parent nor a current task are rejected.",
		),
		mcp.WithString("token", mcp.Required(), mcp.Description("Bearer token")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Task title")),
		mcp.WithString("description", mcp.Description("Task description")),
		mcp.WithString("priority", mcp.Description("high | medium | low (default medium)")),
		mcp.WithNumber("parent", mcp.Description("Parent task id (defaults to your current task)")),
		mcp.WithArray("depends_on", mcp.Description("Task ids this task depends on (advisory)")),
	)
}

// Handle processes the task_create tool call.
func (t *TaskCreateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	acting, errRes := authenticate(t.reg, req)
	if errRes != nil {
		return errRes, nil
	}

	title := req.GetString("title", "")
	if title == "" {
		return mcp.NewToolResultError("'title' is required"), nil
	}
	description := req.GetString("description", "")
	priority := req.GetString("priority", "medium")
	dependsOn, _ := int64SliceArg(req, "depends_on")
	var parent *int64
	if p, ok := int64Arg(req, "parent"); ok {
		parent = &p
	}

	task, err := t.engine.CreateSelf(ctx, acting, title, description, priority, dependsOn, parent)
	if err != nil {
		return errResult(err), nil
	}
	return taskResult(fmt.Sprintf("Task #%d created.", task.ID), task)
}

// ─── task_update ─────────────────────────────────────────────────────────────

// TaskUpdateTool handles the task_update MCP tool.
type TaskUpdateTool struct {
	reg    *registry.Registry
	engine *taskgraph.Engine
}

// NewTaskUpdateTool creates a TaskUpdateTool.
func NewTaskUpdateTool(reg *registry.Registry, engine *taskgraph.Engine) *TaskUpdateTool {
	return &TaskUpdateTool{reg: reg, engine: engine}
}

// Definition returns the MCP tool definition for task_update.
func (t *TaskUpdateTool) Definition() mcp.Tool {
	return mcp.NewTool("task_update",
		mcp.WithDescription(
			"Update a task's status with an optional note. Title, description, "+
				"priority, assignee, and dependency edits require the admin token. "+
				"Completing or cancelling a task notifies its parent with a system note.",
		),
		mcp.WithString("token", mcp.Required(), mcp.Description("Bearer token")),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("Task id")),
		mcp.WithString("status", mcp.Required(),
			mcp.Description("pending | in_progress | completed | cancelled | failed")),
		mcp.WithString("note", mcp.Description("Transition note (defaults to a status-change note)")),
		mcp.WithString("title", mcp.Description("New title (admin only)")),
		mcp.WithString("description", mcp.Description("New description (admin only)")),
		mcp.WithString("priority", mcp.Description("New priority (admin only)")),
		mcp.WithString("assigned_to", mcp.Description("Reassign to agent id, empty to unassign (admin only)")),
		mcp.WithArray("depends_on", mcp.Description("Replace dependency set (admin only)")),
	)
}

// Handle processes the task_update tool call.
func (t *TaskUpdateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	acting, errRes := authenticate(t.reg, req)
	if errRes != nil {
		return errRes, nil
	}

	taskID, ok := int64Arg(req, "task_id")
	if !ok {
		return mcp.NewToolResultError("'task_id' is required"), nil
	}
	status := req.GetString("status", "")
	if status == "" {
		return mcp.NewToolResultError("'status' is required"), nil
	}
	note := req.GetString("note", "")

	admin := adminFields(req)

	task, err := t.engine.UpdateStatus(ctx, acting, taskID, status, note, admin)
	if err != nil {
		return errResult(err), nil
	}
	return taskResult(fmt.Sprintf("Task #%d updated to %s.", task.ID, task.Status), task)
}

// adminFields collects the admin-only edit arguments; nil when none set.
func adminFields(req mcp.CallToolRequest) *taskgraph.AdminFields {
	var af taskgraph.AdminFields
	set := false

	for key, dst := range map[string]**string{
		"title":       &af.Title,
		"description": &af.Description,
		"priority":    &af.Priority,
	} {
		if _, present := req.GetArguments()[key]; present {
			v := req.GetString(key, "")
			*dst = &v
			set = true
		}
	}
	if _, present := req.GetArguments()["assigned_to"]; present {
		v := req.GetString("assigned_to", "")
		af.AssignedTo = &v
		set = true
	}
	if deps, ok := int64SliceArg(req, "depends_on"); ok {
		if deps == nil {
			deps = []int64{}
		}
		af.DependsOn = deps
		set = true
	}

	if !set {
		return nil
	}
	return &af
}

// ─── task_list ───────────────────────────────────────────────────────────────

// TaskListTool handles the task_list MCP tool.
type TaskListTool struct {
	reg    *registry.Registry
	engine *taskgraph.Engine
}

// NewTaskListTool creates a TaskListTool.
func NewTaskListTool(reg *registry.Registry, engine *taskgraph.Engine) *TaskListTool {
	return &TaskListTool{reg: reg, engine: engine}
}

// Definition returns the MCP tool definition for task_list.
func (t *TaskListTool) Definition() mcp.Tool {
	return mcp.NewTool("task_list",
		mcp.WithDescription("List tasks, optionally filtered by assignee and/or status."),
		mcp.WithString("token", mcp.Required(), mcp.Description("Bearer token")),
		mcp.WithString("agent_id", mcp.Description("Filter by assignee")),
		mcp.WithString("status", mcp.Description("Filter by status")),
		mcp.WithNumber("limit", mcp.Description("Max results (default 50)")),
	)
}

// Handle processes the task_list tool call.
func (t *TaskListTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, errRes := authenticate(t.reg, req); errRes != nil {
		return errRes, nil
	}

	agentID := req.GetString("agent_id", "")
	status := req.GetString("status", "")
	limit := intArg(req, "limit", 50)

	tasks, err := t.engine.List(agentID, status, limit)
	if err != nil {
		return errResult(err), nil
	}
	if len(tasks) == 0 {
		return mcp.NewToolResultText("No tasks match."), nil
	}

	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode tasks: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// taskResult renders a confirmation line plus the task as JSON.
func taskResult(summary string, task any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode task: %v", err)), nil
	}
	return mcp.NewToolResultText(summary + "\n" + string(data)), nil
}
