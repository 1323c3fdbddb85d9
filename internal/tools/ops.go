package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/wrangler/internal/indexer"
	"github.com/HendryAvila/wrangler/internal/queue"
	"github.com/HendryAvila/wrangler/internal/registry"
	"github.com/HendryAvila/wrangler/internal/store"
)

// ─── index_status ────────────────────────────────────────────────────────────

// IndexStatusTool handles the index_status MCP tool.
type IndexStatusTool struct {
	reg *registry.Registry
	ix  *indexer.Indexer
}

// NewIndexStatusTool creates an IndexStatusTool.
func NewIndexStatusTool(reg *registry.Registry, ix *indexer.Indexer) *IndexStatusTool {
	return &IndexStatusTool{reg: reg, ix: ix}
}

// Definition returns the MCP tool definition for index_status.
func (t *IndexStatusTool) Definition() mcp.Tool {
	return mcp.NewTool("index_status",
		mcp.WithDescription("Report knowledge-index pipeline state: last cycle, chunk/vector counts, next interval."),
		mcp.WithString("token", mcp.Required(), mcp.Description("Bearer token")),
	)
}

// Handle processes the index_status tool call.
func (t *IndexStatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, errRes := authenticate(t.reg, req); errRes != nil {
		return errRes, nil
	}
	if t.ix == nil {
		return mcp.NewToolResultText("Indexing pipeline is not running."), nil
	}

	data, err := json.MarshalIndent(t.ix.Status(), "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode status: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ─── queue_stats ─────────────────────────────────────────────────────────────

// QueueStatsTool handles the queue_stats MCP tool.
type QueueStatsTool struct {
	reg *registry.Registry
	q   *queue.Queue
}

// NewQueueStatsTool creates a QueueStatsTool.
func NewQueueStatsTool(reg *registry.Registry, q *queue.Queue) *QueueStatsTool {
	return &QueueStatsTool{reg: reg, q: q}
}

// Definition returns the MCP tool definition for queue_stats.
func (t *QueueStatsTool) Definition() mcp.Tool {
	return mcp.NewTool("queue_stats",
		mcp.WithDescription("Report write-serialization queue counters: submitted, succeeded, failed, pending, high-water mark."),
		mcp.WithString("token", mcp.Required(), mcp.Description("Bearer token")),
	)
}

// Handle processes the queue_stats tool call.
func (t *QueueStatsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, errRes := authenticate(t.reg, req); errRes != nil {
		return errRes, nil
	}

	data, err := json.MarshalIndent(t.q.Stats(), "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode stats: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ─── audit_recent ────────────────────────────────────────────────────────────

// AuditRecentTool handles the audit_recent MCP tool.
type AuditRecentTool struct {
	reg *registry.Registry
	st  *store.Store
}

// NewAuditRecentTool creates an AuditRecentTool.
func NewAuditRecentTool(reg *registry.Registry, st *store.Store) *AuditRecentTool {
	return &AuditRecentTool{reg: reg, st: st}
}

// Definition returns the MCP tool definition for audit_recent.
func (t *AuditRecentTool) Definition() mcp.Tool {
	return mcp.NewTool("audit_recent",
		mcp.WithDescription("List recent audit entries, newest first, optionally filtered by agent."),
		mcp.WithString("token", mcp.Required(), mcp.Description("Bearer token")),
		mcp.WithString("agent_id", mcp.Description("Filter by acting agent")),
		mcp.WithNumber("limit", mcp.Description("Max entries (default 20)")),
	)
}

// Handle processes the audit_recent tool call.
func (t *AuditRecentTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, errRes := authenticate(t.reg, req); errRes != nil {
		return errRes, nil
	}
	agentID := req.GetString("agent_id", "")
	limit := intArg(req, "limit", 20)

	entries, err := t.st.RecentAudit(agentID, limit)
	if err != nil {
		return errResult(err), nil
	}
	if len(entries) == 0 {
		return mcp.NewToolResultText("No audit entries."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d audit entr(ies):\n\n", len(entries))
	for _, e := range entries {
		task := ""
		if e.TaskID != nil {
			task = fmt.Sprintf(" task #%d", *e.TaskID)
		}
		detail := ""
		if e.Detail != nil {
			detail = " " + store.Truncate(*e.Detail, 200)
		}
		fmt.Fprintf(&b, "[%s] %s %s%s%s\n", e.CreatedAt, e.AgentID, e.ActionType, task, detail)
	}
	return mcp.NewToolResultText(b.String()), nil
}
