package tools

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/wrangler/internal/audit"
	"github.com/HendryAvila/wrangler/internal/indexer"
	"github.com/HendryAvila/wrangler/internal/queue"
	"github.com/HendryAvila/wrangler/internal/registry"
	"github.com/HendryAvila/wrangler/internal/retrieval"
	"github.com/HendryAvila/wrangler/internal/store"
)

// ─── context_save ────────────────────────────────────────────────────────────

// ContextSaveTool handles the context_save MCP tool.
type ContextSaveTool struct {
	reg *registry.Registry
	st  *store.Store
	q   *queue.Queue
	log *audit.Logger
	ix  *indexer.Indexer
}

// NewContextSaveTool creates a ContextSaveTool. ix may be nil when the
// indexing pipeline is not running.
func NewContextSaveTool(reg *registry.Registry, st *store.Store, q *queue.Queue, log *audit.Logger, ix *indexer.Indexer) *ContextSaveTool {
	return &ContextSaveTool{reg: reg, st: st, q: q, log: log, ix: ix}
}

// Definition returns the MCP tool definition for context_save.
func (t *ContextSaveTool) Definition() mcp.Tool {
	return mcp.NewTool("context_save",
		mcp.WithDescription(
			"Save a shared context entry under a key (decisions, conventions, "+
				"findings). Entries are visible to all agents, surface as fresh "+
				"evidence in ask, and are picked up by the knowledge index.",
		),
		mcp.WithString("token", mcp.Required(), mcp.Description("Bearer token")),
		mcp.WithString("key", mcp.Required(), mcp.Description("Entry key, e.g. \"decision/auth-library\"")),
		mcp.WithString("value", mcp.Required(), mcp.Description("Entry content")),
	)
}

// Handle processes the context_save tool call.
func (t *ContextSaveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	acting, errRes := authenticate(t.reg, req)
	if errRes != nil {
		return errRes, nil
	}
	key := req.GetString("key", "")
	value := req.GetString("value", "")
	if key == "" || value == "" {
		return mcp.NewToolResultError("'key' and 'value' are required"), nil
	}

	err := t.q.Do(ctx, func() error {
		return t.st.WithTx(func(tx *sql.Tx) error {
			if err := t.st.UpsertContextEntry(tx, store.ContextEntry{
				Key:    key,
				Value:  value,
				Author: acting.AgentID,
			}); err != nil {
				return err
			}
			return t.log.Append(tx, store.AuditEntry{
				AgentID:    acting.AgentID,
				ActionType: "context_save",
				Detail:     audit.Detail(map[string]string{"key": key}),
			})
		})
	})
	if err != nil {
		return errResult(err), nil
	}

	if t.ix != nil {
		t.ix.Nudge()
	}
	return mcp.NewToolResultText(fmt.Sprintf("Context entry %q saved.", key)), nil
}

// ─── ask ─────────────────────────────────────────────────────────────────────

// AskTool handles the ask MCP tool.
type AskTool struct {
	reg *registry.Registry
	svc *retrieval.Service
}

// NewAskTool creates an AskTool.
func NewAskTool(reg *registry.Registry, svc *retrieval.Service) *AskTool {
	return &AskTool{reg: reg, svc: svc}
}

// Definition returns the MCP tool definition for ask.
func (t *AskTool) Definition() mcp.Tool {
	return mcp.NewTool("ask",
		mcp.WithDescription(
			"Ask a question about the project. Combines fresh live records "+
				"(recent context entries, keyword-matched tasks) with semantic "+
				"search over indexed documents, then answers via the completion model.",
		),
		mcp.WithString("token", mcp.Required(), mcp.Description("Bearer token")),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural-language question")),
	)
}

// Handle processes the ask tool call.
func (t *AskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, errRes := authenticate(t.reg, req); errRes != nil {
		return errRes, nil
	}
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("'query' is required"), nil
	}

	ans, err := t.svc.Ask(ctx, query)
	if err != nil {
		return errResult(err), nil
	}

	var b strings.Builder
	b.WriteString(ans.Text)
	var notes []string
	if ans.Truncated {
		notes = append(notes, "context truncated to fit the token budget")
	}
	if !ans.VectorReady {
		notes = append(notes, "semantic index unavailable, answered from fresh evidence only")
	}
	if len(notes) > 0 {
		fmt.Fprintf(&b, "\n\n(%s)", strings.Join(notes, "; "))
	}
	return mcp.NewToolResultText(b.String()), nil
}
