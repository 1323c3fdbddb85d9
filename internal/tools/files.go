package tools

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/wrangler/internal/audit"
	"github.com/HendryAvila/wrangler/internal/claims"
	"github.com/HendryAvila/wrangler/internal/queue"
	"github.com/HendryAvila/wrangler/internal/registry"
	"github.com/HendryAvila/wrangler/internal/store"
)

// ─── file_check ──────────────────────────────────────────────────────────────

// FileCheckTool handles the file_check MCP tool.
type FileCheckTool struct {
	reg    *registry.Registry
	claims *claims.Table
}

// NewFileCheckTool creates a FileCheckTool.
func NewFileCheckTool(reg *registry.Registry, claims *claims.Table) *FileCheckTool {
	return &FileCheckTool{reg: reg, claims: claims}
}

// Definition returns the MCP tool definition for file_check.
func (t *FileCheckTool) Definition() mcp.Tool {
	return mcp.NewTool("file_check",
		mcp.WithDescription("Check whether a file path is currently claimed, and by whom."),
		mcp.WithString("token", mcp.Required(), mcp.Description("Bearer token")),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path to check")),
	)
}

// Handle processes the file_check tool call.
func (t *FileCheckTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, errRes := authenticate(t.reg, req); errRes != nil {
		return errRes, nil
	}
	path := req.GetString("path", "")
	if path == "" {
		return mcp.NewToolResultError("'path' is required"), nil
	}

	claim, held := t.claims.Check(path)
	if !held {
		return mcp.NewToolResultText(fmt.Sprintf("%s is free.", path)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"%s is held by %s (%s) since %s.", claim.Path, claim.AgentID, claim.Status, claim.ClaimedAt,
	)), nil
}

// ─── file_claim ──────────────────────────────────────────────────────────────

// FileClaimTool handles the file_claim MCP tool.
type FileClaimTool struct {
	reg    *registry.Registry
	claims *claims.Table
	st     *store.Store
	q      *queue.Queue
	log    *audit.Logger
}

// NewFileClaimTool creates a FileClaimTool.
func NewFileClaimTool(reg *registry.Registry, claims *claims.Table, st *store.Store, q *queue.Queue, log *audit.Logger) *FileClaimTool {
	return &FileClaimTool{reg: reg, claims: claims, st: st, q: q, log: log}
}

// Definition returns the MCP tool definition for file_claim.
func (t *FileClaimTool) Definition() mcp.Tool {
	return mcp.NewTool("file_claim",
		mcp.WithDescription(
			"Claim a file path (editing, reading, reviewing) or release it. "+
				"Claims are advisory: they record intent for cooperating agents, "+
				"nothing enforces them at the filesystem level.",
		),
		mcp.WithString("token", mcp.Required(), mcp.Description("Bearer token")),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path to claim")),
		mcp.WithString("status", mcp.Required(),
			mcp.Description("editing | reading | reviewing | released")),
	)
}

// Handle processes the file_claim tool call.
func (t *FileClaimTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	acting, errRes := authenticate(t.reg, req)
	if errRes != nil {
		return errRes, nil
	}
	path := req.GetString("path", "")
	status := req.GetString("status", "")
	if path == "" || status == "" {
		return mcp.NewToolResultError("'path' and 'status' are required"), nil
	}

	claim, err := t.claims.Claim(acting.AgentID, path, status)
	if err != nil {
		if errors.Is(err, claims.ErrConflict) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return errResult(err), nil
	}

	// Claims live in memory, but the attempt still lands in the audit
	// trail like every other state change.
	auditErr := t.q.Do(ctx, func() error {
		return t.st.WithTx(func(tx *sql.Tx) error {
			return t.log.Append(tx, store.AuditEntry{
				AgentID:    acting.AgentID,
				ActionType: "file_claim",
				Detail: audit.Detail(map[string]string{
					"path":   claim.Path,
					"status": status,
				}),
			})
		})
	})
	if auditErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("audit: %v", auditErr)), nil
	}

	if status == claims.StatusReleased {
		return mcp.NewToolResultText(fmt.Sprintf("%s released.", claim.Path)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"%s claimed as %s by %s.", claim.Path, claim.Status, claim.AgentID,
	)), nil
}
