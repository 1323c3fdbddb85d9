package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/wrangler/internal/claims"
	"github.com/HendryAvila/wrangler/internal/registry"
)

// ─── agent_create ────────────────────────────────────────────────────────────

// AgentCreateTool handles the agent_create MCP tool.
type AgentCreateTool struct {
	reg *registry.Registry
}

// NewAgentCreateTool creates an AgentCreateTool.
func NewAgentCreateTool(reg *registry.Registry) *AgentCreateTool {
	return &AgentCreateTool{reg: reg}
}

// Definition returns the MCP tool definition for agent_create.
func (t *AgentCreateTool) Definition() mcp.Tool {
	return mcp.NewTool("agent_create",
		mcp.WithDescription(
			"Register a new agent and mint its bearer token. Admin only. "+
				"The returned token is shown exactly once — hand it to the agent process.",
		),
		mcp.WithString("token", mcp.Required(), mcp.Description("Admin bearer token")),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("Unique agent identifier")),
		mcp.WithArray("capabilities", mcp.Description("Capability tags, e.g. [\"golang\", \"frontend\"]")),
		mcp.WithString("working_directory", mcp.Description("Agent working directory (absolute path)")),
	)
}

// Handle processes the agent_create tool call.
func (t *AgentCreateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	acting, errRes := authenticate(t.reg, req)
	if errRes != nil {
		return errRes, nil
	}
	if !acting.Admin {
		return mcp.NewToolResultError("token invalid for this operation"), nil
	}

	agentID := req.GetString("agent_id", "")
	if agentID == "" {
		return mcp.NewToolResultError("'agent_id' is required"), nil
	}
	capabilities := stringSliceArg(req, "capabilities")
	workingDir := req.GetString("working_directory", "")

	agentToken, err := t.reg.Create(ctx, agentID, capabilities, workingDir)
	if err != nil {
		return errResult(err), nil
	}

	agent, _ := t.reg.Get(agentID)
	return mcp.NewToolResultText(fmt.Sprintf(
		"Agent %q registered (color %s).\nToken: %s", agentID, agent.Color, agentToken,
	)), nil
}

// ─── agent_terminate ─────────────────────────────────────────────────────────

// AgentTerminateTool handles the agent_terminate MCP tool.
type AgentTerminateTool struct {
	reg    *registry.Registry
	claims *claims.Table
}

// NewAgentTerminateTool creates an AgentTerminateTool.
func NewAgentTerminateTool(reg *registry.Registry, claims *claims.Table) *AgentTerminateTool {
	return &AgentTerminateTool{reg: reg, claims: claims}
}

// Definition returns the MCP tool definition for agent_terminate.
func (t *AgentTerminateTool) Definition() mcp.Tool {
	return mcp.NewTool("agent_terminate",
		mcp.WithDescription(
			"Terminate an agent: its token stops resolving, its file claims are "+
				"released, and its history is preserved. Admin, or the agent itself.",
		),
		mcp.WithString("token", mcp.Required(), mcp.Description("Bearer token")),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent to terminate")),
	)
}

// Handle processes the agent_terminate tool call.
func (t *AgentTerminateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	acting, errRes := authenticate(t.reg, req)
	if errRes != nil {
		return errRes, nil
	}
	agentID := req.GetString("agent_id", "")
	if agentID == "" {
		return mcp.NewToolResultError("'agent_id' is required"), nil
	}

	if err := t.reg.Terminate(ctx, acting, agentID); err != nil {
		return errResult(err), nil
	}
	released := t.claims.ReleaseAll(agentID)

	return mcp.NewToolResultText(fmt.Sprintf(
		"Agent %q terminated; %d file claim(s) released.", agentID, released,
	)), nil
}

// ─── agent_list ──────────────────────────────────────────────────────────────

// AgentListTool handles the agent_list MCP tool.
type AgentListTool struct {
	reg *registry.Registry
}

// NewAgentListTool creates an AgentListTool.
func NewAgentListTool(reg *registry.Registry) *AgentListTool {
	return &AgentListTool{reg: reg}
}

// Definition returns the MCP tool definition for agent_list.
func (t *AgentListTool) Definition() mcp.Tool {
	return mcp.NewTool("agent_list",
		mcp.WithDescription("List registered agents with status, color, and current task."),
		mcp.WithString("token", mcp.Required(), mcp.Description("Bearer token")),
		mcp.WithBoolean("include_terminated", mcp.Description("Include terminated agents (default false)")),
	)
}

// Handle processes the agent_list tool call.
func (t *AgentListTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, errRes := authenticate(t.reg, req); errRes != nil {
		return errRes, nil
	}
	includeTerminated := boolArg(req, "include_terminated", false)

	agents := t.reg.List(!includeTerminated)
	if len(agents) == 0 {
		return mcp.NewToolResultText("No agents registered."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d agent(s):\n\n", len(agents))
	for _, a := range agents {
		data, err := json.Marshal(a)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encode agent: %v", err)), nil
		}
		b.Write(data)
		b.WriteByte('\n')
	}
	return mcp.NewToolResultText(b.String()), nil
}
