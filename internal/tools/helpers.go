// Package tools provides the MCP tool handlers for the orchestration
// and knowledge surface.
//
// Each tool handler follows the same pattern:
// - A struct with dependencies injected via constructor
// - Definition() returns the mcp.Tool schema
// - Handle() processes the request and returns a result
//
// Every tool takes a bearer `token` argument resolved against the
// agent registry; admin-only tools reject non-admin identities.
package tools

import (
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/wrangler/internal/registry"
)

// intArg extracts an integer argument from a tool request, returning
// defaultVal if the key is missing or not a number (JSON numbers are float64).
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}

// int64Arg extracts an int64 argument, returning (0, false) when absent.
func int64Arg(req mcp.CallToolRequest, key string) (int64, bool) {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return 0, false
	}
	return int64(v), true
}

// int64SliceArg extracts an array-of-numbers argument. Returns ok=false
// when the key is absent, which callers treat as "leave unchanged".
func int64SliceArg(req mcp.CallToolRequest, key string) ([]int64, bool) {
	raw, ok := req.GetArguments()[key].([]any)
	if !ok {
		return nil, false
	}
	out := make([]int64, 0, len(raw))
	for _, item := range raw {
		f, ok := item.(float64)
		if !ok {
			return nil, false
		}
		out = append(out, int64(f))
	}
	return out, true
}

// boolArg extracts a boolean argument from a tool request.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

// stringSliceArg extracts an array-of-strings argument.
func stringSliceArg(req mcp.CallToolRequest, key string) []string {
	raw, ok := req.GetArguments()[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// authenticate resolves the bearer token argument. Authorization
// failures deliberately carry no detail beyond token invalidity.
func authenticate(reg *registry.Registry, req mcp.CallToolRequest) (registry.Identity, *mcp.CallToolResult) {
	token := req.GetString("token", "")
	if token == "" {
		return registry.Identity{}, mcp.NewToolResultError("'token' is required")
	}
	id, err := reg.Resolve(token)
	if err != nil {
		return registry.Identity{}, mcp.NewToolResultError("token invalid for this operation")
	}
	return id, nil
}

// errResult maps service errors to tool error results, hiding detail
// for authorization failures.
func errResult(err error) *mcp.CallToolResult {
	if errors.Is(err, registry.ErrUnauthorized) {
		return mcp.NewToolResultError("token invalid for this operation")
	}
	return mcp.NewToolResultError(fmt.Sprintf("%v", err))
}
