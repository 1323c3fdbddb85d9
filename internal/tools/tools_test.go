package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/wrangler/internal/audit"
	"github.com/HendryAvila/wrangler/internal/claims"
	"github.com/HendryAvila/wrangler/internal/queue"
	"github.com/HendryAvila/wrangler/internal/registry"
	"github.com/HendryAvila/wrangler/internal/store"
	"github.com/HendryAvila/wrangler/internal/taskgraph"
)

const adminToken = "test-admin-token"

// ─── Test helpers ────────────────────────────────────────────────────────────

type testStack struct {
	st     *store.Store
	q      *queue.Queue
	log    *audit.Logger
	reg    *registry.Registry
	engine *taskgraph.Engine
	claims *claims.Table
}

// newTestStack wires the full orchestration surface over a temp store.
func newTestStack(t *testing.T) *testStack {
	t.Helper()

	dir := t.TempDir()
	st, err := store.New(store.Config{DataDir: dir, EmbeddingDim: 4})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	q := queue.New()
	log, err := audit.New(st, dir)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	t.Cleanup(func() {
		q.Shutdown()
		log.Close()
		st.Close()
	})

	reg, err := registry.New(st, q, log, adminToken, "test-secret", nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return &testStack{
		st:     st,
		q:      q,
		log:    log,
		reg:    reg,
		engine: taskgraph.New(st, q, log, reg, nil),
		claims: claims.New(),
	}
}

// makeReq builds a mcp.CallToolRequest with the given arguments.
func makeReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// resultText extracts the text content from a tool result.
func resultText(r *mcp.CallToolResult) string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

// createAgent registers an agent through the tool surface and returns
// its bearer token.
func createAgent(t *testing.T, stack *testStack, agentID string) string {
	t.Helper()
	tool := NewAgentCreateTool(stack.reg)
	res, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"token":    adminToken,
		"agent_id": agentID,
	}))
	if err != nil {
		t.Fatalf("agent_create: %v", err)
	}
	if res.IsError {
		t.Fatalf("agent_create failed: %s", resultText(res))
	}

	text := resultText(res)
	idx := strings.Index(text, "Token: ")
	if idx < 0 {
		t.Fatalf("token missing from result: %q", text)
	}
	return strings.TrimSpace(text[idx+len("Token: "):])
}

// ─── Authorization ──────────────────────────────────────────────────────────

func TestTools_RejectBadToken(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	listTool := NewTaskListTool(stack.reg, stack.engine)
	res, err := listTool.Handle(ctx, makeReq(map[string]interface{}{"token": "bogus"}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("bogus token accepted")
	}
	if !strings.Contains(resultText(res), "token invalid") {
		t.Fatalf("authorization error should not leak detail: %q", resultText(res))
	}
}

func TestAgentCreate_AdminOnly(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	agentTok := createAgent(t, stack, "agent-1")

	tool := NewAgentCreateTool(stack.reg)
	res, err := tool.Handle(ctx, makeReq(map[string]interface{}{
		"token":    agentTok,
		"agent_id": "agent-2",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("non-admin created an agent")
	}
}

// ─── End-to-end scenario ────────────────────────────────────────────────────

// Two agents, one task, one contested file claim — the full
// orchestration flow through the tool surface.
func TestEndToEnd_TaskAndClaimFlow(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()

	agent1 := createAgent(t, stack, "agent-1")
	agent2 := createAgent(t, stack, "agent-2")

	// Admin creates root task T1 for agent-1.
	assignTool := NewTaskAssignTool(stack.reg, stack.engine)
	res, err := assignTool.Handle(ctx, makeReq(map[string]interface{}{
		"token":    adminToken,
		"agent_id": "agent-1",
		"title":    "Implement feature X",
		"priority": "high",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("task_assign: %s", resultText(res))
	}

	// agent-1 moves T1 to in_progress.
	updateTool := NewTaskUpdateTool(stack.reg, stack.engine)
	res, err = updateTool.Handle(ctx, makeReq(map[string]interface{}{
		"token":   agent1,
		"task_id": float64(1),
		"status":  "in_progress",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("task_update: %s", resultText(res))
	}

	// agent-1 claims the file as editing.
	claimTool := NewFileClaimTool(stack.reg, stack.claims, stack.st, stack.q, stack.log)
	res, err = claimTool.Handle(ctx, makeReq(map[string]interface{}{
		"token":  agent1,
		"path":   "/src/main.py",
		"status": "editing",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("file_claim: %s", resultText(res))
	}

	// agent-2 contests the same path and gets a conflict naming agent-1.
	res, err = claimTool.Handle(ctx, makeReq(map[string]interface{}{
		"token":  agent2,
		"path":   "/src/main.py",
		"status": "editing",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("conflicting claim accepted")
	}
	if !strings.Contains(resultText(res), "agent-1") {
		t.Fatalf("conflict should name the holder: %q", resultText(res))
	}

	// agent-1 releases, agent-2 succeeds.
	res, err = claimTool.Handle(ctx, makeReq(map[string]interface{}{
		"token":  agent1,
		"path":   "/src/main.py",
		"status": "released",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("release: %s", resultText(res))
	}
	res, err = claimTool.Handle(ctx, makeReq(map[string]interface{}{
		"token":  agent2,
		"path":   "/src/main.py",
		"status": "editing",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("claim after release: %s", resultText(res))
	}

	// agent-1 completes T1 with a note.
	res, err = updateTool.Handle(ctx, makeReq(map[string]interface{}{
		"token":   agent1,
		"task_id": float64(1),
		"status":  "completed",
		"note":    "done",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("complete: %s", resultText(res))
	}

	// Listing completed tasks returns T1 with the note present.
	listTool := NewTaskListTool(stack.reg, stack.engine)
	res, err = listTool.Handle(ctx, makeReq(map[string]interface{}{
		"token":  adminToken,
		"status": "completed",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("task_list: %s", resultText(res))
	}
	listing := resultText(res)
	if !strings.Contains(listing, "Implement feature X") {
		t.Fatalf("completed task missing: %q", listing)
	}
	if !strings.Contains(listing, "done") {
		t.Fatalf("completion note missing from listing: %q", listing)
	}
}

// ─── file_check ─────────────────────────────────────────────────────────────

func TestFileCheck_FreeAndHeld(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()
	agent1 := createAgent(t, stack, "agent-1")

	checkTool := NewFileCheckTool(stack.reg, stack.claims)
	res, err := checkTool.Handle(ctx, makeReq(map[string]interface{}{
		"token": agent1,
		"path":  "/src/free.go",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(resultText(res), "free") {
		t.Fatalf("expected free path: %q", resultText(res))
	}

	if _, err := stack.claims.Claim("agent-1", "/src/busy.go", claims.StatusReviewing); err != nil {
		t.Fatal(err)
	}
	res, err = checkTool.Handle(ctx, makeReq(map[string]interface{}{
		"token": agent1,
		"path":  "/src/busy.go",
	}))
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(res)
	if !strings.Contains(text, "agent-1") || !strings.Contains(text, "reviewing") {
		t.Fatalf("held claim not reported: %q", text)
	}
}

// ─── context_save ───────────────────────────────────────────────────────────

func TestContextSave_PersistsAndAudits(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()
	agent1 := createAgent(t, stack, "agent-1")

	tool := NewContextSaveTool(stack.reg, stack.st, stack.q, stack.log, nil)
	res, err := tool.Handle(ctx, makeReq(map[string]interface{}{
		"token": agent1,
		"key":   "decision/db",
		"value": "sqlite it is",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("context_save: %s", resultText(res))
	}

	entry, err := stack.st.GetContextEntry("decision/db")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Value != "sqlite it is" || entry.Author != "agent-1" {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	entries, err := stack.st.RecentAudit("agent-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range entries {
		if e.ActionType == "context_save" {
			found = true
		}
	}
	if !found {
		t.Fatal("context_save audit entry missing")
	}
}

// ─── agent_terminate ────────────────────────────────────────────────────────

func TestAgentTerminate_ReleasesClaims(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()
	agent1 := createAgent(t, stack, "agent-1")

	if _, err := stack.claims.Claim("agent-1", "/a.go", claims.StatusEditing); err != nil {
		t.Fatal(err)
	}

	tool := NewAgentTerminateTool(stack.reg, stack.claims)
	res, err := tool.Handle(ctx, makeReq(map[string]interface{}{
		"token":    adminToken,
		"agent_id": "agent-1",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError {
		t.Fatalf("terminate: %s", resultText(res))
	}

	if _, held := stack.claims.Check("/a.go"); held {
		t.Fatal("claims not released on termination")
	}

	// The old token no longer resolves.
	listTool := NewTaskListTool(stack.reg, stack.engine)
	res, err = listTool.Handle(ctx, makeReq(map[string]interface{}{"token": agent1}))
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsError {
		t.Fatal("terminated agent token still resolves")
	}
}

// ─── queue_stats ────────────────────────────────────────────────────────────

func TestQueueStats_ReportsCounters(t *testing.T) {
	stack := newTestStack(t)
	ctx := context.Background()
	createAgent(t, stack, "agent-1")

	tool := NewQueueStatsTool(stack.reg, stack.q)
	res, err := tool.Handle(ctx, makeReq(map[string]interface{}{"token": adminToken}))
	if err != nil {
		t.Fatal(err)
	}
	text := resultText(res)
	if !strings.Contains(text, "\"submitted\"") {
		t.Fatalf("stats missing: %q", text)
	}
}
