// Package server wires all components and creates the MCP server
// instance.
//
// This is the composition root: it creates concrete implementations
// (store, queue, registry, engines, pipeline) and injects them into the
// tools that depend on them. No business logic lives here — only wiring
// and shutdown ordering.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/HendryAvila/wrangler/internal/audit"
	"github.com/HendryAvila/wrangler/internal/claims"
	"github.com/HendryAvila/wrangler/internal/config"
	"github.com/HendryAvila/wrangler/internal/events"
	"github.com/HendryAvila/wrangler/internal/indexer"
	"github.com/HendryAvila/wrangler/internal/provider"
	"github.com/HendryAvila/wrangler/internal/queue"
	"github.com/HendryAvila/wrangler/internal/registry"
	"github.com/HendryAvila/wrangler/internal/retrieval"
	"github.com/HendryAvila/wrangler/internal/store"
	"github.com/HendryAvila/wrangler/internal/taskgraph"
	"github.com/HendryAvila/wrangler/internal/tools"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates and configures the MCP server with every tool registered,
// starts the background indexing pipeline and the observer event
// stream, and returns a cleanup function that must be called on
// shutdown (typically via defer).
//
// Shutdown order matters: the indexer stops first so no new writes are
// produced, then the queue drains, then the audit journal and store
// close.
func New(cfg *config.Config) (*server.MCPServer, func(), error) {
	st, err := store.New(store.Config{
		DataDir:      cfg.DataDir,
		EmbeddingDim: cfg.Provider.EmbeddingDim,
	})
	if err != nil {
		return nil, noop, fmt.Errorf("opening store: %w", err)
	}

	q := queue.New()

	auditLog, err := audit.New(st, cfg.DataDir)
	if err != nil {
		q.Shutdown()
		_ = st.Close()
		return nil, noop, fmt.Errorf("opening audit journal: %w", err)
	}

	hub := events.NewHub()
	var eventSrv *http.Server
	if cfg.Events.ListenAddr != "" {
		eventSrv = hub.Serve(cfg.Events.ListenAddr)
	}

	reg, err := registry.New(st, q, auditLog, cfg.AdminToken, cfg.TokenSecret, hub.Publish)
	if err != nil {
		q.Shutdown()
		_ = auditLog.Close()
		_ = st.Close()
		return nil, noop, fmt.Errorf("loading agent registry: %w", err)
	}

	engine := taskgraph.New(st, q, auditLog, reg, hub.Publish)
	claimTable := claims.New()

	prov := provider.New(
		cfg.Provider.BaseURL,
		cfg.Provider.APIKey,
		cfg.Provider.EmbeddingModel,
		cfg.Provider.CompletionModel,
		cfg.Provider.EmbeddingDim,
	)

	ix := indexer.New(st, q, prov, cfg.Index, cfg.ProjectRoot)
	ixCtx, ixCancel := context.WithCancel(context.Background())
	ixDone := make(chan struct{})
	go func() {
		defer close(ixDone)
		ix.Run(ixCtx)
	}()

	ask := retrieval.New(st, prov, prov, cfg.Ask)

	// --- Create the MCP server ---

	s := server.NewMCPServer(
		"wrangler",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	// --- Register orchestration tools ---

	agentCreate := tools.NewAgentCreateTool(reg)
	s.AddTool(agentCreate.Definition(), agentCreate.Handle)

	agentTerminate := tools.NewAgentTerminateTool(reg, claimTable)
	s.AddTool(agentTerminate.Definition(), agentTerminate.Handle)

	agentList := tools.NewAgentListTool(reg)
	s.AddTool(agentList.Definition(), agentList.Handle)

	taskAssign := tools.NewTaskAssignTool(reg, engine)
	s.AddTool(taskAssign.Definition(), taskAssign.Handle)

	taskCreate := tools.NewTaskCreateTool(reg, engine)
	s.AddTool(taskCreate.Definition(), taskCreate.Handle)

	taskUpdate := tools.NewTaskUpdateTool(reg, engine)
	s.AddTool(taskUpdate.Definition(), taskUpdate.Handle)

	taskList := tools.NewTaskListTool(reg, engine)
	s.AddTool(taskList.Definition(), taskList.Handle)

	fileCheck := tools.NewFileCheckTool(reg, claimTable)
	s.AddTool(fileCheck.Definition(), fileCheck.Handle)

	fileClaim := tools.NewFileClaimTool(reg, claimTable, st, q, auditLog)
	s.AddTool(fileClaim.Definition(), fileClaim.Handle)

	// --- Register knowledge tools ---

	contextSave := tools.NewContextSaveTool(reg, st, q, auditLog, ix)
	s.AddTool(contextSave.Definition(), contextSave.Handle)

	askTool := tools.NewAskTool(reg, ask)
	s.AddTool(askTool.Definition(), askTool.Handle)

	// --- Register operational tools ---

	indexStatus := tools.NewIndexStatusTool(reg, ix)
	s.AddTool(indexStatus.Definition(), indexStatus.Handle)

	queueStats := tools.NewQueueStatsTool(reg, q)
	s.AddTool(queueStats.Definition(), queueStats.Handle)

	auditRecent := tools.NewAuditRecentTool(reg, st)
	s.AddTool(auditRecent.Definition(), auditRecent.Handle)

	cleanup := func() {
		ixCancel()
		select {
		case <-ixDone:
		case <-time.After(10 * time.Second):
			log.Printf("WARNING: indexing pipeline did not stop in time")
		}

		q.Shutdown()

		if eventSrv != nil {
			shutCtx, shutCancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = eventSrv.Shutdown(shutCtx)
			shutCancel()
		}

		if err := auditLog.Close(); err != nil {
			log.Printf("WARNING: audit journal close: %v", err)
		}
		if err := st.Close(); err != nil {
			log.Printf("WARNING: store close: %v", err)
		}
	}

	return s, cleanup, nil
}

// noop is the default cleanup when initialization fails partway.
func noop() {}

func serverInstructions() string {
	return `Wrangler coordinates multiple autonomous agents working on a shared project.

Every tool takes a bearer token. Agents receive theirs from agent_create
(admin only); the admin token comes from server configuration.

Conventions:
- Claim files (file_claim) before editing shared paths, release when done.
  Claims are advisory — honor them.
- Keep task status current (task_update); completing a task notifies its
  parent automatically.
- Save durable decisions and findings with context_save so other agents
  find them via ask.`
}
