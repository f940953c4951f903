package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dcastano/ensemble/internal/engine"
	"github.com/dcastano/ensemble/internal/registry"
	"github.com/dcastano/ensemble/internal/store"
)

// EnsembleServerDeps holds the dependencies for creating an EnsembleServer.
type EnsembleServerDeps struct {
	Orchestrator *engine.Orchestrator
	Registry     registry.Registry
	Store        store.Store
	Logger       *slog.Logger
}

// EnsembleServer wraps an MCP server with ensemble-specific tool handlers.
type EnsembleServer struct {
	orchestrator *engine.Orchestrator
	registry     registry.Registry
	store        store.Store
	logger       *slog.Logger
	mcpServer    *server.MCPServer
}

// NewEnsembleServer creates a new EnsembleServer with all 5 tools registered.
func NewEnsembleServer(deps EnsembleServerDeps) *EnsembleServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &EnsembleServer{
		orchestrator: deps.Orchestrator,
		registry:     deps.Registry,
		store:        deps.Store,
		logger:       logger,
	}

	mcpSrv := server.NewMCPServer(
		"ensemble",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Ensemble is a workflow orchestration engine for planner-produced plans. Use ensemble.run to submit a plan, ensemble.status to poll progress, ensemble.cancel to stop a run, ensemble.executors to list available executors, and ensemble.query to list runs or timeline events."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *EnsembleServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *EnsembleServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 5 registered MCP tools as ServerTool entries.
func (s *EnsembleServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: cancelTool(), Handler: s.handleCancel},
		{Tool: executorsTool(), Handler: s.handleExecutors},
		{Tool: queryTool(), Handler: s.handleQuery},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("ensemble.run",
		mcp.WithDescription("Submit a workflow plan for orchestrated execution"),
		mcp.WithObject("plan", mcp.Required(), mcp.Description("Workflow plan object (original_query, strategy, stages, ...)")),
		mcp.WithString("dedupe_key", mcp.Description("Optional idempotency key; a duplicate submission returns the existing run")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("ensemble.status",
		mcp.WithDescription("Get aggregate progress for a run"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to query")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("ensemble.cancel",
		mcp.WithDescription("Cancel a running workflow. Already-dispatched tasks finish cooperatively"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to cancel")),
	)
}

func executorsTool() mcp.Tool {
	return mcp.NewTool("ensemble.executors",
		mcp.WithDescription("List registered executors with their ids, names and roles"),
		mcp.WithString("role", mcp.Description("Optional role filter (individual, synthesizer, qa)")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("ensemble.query",
		mcp.WithDescription("Query runs or timeline events"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("runs", "events"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (status, since, limit, event_type, run_id)")),
	)
}
