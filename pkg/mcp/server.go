// Package mcp is the agent-facing surface: a Model Context Protocol
// stdio server exposing the engine as six tools. Agents define and
// validate workflows, run them buffered or streamed, poll run status,
// query stored records, and render Mermaid diagrams.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/weftlabs/weft/internal/engine"
	"github.com/weftlabs/weft/internal/execution"
	"github.com/weftlabs/weft/internal/store"
	"github.com/weftlabs/weft/internal/validation"
	"github.com/weftlabs/weft/pkg/schema"
)

// Runner is the slice of the executor the server calls. Satisfied by
// *engine.Executor and test mocks.
type Runner interface {
	Execute(ctx context.Context, p engine.RunParams) (*execution.Execution, error)
	ExecuteStream(ctx context.Context, p engine.RunParams) (<-chan schema.StreamEvent, error)
}

// WeftServerDeps holds the dependencies for creating a WeftServer.
type WeftServerDeps struct {
	Runner    Runner
	Store     store.Store
	Validator *validation.GraphValidator
	Logger    *slog.Logger
}

// WeftServer wraps an MCP server with the weft tool handlers.
type WeftServer struct {
	runner    Runner
	store     store.Store
	validator *validation.GraphValidator
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewWeftServer creates a WeftServer with all 6 tools registered.
func NewWeftServer(deps WeftServerDeps) *WeftServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &WeftServer{
		runner:    deps.Runner,
		store:     deps.Store,
		validator: deps.Validator,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"weft",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Weft is a graph-based workflow execution engine. Use weft.define to register a workflow from a graph definition, weft.validate to check one, weft.run to execute (stream:true for per-node events), weft.status to inspect a run, weft.query to list workflows/executions, and weft.render for a Mermaid diagram."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes.
func (s *WeftServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom
// transports.
func (s *WeftServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *WeftServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: renderTool(), Handler: s.handleRender},
	}
}

// --- Tool definitions ---

func defineTool() mcp.Tool {
	return mcp.NewTool("weft.define",
		mcp.WithDescription("Validate a graph definition and persist it as a workflow"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Workflow name")),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Graph definition: nodes, edges, optional entry_point")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("ID of the owning user or agent")),
		mcp.WithString("description", mcp.Description("Workflow description")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("weft.validate",
		mcp.WithDescription("Validate a stored workflow or an inline graph definition; returns errors and warnings"),
		mcp.WithString("workflow_id", mcp.Description("ID of a stored workflow to validate")),
		mcp.WithObject("definition", mcp.Description("Inline graph definition to validate instead")),
	)
}

func runTool() mcp.Tool {
	return mcp.NewTool("weft.run",
		mcp.WithDescription("Execute a stored workflow and return the run record; stream:true also returns the per-node event sequence"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to execute")),
		mcp.WithObject("input", mcp.Description("Initial input payload")),
		mcp.WithString("user_id", mcp.Description("ID of the initiating user or agent")),
		mcp.WithBoolean("stream", mcp.Description("Collect and return the node-by-node event sequence")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("weft.status",
		mcp.WithDescription("Get the record of a run, including its step records"),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("ID of the run to inspect")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("weft.query",
		mcp.WithDescription("List workflows or executions"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("workflows", "executions"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (owner_id, user_id, workflow_id, status, since, limit)")),
	)
}

func renderTool() mcp.Tool {
	return mcp.NewTool("weft.render",
		mcp.WithDescription("Render a workflow as a Mermaid flowchart; run_id overlays that run's step statuses"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to render")),
		mcp.WithString("run_id", mcp.Description("Overlay step statuses from this run")),
	)
}
