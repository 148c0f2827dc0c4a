package mcp

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/autoflow/internal/engine"
	"github.com/rendis/autoflow/internal/scheduler"
	"github.com/rendis/autoflow/internal/store"
)

// Scheduler is the tick surface exposed as tools.
type Scheduler interface {
	Tick(ctx context.Context) (*scheduler.TickReport, error)
	Health(ctx context.Context) (*scheduler.HealthReport, error)
}

// History reads execution rows.
type History interface {
	ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]*store.Execution, error)
}

// AutoflowServerDeps holds the dependencies for creating an AutoflowServer.
type AutoflowServerDeps struct {
	Orchestrator engine.Orchestrator
	Scheduler    Scheduler
	History      History
	Version      string
	Logger       *slog.Logger
}

// AutoflowServer wraps an MCP server with autoflow tool handlers.
type AutoflowServer struct {
	orchestrator engine.Orchestrator
	scheduler    Scheduler
	history      History
	watchers     *WatchRegistry
	logger       *slog.Logger
	mcpServer    *server.MCPServer
}

// NewAutoflowServer creates a new AutoflowServer with all 4 tools registered.
func NewAutoflowServer(deps AutoflowServerDeps) *AutoflowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &AutoflowServer{
		orchestrator: deps.Orchestrator,
		scheduler:    deps.Scheduler,
		history:      deps.History,
		watchers:     NewWatchRegistry(),
		logger:       logger,
	}

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		s.watchers.Remove(session.SessionID())
	})

	mcpSrv := server.NewMCPServer(
		"autoflow",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithInstructions("Autoflow runs rule-based workflows over records. Use autoflow.run_workflow to execute a workflow now, autoflow.trigger to run one scheduler tick, autoflow.health to see what is due, and autoflow.executions to read execution history."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *AutoflowServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// HTTPHandler returns the streamable HTTP transport, served under /mcp.
func (s *AutoflowServer) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *AutoflowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Notifier returns an engine.Notifier that pushes finished executions to
// sessions watching the workflow.
func (s *AutoflowServer) Notifier() *SessionNotifier {
	return NewSessionNotifier(s.mcpServer, s.watchers)
}

func (s *AutoflowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runWorkflowTool(), Handler: s.handleRunWorkflow},
		{Tool: triggerTool(), Handler: s.handleTrigger},
		{Tool: healthTool(), Handler: s.handleHealth},
		{Tool: executionsTool(), Handler: s.handleExecutions},
	}
}

// --- Tool definitions ---

func runWorkflowTool() mcp.Tool {
	return mcp.NewTool("autoflow.run_workflow",
		mcp.WithDescription("Run a workflow now against every matching record"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to run")),
		mcp.WithBoolean("watch", mcp.Description("Receive a notification whenever this workflow finishes an execution")),
	)
}

func triggerTool() mcp.Tool {
	return mcp.NewTool("autoflow.trigger",
		mcp.WithDescription("Run one scheduler tick: due workflows and due data syncs"),
	)
}

func healthTool() mcp.Tool {
	return mcp.NewTool("autoflow.health",
		mcp.WithDescription("Count due workflows and syncs without running them"),
	)
}

func executionsTool() mcp.Tool {
	return mcp.NewTool("autoflow.executions",
		mcp.WithDescription("List executions of a workflow, newest first"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
		mcp.WithString("execution_type",
			mcp.Enum("MANUAL", "SCHEDULED", "EVENT_BASED"),
			mcp.Description("Only executions of this type"),
		),
		mcp.WithNumber("limit", mcp.Description("Maximum executions to return (default 20)")),
	)
}
