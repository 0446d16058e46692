// Package mcp exposes the client over the Model Context Protocol so
// agents can validate graphs and submit runs as tools.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/olumi/olumi-go/pkg/client"
)

// DecideServerDeps holds the dependencies for creating a DecideServer.
type DecideServerDeps struct {
	Client *client.Client
	Logger *slog.Logger
}

// DecideServer wraps an MCP server with decision-run tool handlers.
type DecideServer struct {
	client    *client.Client
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewDecideServer creates a DecideServer with all 4 tools registered.
func NewDecideServer(deps DecideServerDeps) *DecideServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &DecideServer{
		client: deps.Client,
		logger: logger,
	}

	mcpSrv := server.NewMCPServer(
		"olumi",
		client.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Olumi submits decision graphs to a remote analysis engine. Use decide.validate to check a graph against engine limits, decide.run to submit it for analysis, decide.probe to check backend availability, and decide.limits to read the current capacity limits."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *DecideServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *DecideServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 4 registered MCP tools as ServerTool entries.
func (s *DecideServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: probeTool(), Handler: s.handleProbe},
		{Tool: limitsTool(), Handler: s.handleLimits},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("decide.run",
		mcp.WithDescription("Submit a decision graph for analysis and wait for the result"),
		mcp.WithObject("graph", mcp.Required(), mcp.Description("Decision graph with nodes and edges")),
		mcp.WithNumber("seed", mcp.Description("Seed for deterministic analysis")),
		mcp.WithString("detail_level", mcp.Enum("quick", "standard", "deep"),
			mcp.Description("Analysis depth (default: standard)")),
		mcp.WithString("idempotency_key", mcp.Description("Explicit dedup key; defaults to the graph content hash")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("decide.validate",
		mcp.WithDescription("Validate a decision graph against current engine limits without submitting it"),
		mcp.WithObject("graph", mcp.Required(), mcp.Description("Decision graph with nodes and edges")),
	)
}

func probeTool() mcp.Tool {
	return mcp.NewTool("decide.probe",
		mcp.WithDescription("Check whether the analysis backend is reachable and which endpoints are usable"),
	)
}

func limitsTool() mcp.Tool {
	return mcp.NewTool("decide.limits",
		mcp.WithDescription("Read the engine's current capacity limits, hydrating from the backend when possible"),
		mcp.WithString("refresh", mcp.Description("Set to 'true' to force a fresh fetch")),
	)
}
