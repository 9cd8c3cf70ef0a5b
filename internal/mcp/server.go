package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/quarrylabs/quarry/internal/pipeline"
)

// Server wraps the MCP server with the pipeline core it serves.
type Server struct {
	server *mcp.Server
	core   *pipeline.Core
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(core *pipeline.Core) *Server {
	impl := &mcp.Implementation{
		Name:    "quarry",
		Version: "v0.1.0",
	}

	server := mcp.NewServer(impl, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask",
		Description: "Answer a question using the ingested corpus, durable memory, and conversation history. Returns the answer plus retrieval diagnostics.",
	}, makeAskHandler(core))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ingest",
		Description: "Ingest raw document text under a source identifier. Re-ingesting a known source replaces its chunks wholesale.",
	}, makeIngestHandler(core))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "clear_task",
		Description: "Delete a task's notes and conversation history. Permanent memory is never touched.",
	}, makeClearTaskHandler(core))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_stats",
		Description: "Report index size, active index kind, and generation backend availability.",
	}, makeStatsHandler(core))

	return &Server{
		server: server,
		core:   core,
	}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
// Used by transport handlers that need to wrap the server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
