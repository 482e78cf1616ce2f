// Package mcpserver exposes notes and the transcript pipeline as Model Context
// Protocol tools, so an assistant can read notes and feed transcripts without
// going through the HTTP API.
package mcpserver

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/notestream/internal/notestore"
	"github.com/MrWong99/notestream/internal/observe"
	"github.com/MrWong99/notestream/internal/session"
)

// Name is the implementation name announced to MCP clients.
const Name = "notestream"

// Deps holds what the tools operate on.
type Deps struct {
	Store    notestore.Store
	Sessions *session.Manager

	// Metrics is optional.
	Metrics *observe.Metrics
}

// Server wraps an MCP server with its tools registered.
type Server struct {
	mcp    *mcp.Server
	logger *slog.Logger
}

// New creates a server announcing version and registers every tool.
func New(version string, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := mcp.NewServer(&mcp.Implementation{Name: Name, Version: version}, nil)
	s.AddReceivingMiddleware(LoggingMiddleware(logger))
	RegisterTools(s, deps)
	return &Server{mcp: s, logger: logger}
}

// Run serves on stdio and blocks until the client disconnects or ctx ends.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server", "transport", "stdio")
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying server, for tests and custom transports.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}
