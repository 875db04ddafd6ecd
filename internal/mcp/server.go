package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/kbase/internal/app"
	"github.com/dshills/kbase/internal/logging"
)

const (
	// ServerName is the MCP server name
	ServerName = "kbase"
)

// Server wraps the MCP server with the retrieval pipeline
type Server struct {
	mcp    *server.MCPServer
	app    *app.App
	logger *zap.Logger
}

// NewServer creates a new MCP server over an assembled pipeline
func NewServer(a *app.App, version string) *Server {
	logger := logging.OrNop(a.Logger)

	mcpServer := server.NewMCPServer(
		ServerName,
		version,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		mcp:    mcpServer,
		app:    a,
		logger: logger,
	}
	s.registerTools()
	return s
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("MCP server ready, listening on stdio")
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(searchEntriesTool(), s.handleSearchEntries)
	s.mcp.AddTool(retrieveContextTool(), s.handleRetrieveContext)
	s.mcp.AddTool(reindexEntriesTool(), s.handleReindexEntries)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(createEntryTool(), s.handleCreateEntry)
	s.mcp.AddTool(updateEntryTool(), s.handleUpdateEntry)
	s.mcp.AddTool(deleteEntryTool(), s.handleDeleteEntry)
}
