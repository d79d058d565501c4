// Package mcpserver implements an MCP (Model Context Protocol) server that
// exposes the query engine and read-only pool inspection as typed tools
// over stdio JSON-RPC, for an agent front-end that wants run_query without
// speaking HTTP.
package mcpserver

import (
	"context"
	"log"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/joestump/pplxpool/internal/config"
	"github.com/joestump/pplxpool/internal/pool"
	"github.com/joestump/pplxpool/internal/query"
)

// Server holds the MCP server state: the query engine that owns run_query
// dispatch and the pool it reads for the read-only inspection tools.
type Server struct {
	engine *query.Engine
	pool   *pool.Pool
}

// NewServer creates an MCP server backed by the given engine and pool.
func NewServer(engine *query.Engine, p *pool.Pool) *Server {
	return &Server{engine: engine, pool: p}
}

// Run starts the MCP stdio server. It blocks until the context is
// cancelled or stdin is closed.
func (s *Server) Run(ctx context.Context) error {
	mcpServer := server.NewMCPServer(
		"pplxpool",
		config.Version,
		server.WithToolCapabilities(true),
	)

	tools := []server.ServerTool{
		{Tool: runQueryTool(), Handler: s.handleRunQuery},
		{Tool: listTokensTool(), Handler: s.handleListTokens},
		{Tool: getUserInfoTool(), Handler: s.handleGetUserInfo},
	}
	mcpServer.AddTools(tools...)

	stdio := server.NewStdioServer(mcpServer)
	stdio.SetErrorLogger(log.New(os.Stderr, "[mcp] ", log.LstdFlags))

	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}
