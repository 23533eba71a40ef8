// Package mcp exposes the query engine as Model Context Protocol tools.
package mcp

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query-gateway/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-query-gateway/pkg/services"
)

const instructions = `Each configured query has a key. Call list_queries to see the keys, their parameters ` +
	`and whether they return rows, then execute_query with the key and a parameters object.`

// Server is the gateway's MCP endpoint.
type Server struct {
	mcp    *server.MCPServer
	logger *zap.Logger

	// startTimes holds tool call start times keyed by JSON-RPC request ID.
	startTimes sync.Map
}

// NewServer creates an MCP server with list_queries and execute_query backed by engine.
func NewServer(name, version string, engine services.QueryEngine, logger *zap.Logger) *Server {
	s := &Server{logger: logger.Named("mcp")}
	s.mcp = server.NewMCPServer(
		name,
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
		server.WithHooks(s.hooks()),
	)

	tools.RegisterQueryTools(s.mcp, &tools.QueryToolDeps{
		Engine: engine,
		Logger: s.logger,
	})
	return s
}

// MCP returns the underlying MCPServer.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// Handler returns a stateless streamable HTTP transport. The caller mounts it (at /mcp).
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp, server.WithStateLess(true))
}

func (s *Server) hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(s.beforeCallTool)
	hooks.AddAfterCallTool(s.afterCallTool)
	hooks.AddOnError(s.onError)
	return hooks
}

func (s *Server) beforeCallTool(_ context.Context, id any, _ *mcp.CallToolRequest) {
	s.startTimes.Store(id, time.Now())
}

func (s *Server) afterCallTool(_ context.Context, id any, req *mcp.CallToolRequest, result *mcp.CallToolResult) {
	s.logger.Debug("Tool call completed",
		zap.String("tool", req.Params.Name),
		zap.Bool("is_error", result != nil && result.IsError),
		zap.Duration("duration", s.elapsed(id)))
}

func (s *Server) onError(_ context.Context, id any, method mcp.MCPMethod, message any, err error) {
	if method != mcp.MethodToolsCall {
		return
	}
	tool := ""
	if req, ok := message.(*mcp.CallToolRequest); ok {
		tool = req.Params.Name
	}
	s.logger.Warn("Tool call failed",
		zap.String("tool", tool),
		zap.Duration("duration", s.elapsed(id)),
		zap.Error(err))
}

func (s *Server) elapsed(id any) time.Duration {
	if v, ok := s.startTimes.LoadAndDelete(id); ok {
		return time.Since(v.(time.Time))
	}
	return 0
}
