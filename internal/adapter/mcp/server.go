// Package mcp exposes MedOrch orchestration as Model Context Protocol tools
// over streamable HTTP.
package mcp

import (
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/MedOrch/internal/service"
)

// ServerConfig holds MCP server settings.
type ServerConfig struct {
	Name    string
	Version string
	Path    string // HTTP endpoint path, e.g. "/mcp"
}

// ServerDeps are the services the tools call into.
type ServerDeps struct {
	Sessions *service.Sessions
}

// Server wraps an MCP server and its streamable HTTP transport.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	http      *mcpserver.StreamableHTTPServer
}

// NewServer creates an MCP server with every tool registered.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	if cfg.Path == "" {
		cfg.Path = "/mcp"
	}
	s := &Server{cfg: cfg, deps: deps}
	s.mcpServer = mcpserver.NewMCPServer(cfg.Name, cfg.Version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithRecovery(),
		mcpserver.WithInstructions("Route medical questions to MedOrch specialists. Responses are informational and not a substitute for professional care."),
	)
	s.registerTools()
	s.http = mcpserver.NewStreamableHTTPServer(s.mcpServer,
		mcpserver.WithEndpointPath(cfg.Path),
		mcpserver.WithStateLess(true),
	)
	return s
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Handler returns the HTTP handler to mount at ServerConfig.Path.
func (s *Server) Handler() http.Handler {
	return s.http
}

// Path returns the configured endpoint path.
func (s *Server) Path() string {
	return s.cfg.Path
}
