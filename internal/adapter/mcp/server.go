// Package mcp exposes the governance core as Model Context Protocol tools so
// agents can classify messages and audit sessions themselves.
package mcp

import (
	"context"
	"net/http"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/aopguard/internal/domain/audit"
	"github.com/Strob0t/aopguard/internal/domain/protocol"
)

// Detector classifies raw input and derives routing metadata.
type Detector interface {
	Detect(ctx context.Context, raw string) *protocol.Detection
	Route(d *protocol.Detection) protocol.Routing
}

// SessionAuditor audits and replays persisted sessions.
type SessionAuditor interface {
	RunFullAudit(ctx context.Context, sessionID string) (*audit.Report, error)
	ReplaySession(ctx context.Context, sessionID string) ([]audit.ReplayEvent, error)
}

// ServerConfig identifies the MCP server to clients.
type ServerConfig struct {
	Name    string
	Version string
	APIKey  string
}

// ServerDeps are the services behind the tools. A nil dependency makes its
// tools return an error result.
type ServerDeps struct {
	Detector Detector
	Auditor  SessionAuditor
}

// Server is the MCP tool server.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
}

// NewServer creates the MCP server and registers its tools.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithRecovery(),
		),
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// Handler returns the streamable-HTTP transport, guarded by the API key when
// one is configured.
func (s *Server) Handler() http.Handler {
	return AuthMiddleware(s.cfg.APIKey, mcpserver.NewStreamableHTTPServer(s.mcpServer))
}
