package mcp

import (
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/toolboxhq/keygate/internal/config"
	"github.com/toolboxhq/keygate/internal/service"
)

// Config controls which tools the MCP server exposes.
type Config struct {
	Version string
	// ReadOnly drops the issue and revoke tools.
	ReadOnly bool
}

// MCPServer wraps the mcp-go server with keygate tool and resource
// registrations. It exposes license verification, the feature gate and
// aggregate stats so AI agents can answer licensing questions.
type MCPServer struct {
	licenses *service.LicenseService
	keys     *service.APIKeyService
	gate     *service.Gate
	store    service.StatsStore
	now      func() time.Time
	cfg      Config
	logger   *slog.Logger
	server   *server.MCPServer
}

// NewMCPServer creates an MCPServer over store. The returned server is ready
// to serve over stdio or HTTP.
func NewMCPServer(store config.Backend, opts service.Options, cfg Config, logger *slog.Logger) *MCPServer {
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	opts.Logger = logger
	s := &MCPServer{
		licenses: service.NewLicenseService(store, opts),
		keys:     service.NewAPIKeyService(store, opts),
		gate:     service.NewGate(store, opts.Now),
		store:    store,
		now:      opts.Now,
		cfg:      cfg,
		logger:   logger,
	}

	mcpServer := server.NewMCPServer(
		"keygate license API",
		cfg.Version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio starts the MCP server in stdio mode, for clients that launch
// keygate as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode", "read_only", s.cfg.ReadOnly)
	return server.ServeStdio(s.server)
}

// ServeHTTP starts the MCP server in Streamable HTTP mode, listening on
// the given address (e.g. ":3001").
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr, "read_only", s.cfg.ReadOnly)
	return httpServer.Start(addr)
}

func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(true),
	}
}

func mutatingAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint: boolPtr(false),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
