package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/opsloop/internal/services"
)

// Server is an MCP server backed by a service registry.
type Server struct {
	mcp    *mcp.Server
	reg    *services.Registry
	logger *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the implementation name reported to clients (default: "opsloop").
	Name string

	// Version is the implementation version (default: "dev").
	Version string

	Logger *zap.Logger
}

// DefaultConfig returns the defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "opsloop",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates a server and registers every tool.
func NewServer(reg *services.Registry, cfg *Config) (*Server, error) {
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Name == "" {
		cfg.Name = "opsloop"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		reg:    reg,
		logger: cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

// Run serves on stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}

// MCP returns the underlying SDK server, for custom transports.
func (s *Server) MCP() *mcp.Server {
	return s.mcp
}

// instrument wraps a handler with metrics and error logging.
func instrument[In, Out any](s *Server, name string, h mcp.ToolHandlerFor[In, Out]) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		res, out, err := h(ctx, req, in)
		ToolDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		result := "ok"
		if err != nil {
			result = "error"
			s.logger.Warn("tool call failed", zap.String("tool", name), zap.Error(err))
		}
		ToolInvocations.WithLabelValues(name, result).Inc()
		return res, out, err
	}
}

func textResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
	}
}
