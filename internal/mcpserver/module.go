// Package mcpserver exposes the ingestion service to MCP clients over
// stdio or streamable HTTP.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/flemzord/ingestd/internal/core"
	"github.com/flemzord/ingestd/internal/ingest"
	"github.com/mark3labs/mcp-go/server"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

// Version is reported to MCP clients. Set by the CLI.
var Version = "dev"

const instructions = `ingestd queues episodes for a knowledge graph, one FIFO per group.
Submit with add_episode (group_id set: queued; unset: staged with a suggestion
to confirm via confirm_pending_episode). Use the telemetry tools to diagnose
failed or slow episodes.`

// Config configures the MCP transport.
type Config struct {
	// Transport is "stdio" (default) or "http".
	Transport string `yaml:"transport"`
	Bind      string `yaml:"bind"`
	Path      string `yaml:"path"`
}

func (c *Config) defaults() {
	if c.Transport == "" {
		c.Transport = "stdio"
	}
	if c.Bind == "" {
		c.Bind = "127.0.0.1:8081"
	}
	if c.Path == "" {
		c.Path = "/mcp"
	}
}

// Module is the mcp.server module.
type Module struct {
	config Config
	appCtx *core.AppContext
	logger *slog.Logger

	// Stdin and Stdout default to the process streams.
	Stdin  io.Reader
	Stdout io.Writer

	cancel  context.CancelFunc
	httpSrv *http.Server
	done    chan struct{}
}

var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Starter      = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "mcp.server",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return err
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.appCtx = ctx
	m.logger = ctx.Logger
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	switch m.config.Transport {
	case "stdio":
	case "http":
		if _, err := net.ResolveTCPAddr("tcp", m.config.Bind); err != nil {
			return fmt.Errorf("mcp: invalid bind address %q", m.config.Bind)
		}
	default:
		return fmt.Errorf("mcp: unknown transport %q (want stdio or http)", m.config.Transport)
	}
	return nil
}

// NewServer builds the MCP server with every ingestion tool registered.
func NewServer(svc *ingest.Service) *server.MCPServer {
	s := server.NewMCPServer(
		"ingestd",
		Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)
	NewTools(svc).Register(s)
	return s
}

// Start resolves the ingestion service and serves the configured transport.
func (m *Module) Start() error {
	svc, ok := core.ServiceAs[*ingest.Service](m.appCtx, "ingest.service")
	if !ok {
		return errors.New("mcp: ingestion service not available")
	}
	s := NewServer(svc)

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	switch m.config.Transport {
	case "http":
		return m.startHTTP(s)
	default:
		m.startStdio(ctx, s)
		return nil
	}
}

func (m *Module) startStdio(ctx context.Context, s *server.MCPServer) {
	in, out := m.Stdin, m.Stdout
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	stdio := server.NewStdioServer(s)
	go func() {
		defer close(m.done)
		m.logger.Info("mcp: serving on stdio")
		if err := stdio.Listen(ctx, in, out); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("mcp: stdio server stopped", "error", err)
		}
	}()
}

func (m *Module) startHTTP(s *server.MCPServer) error {
	mux := http.NewServeMux()
	mux.Handle(m.config.Path, server.NewStreamableHTTPServer(s))
	m.httpSrv = &http.Server{Addr: m.config.Bind, Handler: mux}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", m.config.Bind)
	if err != nil {
		return fmt.Errorf("mcp: listen: %w", err)
	}
	go func() {
		defer close(m.done)
		m.logger.Info("mcp: serving streamable HTTP", "addr", ln.Addr().String(), "path", m.config.Path)
		if err := m.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("mcp: http server stopped", "error", err)
		}
	}()
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(ctx context.Context) error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	if m.httpSrv != nil {
		if err := m.httpSrv.Shutdown(ctx); err != nil {
			return fmt.Errorf("mcp: shutdown: %w", err)
		}
	}
	if m.config.Transport == "stdio" {
		// A blocked stdin read only ends with the process.
		return nil
	}
	select {
	case <-m.done:
	case <-ctx.Done():
	}
	return nil
}
