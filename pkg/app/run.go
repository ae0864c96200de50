// Package app assembles ingestd: it loads the configuration, provisions
// the configured modules and wires the ingestion pipeline between them.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/flemzord/ingestd/internal/config"
	"github.com/flemzord/ingestd/internal/core"
	"github.com/flemzord/ingestd/internal/ingest"
	"github.com/flemzord/ingestd/internal/mcpserver"
	"github.com/flemzord/ingestd/internal/security"
	"gopkg.in/yaml.v3"
)

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// DataDir overrides the default persistent data directory.
	DataDir string

	// LogLevel sets the minimum log level. Defaults to slog.LevelInfo.
	LogLevel slog.Level

	// MCPOnly serves the MCP tools on stdio and skips the HTTP gateway.
	MCPOnly bool
}

// Instance is a fully provisioned, not yet started application.
type Instance struct {
	App     *core.App
	Context *core.AppContext
	Logger  *slog.Logger
	Modules []string

	pipeline *pipeline
}

// Service returns the ingestion service shared by the transports.
func (i *Instance) Service() *ingest.Service { return i.pipeline.service }

// Start starts every module, then the pipeline.
func (i *Instance) Start() error { return i.App.Start() }

// Stop stops the pipeline first, then modules in reverse load order.
func (i *Instance) Stop() {
	i.App.Stop()
	i.Logger.Info("shutdown complete")
}

// Build loads configuration, provisions every configured module and wires
// the pipeline. Nothing is started.
func Build(params RunParams) (*Instance, error) {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return nil, err
		}
		cfgPath = resolved
	}

	// .env next to the config file, then in the working directory. Values
	// already in the environment win.
	if err := config.LoadDotEnv(filepath.Join(filepath.Dir(cfgPath), ".env"), ".env"); err != nil {
		return nil, err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if params.MCPOnly {
		if err := stdioOnly(cfg); err != nil {
			return nil, err
		}
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	redactor := security.NewRedactor(cfg.Secrets...)
	logger := security.NewLogger(os.Stderr, params.LogLevel, redactor)

	dataDir := params.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("app: creating data dir: %w", err)
	}

	if params.Version != "" {
		mcpserver.Version = params.Version
	}

	appCtx := core.NewAppContext(logger, dataDir)
	appCtx = appCtx.WithModuleConfigs(cfg.Modules)
	appCtx.RegisterService(security.ServiceName, redactor)
	appCtx.RegisterService("config.path", cfgPath)

	application := core.NewApp(appCtx)
	ids := config.Resolve(cfg)
	if err := application.LoadModules(ids); err != nil {
		return nil, err
	}

	p, err := wirePipeline(application, appCtx, cfg.Pipeline, logger)
	if err != nil {
		application.Abort()
		return nil, err
	}

	logger.Info("ingestd ready",
		"version", params.Version,
		"commit", params.Commit,
		"config", cfgPath,
		"data_dir", dataDir,
		"modules", len(ids),
	)
	return &Instance{App: application, Context: appCtx, Logger: logger, Modules: ids, pipeline: p}, nil
}

// Run builds and starts the application and blocks until SIGINT or SIGTERM.
func Run(params RunParams) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return RunContext(ctx, params)
}

// RunContext is Run with an explicit shutdown context.
func RunContext(ctx context.Context, params RunParams) error {
	inst, err := Build(params)
	if err != nil {
		return err
	}
	if err := inst.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	inst.Logger.Info("shutdown signal received")
	inst.Stop()
	return nil
}

// stdioOnly drops the HTTP gateway and forces the MCP server onto stdio,
// adding it when the configuration does not list it.
func stdioOnly(cfg *config.Config) error {
	mcpCfg := map[string]any{}
	if node, ok := cfg.Modules["mcp.server"]; ok {
		if err := node.Decode(&mcpCfg); err != nil {
			return fmt.Errorf("app: mcp.server config: %w", err)
		}
	}
	mcpCfg["transport"] = "stdio"

	var node yaml.Node
	if err := node.Encode(mcpCfg); err != nil {
		return fmt.Errorf("app: mcp.server config: %w", err)
	}

	modules := make(map[string]yaml.Node, len(cfg.Modules)+1)
	for id, n := range cfg.Modules {
		if strings.HasPrefix(id, "gateway.") {
			continue
		}
		modules[id] = n
	}
	modules["mcp.server"] = node
	cfg.Modules = modules
	return nil
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $INGESTD_CONFIG → $XDG_CONFIG_HOME/ingestd/ingestd.yaml →
// ~/.config/ingestd/ingestd.yaml → ./ingestd.yaml
func ResolveConfigPath() (string, error) {
	var candidates []string

	if p, ok := os.LookupEnv("INGESTD_CONFIG"); ok && p != "" {
		candidates = append(candidates, p)
	}
	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "ingestd", "ingestd.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "ingestd", "ingestd.yaml"))
	}

	candidates = append(candidates, "ingestd.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfig, candidates)
}

// ErrNoConfig is returned by ResolveConfigPath when no file exists.
var ErrNoConfig = errors.New("no configuration file found")

// DefaultDataDir returns the default persistent data directory.
// Uses $XDG_DATA_HOME/ingestd if set, otherwise ~/.local/share/ingestd.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok && dir != "" {
		return filepath.Join(dir, "ingestd")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "ingestd")
}
