// Package sqlite is the persistent store of the pipeline: telemetry,
// group registry, staged episodes and (optionally) episode content share
// one SQLite database. It uses modernc.org/sqlite (pure Go, no CGO) in
// WAL mode behind a single connection.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/flemzord/ingestd/internal/content"
	"github.com/flemzord/ingestd/internal/core"
	"github.com/flemzord/ingestd/internal/pending"
	"github.com/flemzord/ingestd/internal/registry"
	"github.com/flemzord/ingestd/internal/telemetry"
	"gopkg.in/yaml.v3"

	_ "modernc.org/sqlite" // SQLite driver registration
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ telemetry.Store   = (*TelemetryStore)(nil)
	_ registry.Store    = (*GroupStore)(nil)
	_ pending.KV        = (*PendingKV)(nil)
	_ content.Store     = (*ContentStore)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Module opens the database and registers one service per store.
type Module struct {
	config Config
	db     *sql.DB
	logger *slog.Logger

	telemetry *TelemetryStore
	groups    *GroupStore
	pending   *PendingKV
	content   *ContentStore
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "store.sqlite",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("sqlite: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	if m.config.Path == "" {
		m.config.Path = filepath.Join(ctx.DataDir, defaultDBFile)
	}

	db, err := Open(context.Background(), m.config)
	if err != nil {
		return err
	}

	m.db = db
	m.telemetry = NewTelemetryStore(db)
	m.groups = NewGroupStore(db)
	m.pending = &PendingKV{db: db}
	m.content = &ContentStore{db: db}

	ctx.RegisterService(telemetry.ServiceName, m.telemetry)
	ctx.RegisterService(registry.ServiceName, m.groups)
	ctx.RegisterService(pending.ServiceName, m.pending)
	if m.config.contentEnabled() {
		ctx.RegisterService(content.ServiceName, m.content)
	}

	m.logger.Info("sqlite store provisioned",
		"path", m.config.Path,
		"wal", m.config.walEnabled(),
		"content", m.config.contentEnabled(),
	)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if err := m.config.validate(); err != nil {
		return err
	}
	if m.db == nil {
		return nil
	}

	ctx := context.Background()
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping failed: %w", err)
	}

	var version int
	if err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}
	if version != schemaVersion() {
		return fmt.Errorf("sqlite: schema version %d, want %d", version, schemaVersion())
	}
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	if m.db == nil {
		return nil
	}
	m.logger.Info("sqlite store stopping")
	err := m.db.Close()
	m.db = nil
	return err
}

// Telemetry returns the telemetry store.
func (m *Module) Telemetry() *TelemetryStore { return m.telemetry }

// Groups returns the registry store.
func (m *Module) Groups() *GroupStore { return m.groups }

// Pending returns the pending KV.
func (m *Module) Pending() *PendingKV { return m.pending }

// Content returns the content store.
func (m *Module) Content() *ContentStore { return m.content }

// Open opens the database at cfg.Path, applies the pragmas and migrates
// the schema. The caller owns the returned handle.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	cfg.defaults()

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", cfg.Path, err)
	}

	// SQLite handles one writer at a time; limit pool to 1 connection
	// so PRAGMAs apply consistently.
	db.SetMaxOpenConns(1)

	if cfg.walEnabled() {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
		}
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
