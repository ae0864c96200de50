// Package neo4j serves the content store from the knowledge graph, so the
// router and the registry see everything the engine has written.
package neo4j

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flemzord/ingestd/internal/core"
	"github.com/flemzord/ingestd/internal/security"
	"github.com/neo4j/neo4j-go-driver/v6/neo4j"
	"gopkg.in/yaml.v3"
)

// ServiceName is the registry key of the graph content store. The
// pipeline prefers it over the generic content store when both exist.
const ServiceName = "content.neo4j"

func init() {
	core.RegisterModule(&Module{})
}

var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Module is the store.neo4j module.
type Module struct {
	config Config
	logger *slog.Logger
	driver neo4j.Driver
	store  *Store
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "store.neo4j",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("neo4j: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	if r, ok := core.ServiceAs[*security.Redactor](ctx, security.ServiceName); ok {
		r.AddLiteral(m.config.Password)
	}

	driver, err := neo4j.NewDriver(m.config.URI, neo4j.BasicAuth(m.config.User, m.config.Password, ""))
	if err != nil {
		return fmt.Errorf("neo4j: create driver: %w", err)
	}
	m.driver = driver
	m.store = &Store{r: &driverRunner{driver: driver, database: m.config.Database, timeout: m.config.QueryTimeout}}

	ctx.RegisterService(ServiceName, m.store)
	m.logger.Info("neo4j content store provisioned", "uri", m.config.URI, "database", m.config.Database)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if err := m.config.validate(); err != nil {
		return err
	}
	if m.driver == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.config.QueryTimeout)
	defer cancel()
	if err := m.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("neo4j: connect %s: %w", m.config.URI, err)
	}
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(ctx context.Context) error {
	if m.driver == nil {
		return nil
	}
	m.logger.Info("neo4j content store stopping")
	return m.driver.Close(ctx)
}

// Store returns the content store.
func (m *Module) Store() *Store { return m.store }
