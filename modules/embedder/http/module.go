// Package httpembed provides text embeddings from an Ollama server or an
// OpenAI-compatible embeddings API.
package httpembed

import (
	"log/slog"

	"github.com/flemzord/ingestd/internal/core"
	"github.com/flemzord/ingestd/internal/embedding"
	"github.com/flemzord/ingestd/internal/security"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
)

// Module is the embedder.http module.
type Module struct {
	config   Config
	logger   *slog.Logger
	embedder *Embedder
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "embedder.http",
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
	m.logger = ctx.Logger
	if r, ok := core.ServiceAs[*security.Redactor](ctx, security.ServiceName); ok {
		r.AddLiteral(m.config.APIKey)
	}

	m.embedder = NewEmbedder(m.config, nil)
	ctx.RegisterService(embedding.ServiceName, m.embedder)
	m.logger.Info("http embedder provisioned", "kind", m.config.Kind, "model", m.config.Model)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}
