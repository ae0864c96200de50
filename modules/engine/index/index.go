// Package index applies episodes by embedding their bodies and saving them
// to the local content store, which the similarity router and the group
// registry then read from.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/ingestd/internal/content"
	"github.com/flemzord/ingestd/internal/core"
	"github.com/flemzord/ingestd/internal/embedding"
	"github.com/flemzord/ingestd/internal/episode"
	"github.com/flemzord/ingestd/internal/processor"
	neo4jstore "github.com/flemzord/ingestd/modules/store/neo4j"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)

	_ processor.Engine = (*Engine)(nil)
)

// ErrNoStore is returned when require_store is set and no store module
// registered a content store.
var ErrNoStore = errors.New("engine.index: no content store available")

// Saver persists indexed episodes.
type Saver interface {
	SaveEpisode(ctx context.Context, e content.Episode) error
}

// Config holds the engine.index module configuration.
type Config struct {
	// RequireEmbeddings fails a job when the embedder errors instead of
	// saving the episode without a vector.
	RequireEmbeddings bool `yaml:"require_embeddings"`
	// RequireStore fails provisioning when no store module registered a
	// content store, instead of indexing in memory.
	RequireStore bool `yaml:"require_store"`
}

// EmbedError wraps an embedder failure.
type EmbedError struct{ Err error }

func (e *EmbedError) Error() string { return "engine.index: embed: " + e.Err.Error() }
func (e *EmbedError) Unwrap() error { return e.Err }

// ErrorType names the failure in telemetry.
func (e *EmbedError) ErrorType() string { return "EmbeddingError" }

// Engine embeds and saves episodes.
type Engine struct {
	store    Saver
	embedder embedding.Embedder
	strict   bool
	logger   *slog.Logger
}

// NewEngine returns an Engine. embedder may be nil, in which case
// episodes are saved without vectors and never route by similarity.
func NewEngine(store Saver, embedder embedding.Embedder, strict bool, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, embedder: embedder, strict: strict, logger: logger}
}

// Apply implements processor.Engine.
func (e *Engine) Apply(ctx context.Context, job episode.Job) error {
	return e.save(ctx, content.Episode{
		UUID:      job.Identity,
		Name:      job.Name,
		Content:   job.Body.Text(),
		Group:     job.Group,
		Source:    string(job.Source),
		CreatedAt: job.ReferenceTime,
	})
}

// ApplyBulk implements processor.Engine. Items are saved in order; the
// first failure stops the job so a retry resumes from a known state.
func (e *Engine) ApplyBulk(ctx context.Context, job episode.Job) error {
	for i, it := range job.Body.Items() {
		ep := content.Episode{
			UUID:      it.Identity,
			Name:      it.Name,
			Content:   it.Content,
			Group:     job.Group,
			Source:    string(it.Source),
			CreatedAt: it.ReferenceTime,
		}
		if ep.UUID == "" {
			ep.UUID = fmt.Sprintf("%s-%d", job.Identity, i)
		}
		if ep.Source == "" {
			ep.Source = string(job.Source)
		}
		if ep.CreatedAt.IsZero() {
			ep.CreatedAt = job.ReferenceTime
		}
		if err := e.save(ctx, ep); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}

func (e *Engine) save(ctx context.Context, ep content.Episode) error {
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now().UTC()
	}
	if e.embedder != nil {
		vec, err := e.embedder.Embed(ctx, ep.Content)
		switch {
		case err == nil:
			ep.Embedding = vec
		case ctx.Err() != nil:
			return ctx.Err()
		case e.strict:
			return &EmbedError{Err: err}
		default:
			e.logger.Warn("embedding failed, saving without vector",
				"uuid", ep.UUID, "group", ep.Group, "error", err)
		}
	}
	return e.store.SaveEpisode(ctx, ep)
}

// Module is the engine.index module.
type Module struct {
	config Config
	engine *Engine
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "engine.index",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	return node.Decode(&m.config)
}

// Provision implements core.Provisioner. Store and embedder modules are
// provisioned first, so their services are already registered.
func (m *Module) Provision(ctx *core.AppContext) error {
	store, ok := core.ServiceAs[content.Store](ctx, neo4jstore.ServiceName)
	if !ok {
		store, ok = core.ServiceAs[content.Store](ctx, content.ServiceName)
	}
	if !ok {
		if m.config.RequireStore {
			return ErrNoStore
		}
		ctx.Logger.Warn("engine.index: no content store configured, indexing in memory")
		mem := content.NewMemoryStore()
		ctx.RegisterService(content.ServiceName, mem)
		store = mem
	}
	emb, _ := core.ServiceAs[embedding.Embedder](ctx, embedding.ServiceName)
	if emb == nil {
		ctx.Logger.Warn("engine.index: no embedder configured, similarity routing disabled")
	}
	m.engine = NewEngine(store, emb, m.config.RequireEmbeddings, ctx.Logger)
	ctx.RegisterService(processor.EngineService, m.engine)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if m.engine == nil {
		return errors.New("engine.index: not provisioned")
	}
	return nil
}
