// Package gemini provides text embeddings from the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/flemzord/ingestd/internal/core"
	"github.com/flemzord/ingestd/internal/embedding"
	"github.com/flemzord/ingestd/internal/security"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

var (
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)

	_ embedding.Embedder = (*Embedder)(nil)
)

// Config holds the embedder.gemini module configuration.
type Config struct {
	APIKey string `yaml:"api_key"`
	// Model defaults to text-embedding-004.
	Model string `yaml:"model"`
	// TaskType is one of semantic_similarity (default), retrieval_document,
	// retrieval_query, classification or clustering.
	TaskType string `yaml:"task_type"`
}

func (c *Config) defaults() {
	if c.Model == "" {
		c.Model = "text-embedding-004"
	}
	if c.TaskType == "" {
		c.TaskType = "semantic_similarity"
	}
}

var taskTypes = map[string]genai.TaskType{
	"semantic_similarity": genai.TaskTypeSemanticSimilarity,
	"retrieval_document":  genai.TaskTypeRetrievalDocument,
	"retrieval_query":     genai.TaskTypeRetrievalQuery,
	"classification":      genai.TaskTypeClassification,
	"clustering":          genai.TaskTypeClustering,
}

func (c *Config) validate() error {
	if c.APIKey == "" {
		return errors.New("embedder.gemini: api_key is required")
	}
	if _, ok := taskTypes[c.TaskType]; !ok {
		return fmt.Errorf("embedder.gemini: unknown task_type %q", c.TaskType)
	}
	return nil
}

// contentEmbedder is the part of genai.EmbeddingModel the Embedder uses.
type contentEmbedder interface {
	EmbedContent(ctx context.Context, parts ...genai.Part) (*genai.EmbedContentResponse, error)
}

// Embedder embeds text with a Gemini embedding model.
type Embedder struct {
	model contentEmbedder
}

// Embed implements embedding.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, embedding.ErrEmpty
	}
	res, err := e.model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("embedder.gemini: embed: %w", err)
	}
	if res == nil || res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, errors.New("embedder.gemini: response has no embedding")
	}
	return res.Embedding.Values, nil
}

// Module is the embedder.gemini module.
type Module struct {
	config   Config
	logger   *slog.Logger
	client   *genai.Client
	embedder *Embedder
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "embedder.gemini",
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
	if err := m.config.validate(); err != nil {
		return err
	}
	if r, ok := core.ServiceAs[*security.Redactor](ctx, security.ServiceName); ok {
		r.AddLiteral(m.config.APIKey)
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(m.config.APIKey))
	if err != nil {
		return fmt.Errorf("embedder.gemini: create client: %w", err)
	}
	model := client.EmbeddingModel(m.config.Model)
	model.TaskType = taskTypes[m.config.TaskType]

	m.client = client
	m.embedder = &Embedder{model: model}
	ctx.RegisterService(embedding.ServiceName, m.embedder)
	m.logger.Info("gemini embedder provisioned", "model", m.config.Model, "task_type", m.config.TaskType)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.Close()
}
