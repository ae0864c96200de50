// Package remote applies episodes by posting them to an external knowledge
// engine over HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/flemzord/ingestd/internal/core"
	"github.com/flemzord/ingestd/internal/episode"
	"github.com/flemzord/ingestd/internal/processor"
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

	_ processor.Engine = (*Engine)(nil)
)

// maxErrorBodySize caps how much of an error response body is kept.
const maxErrorBodySize = 4096

// Config holds the engine.remote module configuration.
type Config struct {
	// URL is the engine base URL; episodes go to {URL}/episodes.
	URL     string            `yaml:"url"`
	Token   string            `yaml:"token"`
	Headers map[string]string `yaml:"headers"`
	Timeout string            `yaml:"timeout"`
}

func (c *Config) defaults() {
	if c.Timeout == "" {
		c.Timeout = "120s"
	}
}

func (c *Config) parsedTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

func (c *Config) validate() error {
	if c.URL == "" {
		return errors.New("engine.remote: url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("engine.remote: invalid url %q", c.URL)
	}
	if _, err := time.ParseDuration(c.Timeout); err != nil {
		return fmt.Errorf("engine.remote: invalid timeout %q: %w", c.Timeout, err)
	}
	return nil
}

// StatusError is a non-2xx answer from the engine.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("engine.remote: HTTP %d: %s", e.Code, e.Body)
}

// ErrorType names the failure in telemetry.
func (e *StatusError) ErrorType() string {
	return fmt.Sprintf("HTTP%d", e.Code)
}

// episodePayload is the wire form of a single episode.
type episodePayload struct {
	Name              string          `json:"name"`
	Body              string          `json:"episode_body"`
	Source            string          `json:"source"`
	SourceDescription string          `json:"source_description,omitempty"`
	ReferenceTime     time.Time       `json:"reference_time"`
	UUID              string          `json:"uuid"`
	GroupID           string          `json:"group_id"`
	Tags              []string        `json:"tags,omitempty"`
	Labels            []string        `json:"labels,omitempty"`
	ExtractionHints   json.RawMessage `json:"extraction_hints,omitempty"`
}

// bulkPayload is the wire form of a bulk submission.
type bulkPayload struct {
	Name            string           `json:"name"`
	UUID            string           `json:"uuid"`
	GroupID         string           `json:"group_id"`
	Episodes        []episodePayload `json:"episodes"`
	ExtractionHints json.RawMessage  `json:"extraction_hints,omitempty"`
}

// Engine posts jobs to the remote engine.
type Engine struct {
	config Config
	client *http.Client
}

// NewEngine returns an Engine for cfg. A nil client uses one with the
// configured timeout.
func NewEngine(cfg Config, client *http.Client) *Engine {
	cfg.defaults()
	if client == nil {
		client = &http.Client{Timeout: cfg.parsedTimeout()}
	}
	return &Engine{config: cfg, client: client}
}

// Apply implements processor.Engine.
func (e *Engine) Apply(ctx context.Context, job episode.Job) error {
	return e.post(ctx, "/episodes", single(job))
}

// ApplyBulk implements processor.Engine.
func (e *Engine) ApplyBulk(ctx context.Context, job episode.Job) error {
	items := job.Body.Items()
	p := bulkPayload{
		Name:            job.Name,
		UUID:            job.Identity,
		GroupID:         job.Group,
		Episodes:        make([]episodePayload, 0, len(items)),
		ExtractionHints: job.ExtractionHints,
	}
	for i, it := range items {
		ep := episodePayload{
			Name:              it.Name,
			Body:              it.Content,
			Source:            string(job.Source),
			SourceDescription: it.SourceDescription,
			ReferenceTime:     it.ReferenceTime,
			UUID:              it.Identity,
			GroupID:           job.Group,
			Tags:              job.Tags,
			Labels:            job.Labels,
		}
		if it.Source != "" {
			ep.Source = string(it.Source)
		}
		if ep.SourceDescription == "" {
			ep.SourceDescription = job.SourceDescription
		}
		if ep.ReferenceTime.IsZero() {
			ep.ReferenceTime = job.ReferenceTime
		}
		if ep.UUID == "" {
			ep.UUID = fmt.Sprintf("%s-%d", job.Identity, i)
		}
		p.Episodes = append(p.Episodes, ep)
	}
	return e.post(ctx, "/episodes/bulk", p)
}

func single(job episode.Job) episodePayload {
	return episodePayload{
		Name:              job.Name,
		Body:              job.Body.Text(),
		Source:            string(job.Source),
		SourceDescription: job.SourceDescription,
		ReferenceTime:     job.ReferenceTime,
		UUID:              job.Identity,
		GroupID:           job.Group,
		Tags:              job.Tags,
		Labels:            job.Labels,
		ExtractionHints:   job.ExtractionHints,
	}
}

func (e *Engine) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("engine.remote: marshal request: %w", err)
	}
	endpoint := strings.TrimRight(e.config.URL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("engine.remote: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.Token)
	}
	for k, v := range e.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("engine.remote: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
}

// Module is the engine.remote module.
type Module struct {
	config Config
	logger *slog.Logger
	engine *Engine
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "engine.remote",
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
		r.AddLiteral(m.config.Token)
	}
	m.engine = NewEngine(m.config, nil)
	ctx.RegisterService(processor.EngineService, m.engine)
	m.logger.Info("remote engine provisioned", "url", m.config.URL)
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	return m.config.validate()
}
