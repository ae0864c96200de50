package httpembed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/flemzord/ingestd/internal/embedding"
)

// maxResponseSize caps how much of a response body is read.
const maxResponseSize = 10 * 1024 * 1024

// ErrUpstream wraps non-2xx answers from the embedding API.
var ErrUpstream = errors.New("embedder.http: upstream error")

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float64 `json:"embedding"`
}

type openAIRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Embedder calls an Ollama or OpenAI-compatible embeddings endpoint.
type Embedder struct {
	config Config
	client *http.Client
}

var _ embedding.Embedder = (*Embedder)(nil)

// NewEmbedder returns an Embedder for cfg. A nil client uses one with the
// configured timeout.
func NewEmbedder(cfg Config, client *http.Client) *Embedder {
	cfg.defaults()
	if client == nil {
		client = &http.Client{Timeout: cfg.parsedTimeout()}
	}
	return &Embedder{config: cfg, client: client}
}

// Embed implements embedding.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, embedding.ErrEmpty
	}

	base := strings.TrimRight(e.config.BaseURL, "/")
	switch e.config.Kind {
	case KindOpenAI:
		var resp openAIResponse
		req := openAIRequest{Model: e.config.Model, Input: text, Dimensions: e.config.Dimensions}
		if err := e.post(ctx, base+"/embeddings", req, &resp); err != nil {
			return nil, err
		}
		if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
			return nil, fmt.Errorf("embedder.http: response has no embedding")
		}
		return resp.Data[0].Embedding, nil
	default:
		var resp ollamaResponse
		if err := e.post(ctx, base+"/api/embeddings", ollamaRequest{Model: e.config.Model, Prompt: text}, &resp); err != nil {
			return nil, err
		}
		if len(resp.Embedding) == 0 {
			return nil, fmt.Errorf("embedder.http: response has no embedding")
		}
		return embedding.Float32s(resp.Embedding), nil
	}
}

func (e *Embedder) post(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("embedder.http: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("embedder.http: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("embedder.http: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("embedder.http: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(data)
		var ae apiError
		if json.Unmarshal(data, &ae) == nil && ae.Error.Message != "" {
			msg = ae.Error.Message
		}
		return fmt.Errorf("%w: HTTP %d: %s", ErrUpstream, resp.StatusCode, msg)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("embedder.http: decode response: %w", err)
	}
	return nil
}
