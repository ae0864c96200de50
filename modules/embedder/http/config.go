package httpembed

import (
	"fmt"
	"time"
)

// Supported API flavours.
const (
	KindOllama = "ollama"
	KindOpenAI = "openai"
)

// Config holds the embedder.http module configuration.
type Config struct {
	// Kind selects the wire format: ollama or openai.
	Kind    string `yaml:"kind"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
	// Dimensions asks OpenAI models that support it for shorter vectors.
	Dimensions int    `yaml:"dimensions"`
	Timeout    string `yaml:"timeout"`
}

func (c *Config) defaults() {
	if c.Kind == "" {
		c.Kind = KindOllama
	}
	switch c.Kind {
	case KindOllama:
		if c.BaseURL == "" {
			c.BaseURL = "http://localhost:11434"
		}
		if c.Model == "" {
			c.Model = "nomic-embed-text"
		}
	case KindOpenAI:
		if c.BaseURL == "" {
			c.BaseURL = "https://api.openai.com/v1"
		}
		if c.Model == "" {
			c.Model = "text-embedding-3-small"
		}
	}
	if c.Timeout == "" {
		c.Timeout = "30s"
	}
}

// parsedTimeout assumes validate has accepted the value.
func (c *Config) parsedTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

func (c *Config) validate() error {
	switch c.Kind {
	case KindOllama:
	case KindOpenAI:
		if c.APIKey == "" {
			return fmt.Errorf("embedder.http: api_key is required for kind %q", c.Kind)
		}
	default:
		return fmt.Errorf("embedder.http: unknown kind %q (want ollama or openai)", c.Kind)
	}
	if c.Dimensions < 0 {
		return fmt.Errorf("embedder.http: dimensions must be non-negative, got %d", c.Dimensions)
	}
	if _, err := time.ParseDuration(c.Timeout); err != nil {
		return fmt.Errorf("embedder.http: invalid timeout %q: %w", c.Timeout, err)
	}
	return nil
}
