package gateway

import (
	"time"

	"github.com/flemzord/ingestd/internal/security"
)

// Config holds HTTP gateway configuration.
type Config struct {
	Bind            string                      `yaml:"bind"`
	Auth            AuthConfig                  `yaml:"auth"`
	RateLimit       security.RateLimitConfig    `yaml:"rate_limit"`
	Webhooks        map[string]WebhookSourceCfg `yaml:"webhooks"`
	MaxBodyBytes    int64                       `yaml:"max_body_bytes"`
	EventBuffer     int                         `yaml:"event_buffer"`
	ReadTimeout     time.Duration               `yaml:"read_timeout"`
	WriteTimeout    time.Duration               `yaml:"write_timeout"`
	ShutdownTimeout time.Duration               `yaml:"shutdown_timeout"`
}

func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:8080"
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 10 << 20
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	// The event stream is long-lived, so no write timeout unless asked for.
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// AuthConfig configures authentication for the API.
type AuthConfig struct {
	BearerToken string `yaml:"bearer_token"`
	BasicUser   string `yaml:"basic_user"`
	BasicPass   string `yaml:"basic_pass"`
}

// IsConfigured returns true if any auth method is configured.
func (a AuthConfig) IsConfigured() bool {
	return a.BearerToken != "" || (a.BasicUser != "" && a.BasicPass != "")
}

// WebhookSourceCfg maps an external source onto a group.
type WebhookSourceCfg struct {
	// Secret enables X-Signature-256 HMAC verification.
	Secret string `yaml:"secret"`
	// Group receives the episodes. Empty stages them for routing.
	Group string `yaml:"group"`
	// Description is recorded as the episode source description.
	Description string `yaml:"description"`
}
