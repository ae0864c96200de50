package neo4j

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds the Neo4j connection settings.
type Config struct {
	// URI of the server. Defaults to bolt://localhost:7687.
	URI      string `yaml:"uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	// Database selects a named database; empty uses the server default.
	Database string `yaml:"database"`
	// QueryTimeout bounds every query. Defaults to 30s.
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

func (c *Config) defaults() {
	if c.URI == "" {
		c.URI = "bolt://localhost:7687"
	}
	if c.User == "" {
		c.User = "neo4j"
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 30 * time.Second
	}
}

func (c *Config) validate() error {
	u, err := url.Parse(c.URI)
	if err != nil {
		return fmt.Errorf("neo4j: invalid uri %q: %w", c.URI, err)
	}
	switch u.Scheme {
	case "bolt", "bolt+s", "bolt+ssc", "neo4j", "neo4j+s", "neo4j+ssc":
	default:
		return fmt.Errorf("neo4j: unsupported uri scheme %q", u.Scheme)
	}
	if c.Password == "" {
		return fmt.Errorf("neo4j: password is required")
	}
	if c.QueryTimeout < 0 {
		return fmt.Errorf("neo4j: query_timeout must be non-negative, got %s", c.QueryTimeout)
	}
	return nil
}
