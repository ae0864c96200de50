// Package config loads the ingestd YAML configuration, expands environment
// variables and checks the result before modules are loaded.
package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Only "1" is supported.
	Version string `yaml:"version"`

	// Modules maps module IDs (e.g. "store.sqlite") to their raw YAML.
	Modules map[string]yaml.Node `yaml:"modules"`

	// Pipeline tunes the ingestion pipeline. Zero values take defaults.
	Pipeline Pipeline `yaml:"pipeline"`

	// Secrets lists extra literal values to redact from logs.
	Secrets []string `yaml:"secrets,omitempty"`
}

// Pipeline holds the retry, staging, routing and chunking knobs.
type Pipeline struct {
	MaxAttempts int `yaml:"max_attempts"`
	BackoffBase int `yaml:"backoff_base"`

	PendingTTL    time.Duration `yaml:"pending_ttl"`
	SweepSchedule string        `yaml:"sweep_schedule"`

	// TelemetryRetention enables the retention job when non-zero.
	TelemetryRetention time.Duration `yaml:"telemetry_retention"`
	RetentionSchedule  string        `yaml:"retention_schedule"`

	MinSimilarity float64 `yaml:"min_similarity"`
	MaxGroups     int     `yaml:"max_groups"`
	MaxSamples    int     `yaml:"max_samples"`

	// UsageConcurrency bounds parallel usage counts when listing groups.
	UsageConcurrency int `yaml:"usage_concurrency"`

	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// Pipeline defaults.
const (
	DefaultMaxAttempts       = 5
	DefaultBackoffBase       = 3
	DefaultPendingTTL        = 24 * time.Hour
	DefaultSweepSchedule     = "*/15 * * * *"
	DefaultRetentionSchedule = "0 3 * * *"
	DefaultMinSimilarity     = 0.5
	DefaultMaxGroups         = 5
	DefaultMaxSamples        = 3
	DefaultUsageConcurrency  = 8
	DefaultChunkSize         = 1000
	DefaultChunkOverlap      = 100
)

// WithDefaults returns a copy with zero values replaced by defaults.
func (p Pipeline) WithDefaults() Pipeline {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = DefaultBackoffBase
	}
	if p.PendingTTL <= 0 {
		p.PendingTTL = DefaultPendingTTL
	}
	if p.SweepSchedule == "" {
		p.SweepSchedule = DefaultSweepSchedule
	}
	if p.RetentionSchedule == "" {
		p.RetentionSchedule = DefaultRetentionSchedule
	}
	if p.MinSimilarity == 0 {
		p.MinSimilarity = DefaultMinSimilarity
	}
	if p.MaxGroups <= 0 {
		p.MaxGroups = DefaultMaxGroups
	}
	if p.MaxSamples <= 0 {
		p.MaxSamples = DefaultMaxSamples
	}
	if p.UsageConcurrency <= 0 {
		p.UsageConcurrency = DefaultUsageConcurrency
	}
	if p.ChunkSize <= 0 {
		p.ChunkSize = DefaultChunkSize
	}
	if p.ChunkOverlap <= 0 {
		p.ChunkOverlap = DefaultChunkOverlap
	}
	return p
}
