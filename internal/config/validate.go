package config

import (
	"errors"
	"fmt"

	"github.com/flemzord/ingestd/internal/core"
	"github.com/robfig/cron/v3"
)

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate checks a Config and reports every problem at once.
// It verifies the version, that each module ID is registered, that
// Configurable modules have a section, and the pipeline bounds.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if len(cfg.Modules) == 0 {
		errs = append(errs, errors.New("config: at least one module must be configured"))
	}

	for id := range cfg.Modules {
		if _, ok := core.GetModule(id); !ok {
			errs = append(errs, fmt.Errorf("config: unknown module %q", id))
		}
	}

	errs = append(errs, validatePipeline(cfg.Pipeline)...)

	return errors.Join(errs...)
}

func validatePipeline(p Pipeline) []error {
	var errs []error

	if p.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("config: pipeline.max_attempts must not be negative, got %d", p.MaxAttempts))
	}
	if p.BackoffBase < 0 {
		errs = append(errs, fmt.Errorf("config: pipeline.backoff_base must not be negative, got %d", p.BackoffBase))
	}
	if p.PendingTTL < 0 {
		errs = append(errs, errors.New("config: pipeline.pending_ttl must not be negative"))
	}
	if p.TelemetryRetention < 0 {
		errs = append(errs, errors.New("config: pipeline.telemetry_retention must not be negative"))
	}
	if p.MinSimilarity < 0 || p.MinSimilarity > 1 {
		errs = append(errs, fmt.Errorf("config: pipeline.min_similarity must be within [0, 1], got %g", p.MinSimilarity))
	}
	if p.ChunkSize > 0 && p.ChunkOverlap >= p.ChunkSize {
		errs = append(errs, fmt.Errorf("config: pipeline.chunk_overlap (%d) must be smaller than chunk_size (%d)", p.ChunkOverlap, p.ChunkSize))
	}

	for field, expr := range map[string]string{
		"sweep_schedule":     p.SweepSchedule,
		"retention_schedule": p.RetentionSchedule,
	} {
		if expr == "" {
			continue
		}
		if _, err := scheduleParser.Parse(expr); err != nil {
			errs = append(errs, fmt.Errorf("config: pipeline.%s: %w", field, err))
		}
	}

	return errs
}
