package config

import (
	"strings"
	"testing"

	"github.com/flemzord/ingestd/internal/core"
	"gopkg.in/yaml.v3"
)

// stubModule is a basic module for testing.
type stubModule struct {
	id string
}

func (m *stubModule) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  core.ModuleID(m.id),
		New: func() core.Module { return &stubModule{id: m.id} },
	}
}

func registerStub(t *testing.T, id string) {
	t.Helper()
	core.RegisterModule(&stubModule{id: id})
}

func TestValidate_Valid(t *testing.T) {
	id := t.Name() + ".mod"
	registerStub(t, id)
	cfg := &Config{
		Version: "1",
		Modules: map[string]yaml.Node{id: {}},
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_Version(t *testing.T) {
	id := t.Name() + ".mod"
	registerStub(t, id)

	tests := []struct {
		version string
		want    string
	}{
		{"", "version"},
		{"99", "unsupported"},
	}
	for _, tt := range tests {
		cfg := &Config{Version: tt.version, Modules: map[string]yaml.Node{id: {}}}
		err := Validate(cfg)
		if err == nil {
			t.Fatalf("version %q: expected error", tt.version)
		}
		if !strings.Contains(err.Error(), tt.want) {
			t.Errorf("version %q: error should mention %q: %v", tt.version, tt.want, err)
		}
	}
}

func TestValidate_EmptyModules(t *testing.T) {
	cfg := &Config{Version: "1", Modules: map[string]yaml.Node{}}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for empty modules")
	}
	if !strings.Contains(err.Error(), "at least one") {
		t.Errorf("error should mention at least one module: %v", err)
	}
}

func TestValidate_MultipleUnknown(t *testing.T) {
	cfg := &Config{
		Version: "1",
		Modules: map[string]yaml.Node{
			"bad.one": {},
			"bad.two": {},
		},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for unknown modules")
	}
	if !strings.Contains(err.Error(), "bad.one") || !strings.Contains(err.Error(), "bad.two") {
		t.Errorf("error should mention both modules: %v", err)
	}
}

func TestValidate_Pipeline(t *testing.T) {
	id := t.Name() + ".mod"
	registerStub(t, id)

	tests := []struct {
		name     string
		pipeline Pipeline
		want     string
	}{
		{"negative attempts", Pipeline{MaxAttempts: -1}, "max_attempts"},
		{"similarity above one", Pipeline{MinSimilarity: 1.5}, "min_similarity"},
		{"overlap too large", Pipeline{ChunkSize: 100, ChunkOverlap: 100}, "chunk_overlap"},
		{"bad schedule", Pipeline{SweepSchedule: "every minute"}, "sweep_schedule"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Version: "1", Modules: map[string]yaml.Node{id: {}}, Pipeline: tt.pipeline}
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error should mention %q: %v", tt.want, err)
			}
		})
	}
}

func TestPipeline_WithDefaults(t *testing.T) {
	p := Pipeline{MaxAttempts: 2}.WithDefaults()

	if p.MaxAttempts != 2 {
		t.Errorf("MaxAttempts = %d, want 2 (explicit value kept)", p.MaxAttempts)
	}
	if p.BackoffBase != DefaultBackoffBase {
		t.Errorf("BackoffBase = %d, want %d", p.BackoffBase, DefaultBackoffBase)
	}
	if p.PendingTTL != DefaultPendingTTL {
		t.Errorf("PendingTTL = %v, want %v", p.PendingTTL, DefaultPendingTTL)
	}
	if p.MinSimilarity != DefaultMinSimilarity {
		t.Errorf("MinSimilarity = %v, want %v", p.MinSimilarity, DefaultMinSimilarity)
	}
	if p.UsageConcurrency != DefaultUsageConcurrency {
		t.Errorf("UsageConcurrency = %d, want %d", p.UsageConcurrency, DefaultUsageConcurrency)
	}
	if p.ChunkSize != DefaultChunkSize || p.ChunkOverlap != DefaultChunkOverlap {
		t.Errorf("chunking = %d/%d, want %d/%d", p.ChunkSize, p.ChunkOverlap, DefaultChunkSize, DefaultChunkOverlap)
	}
}
