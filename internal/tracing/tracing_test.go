package tracing

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/flemzord/ingestd/internal/core"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gopkg.in/yaml.v3"
)

func configure(t *testing.T, src string) *Module {
	t.Helper()
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(src), &node); err != nil {
		t.Fatal(err)
	}
	m := &Module{}
	if err := m.Configure(node.Content[0]); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	return m
}

func TestConfigureDefaults(t *testing.T) {
	t.Parallel()

	m := configure(t, "insecure: true\n")
	if m.config.Exporter != "otlp" || m.config.Endpoint != "localhost:4318" || m.config.ServiceName != "ingestd" || m.config.SampleRatio != 1 {
		t.Errorf("defaults = %+v", m.config)
	}
	if err := m.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []string{
		"sample_ratio: 1.5\n",
		"endpoint: http://collector:4318\n",
	}
	for _, src := range tests {
		if err := configure(t, src).Validate(); err == nil {
			t.Errorf("config %q accepted", src)
		}
	}
}

func TestProvisionRegistersProvider(t *testing.T) {
	// Not parallel: Provision installs the global provider.
	ctx := core.NewAppContext(slog.New(slog.NewTextHandler(io.Discard, nil)), t.TempDir())
	m := configure(t, "exporter: stdout\n")
	if err := m.Provision(ctx); err != nil {
		t.Fatalf("Provision: %v", err)
	}
	tp, ok := core.ServiceAs[*sdktrace.TracerProvider](ctx, ServiceName)
	if !ok || tp != m.provider {
		t.Fatal("tracer provider not registered")
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestProvisionUnknownExporter(t *testing.T) {
	t.Parallel()

	m := configure(t, "exporter: zipkin\n")
	if err := m.Provision(core.NewAppContext(nil, t.TempDir())); err == nil {
		t.Fatal("unknown exporter accepted")
	}
}
