// Package tracing provides the tracing.otlp module, which installs an
// OpenTelemetry tracer provider for the pipeline spans.
package tracing

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/flemzord/ingestd/internal/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

// ServiceName is the service registry key of the trace.TracerProvider.
const ServiceName = "tracing.provider"

// Config configures the exporter.
type Config struct {
	// Exporter is "otlp" (default) or "stdout".
	Exporter string `yaml:"exporter"`
	// Endpoint is the OTLP/HTTP collector host:port.
	Endpoint string            `yaml:"endpoint"`
	URLPath  string            `yaml:"url_path"`
	Insecure bool              `yaml:"insecure"`
	Headers  map[string]string `yaml:"headers"`

	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

func (c *Config) defaults() {
	if c.Exporter == "" {
		c.Exporter = "otlp"
	}
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4318"
	}
	if c.ServiceName == "" {
		c.ServiceName = "ingestd"
	}
	if c.SampleRatio == 0 {
		c.SampleRatio = 1
	}
}

// Module owns the tracer provider and flushes it on Stop.
type Module struct {
	config   Config
	provider *sdktrace.TracerProvider
}

var (
	_ core.Module       = (*Module)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "tracing.otlp",
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

// Provision builds the exporter and installs the provider globally.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	exp, err := m.exporter()
	if err != nil {
		return err
	}

	res := resource.NewSchemaless(attribute.String("service.name", m.config.ServiceName))
	m.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(m.config.SampleRatio))),
	)
	otel.SetTracerProvider(m.provider)
	ctx.RegisterService(ServiceName, m.provider)
	ctx.Logger.Info("tracing: provider installed", "exporter", m.config.Exporter, "endpoint", m.config.Endpoint)
	return nil
}

func (m *Module) exporter() (sdktrace.SpanExporter, error) {
	switch m.config.Exporter {
	case "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	case "otlp":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(m.config.Endpoint)}
		if m.config.URLPath != "" {
			opts = append(opts, otlptracehttp.WithURLPath(m.config.URLPath))
		}
		if m.config.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(m.config.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(m.config.Headers))
		}
		// The client connects lazily; creation does not dial.
		return otlptracehttp.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("tracing: unknown exporter %q", m.config.Exporter)
	}
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if m.config.SampleRatio < 0 || m.config.SampleRatio > 1 {
		return fmt.Errorf("tracing: sample_ratio must be within [0, 1], got %g", m.config.SampleRatio)
	}
	if strings.Contains(m.config.Endpoint, "://") {
		return fmt.Errorf("tracing: endpoint must be host:port, got %q", m.config.Endpoint)
	}
	return nil
}

// Stop flushes pending spans.
func (m *Module) Stop(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	if err := m.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("tracing: shutdown: %w", err)
	}
	return nil
}
