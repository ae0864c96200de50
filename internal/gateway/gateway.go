// Package gateway serves the ingestion API over HTTP: submissions, queue
// and group inspection, telemetry queries, Prometheus metrics and a
// websocket stream of processing events.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/flemzord/ingestd/internal/core"
	"github.com/flemzord/ingestd/internal/cron"
	"github.com/flemzord/ingestd/internal/events"
	"github.com/flemzord/ingestd/internal/ingest"
	"github.com/flemzord/ingestd/internal/security"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Gateway{})
}

// Service names the gateway resolves at Start.
const (
	ServiceIngest    = "ingest.service"
	ServiceEvents    = "events.hub"
	ServiceScheduler = "cron.scheduler"
	ServiceMetrics   = "metrics.registry"
)

// Gateway is the HTTP gateway module.
type Gateway struct {
	config  Config
	appCtx  *core.AppContext
	logger  *slog.Logger
	server  *http.Server
	metrics *Metrics
	limiter *security.RateLimiter

	startedAt time.Time

	// Resolved at Start via the service registry.
	svc       *ingest.Service
	hub       *events.Hub
	scheduler *cron.Scheduler
	registry  *prometheus.Registry
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.http",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	return node.Decode(&g.config)
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.config.defaults()
	g.appCtx = ctx
	g.logger = ctx.Logger
	g.limiter = security.NewRateLimiter(g.config.RateLimit)

	if r, ok := core.ServiceAs[*security.Redactor](ctx, security.ServiceName); ok {
		r.AddLiteral(g.config.Auth.BearerToken)
		r.AddLiteral(g.config.Auth.BasicPass)
		for _, wh := range g.config.Webhooks {
			r.AddLiteral(wh.Secret)
		}
	}
	return nil
}

// Validate implements core.Validator.
func (g *Gateway) Validate() error {
	if _, err := net.ResolveTCPAddr("tcp", g.config.Bind); err != nil {
		return errors.New("gateway: invalid bind address: " + g.config.Bind)
	}
	for source, wh := range g.config.Webhooks {
		if wh.Group != "" && !validGroup(wh.Group) {
			return errors.New("gateway: webhook " + source + ": invalid group " + wh.Group)
		}
	}
	return nil
}

// Start resolves the pipeline services and starts the HTTP server.
func (g *Gateway) Start() error {
	svc, ok := core.ServiceAs[*ingest.Service](g.appCtx, ServiceIngest)
	if !ok {
		return errors.New("gateway: ingestion service not available")
	}
	g.svc = svc
	g.hub, _ = core.ServiceAs[*events.Hub](g.appCtx, ServiceEvents)
	g.scheduler, _ = core.ServiceAs[*cron.Scheduler](g.appCtx, ServiceScheduler)
	g.registry, _ = core.ServiceAs[*prometheus.Registry](g.appCtx, ServiceMetrics)
	if g.registry == nil {
		g.registry = prometheus.NewRegistry()
	}
	g.metrics = NewMetrics(g.registry)
	g.startedAt = time.Now()

	if !g.config.Auth.IsConfigured() {
		g.logger.Warn("gateway: no auth configured, only /health and webhooks are served")
	}

	g.server = &http.Server{
		Addr:         g.config.Bind,
		Handler:      g.buildRouter(),
		ReadTimeout:  g.config.ReadTimeout,
		WriteTimeout: g.config.WriteTimeout,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Bind)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "addr", ln.Addr().String())
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()
	return nil
}

// Stop implements core.Stopper. Open event streams are closed by the
// shutdown context.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	if err := g.server.Shutdown(shutdownCtx); err != nil {
		return g.server.Close()
	}
	return nil
}
