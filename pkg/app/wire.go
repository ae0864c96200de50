package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flemzord/ingestd/internal/chunk"
	"github.com/flemzord/ingestd/internal/config"
	"github.com/flemzord/ingestd/internal/content"
	"github.com/flemzord/ingestd/internal/core"
	"github.com/flemzord/ingestd/internal/cron"
	"github.com/flemzord/ingestd/internal/embedding"
	"github.com/flemzord/ingestd/internal/episode"
	"github.com/flemzord/ingestd/internal/events"
	"github.com/flemzord/ingestd/internal/gateway"
	"github.com/flemzord/ingestd/internal/ingest"
	"github.com/flemzord/ingestd/internal/pending"
	"github.com/flemzord/ingestd/internal/processor"
	"github.com/flemzord/ingestd/internal/queue"
	"github.com/flemzord/ingestd/internal/registry"
	"github.com/flemzord/ingestd/internal/similarity"
	"github.com/flemzord/ingestd/internal/telemetry"
	"github.com/flemzord/ingestd/internal/tracing"
	neo4jstore "github.com/flemzord/ingestd/modules/store/neo4j"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/trace"
)

// ErrNoEngine is returned when no engine module registered a processor.Engine.
var ErrNoEngine = errors.New("app: no engine module configured (engine.remote or engine.index)")

// pipelineModule wraps the queue manager and the scheduler so they take
// part in the App lifecycle. It is appended after every configured module,
// so it starts last and stops first.
type pipelineModule struct {
	queue     *queue.Manager
	scheduler *cron.Scheduler
}

func (m *pipelineModule) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{ID: "pipeline"}
}

func (m *pipelineModule) Start() error {
	return m.scheduler.Start()
}

func (m *pipelineModule) Stop(ctx context.Context) error {
	_ = m.scheduler.Stop(ctx)
	return m.queue.Close(ctx)
}

// pipeline is everything wirePipeline assembled.
type pipeline struct {
	service   *ingest.Service
	queue     *queue.Manager
	hub       *events.Hub
	scheduler *cron.Scheduler
	metrics   *prometheus.Registry
}

// wirePipeline builds the ingestion pipeline from the services the loaded
// modules registered, falling back to in-memory stores for the parts no
// module provides, and appends its lifecycle to app. Must be called after
// LoadModules and before Start.
func wirePipeline(app *core.App, appCtx *core.AppContext, p config.Pipeline, logger *slog.Logger) (*pipeline, error) {
	p = p.WithDefaults()

	engine, ok := core.ServiceAs[processor.Engine](appCtx, processor.EngineService)
	if !ok {
		return nil, ErrNoEngine
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	telStore, ok := core.ServiceAs[telemetry.Store](appCtx, telemetry.ServiceName)
	if !ok {
		logger.Warn("pipeline: no telemetry store configured, traces are kept in memory")
		telStore = telemetry.NewMemoryStore()
	}
	groupStore, ok := core.ServiceAs[registry.Store](appCtx, registry.ServiceName)
	if !ok {
		logger.Warn("pipeline: no registry store configured, groups are kept in memory")
		groupStore = registry.NewMemoryStore()
	}
	kv, ok := core.ServiceAs[pending.KV](appCtx, pending.ServiceName)
	if !ok {
		logger.Warn("pipeline: no pending store configured, staged episodes are kept in memory")
		kv = pending.NewMemoryKV()
	}
	store := contentStore(appCtx)
	emb, _ := core.ServiceAs[embedding.Embedder](appCtx, embedding.ServiceName)

	var (
		usage      content.UsageCounter
		candidates content.CandidateSource
	)
	if store != nil {
		usage, candidates = store, store
	}

	var tp trace.TracerProvider
	if provider, ok := core.ServiceAs[trace.TracerProvider](appCtx, tracing.ServiceName); ok {
		tp = provider
	}

	hub := events.NewHub()
	recorder := telemetry.NewRecorder(telStore, logger.With("component", "telemetry"))
	proc := processor.New(engine, recorder, processor.Config{
		MaxAttempts:    p.MaxAttempts,
		BackoffBase:    p.BackoffBase,
		Logger:         logger.With("component", "processor"),
		Metrics:        processor.NewMetrics(reg),
		Events:         hub,
		TracerProvider: tp,
	})

	qm, err := queue.NewManager(queue.Config{
		Handler: func(ctx context.Context, job episode.Job) error { return proc.Process(ctx, job) },
		Logger:  logger.With("component", "queue"),
		Metrics: queue.NewMetrics(reg),
	})
	if err != nil {
		return nil, fmt.Errorf("app: creating queue manager: %w", err)
	}

	groups := registry.New(groupStore, usage, registry.WithLogger(logger.With("component", "registry")),
		registry.WithConcurrency(p.UsageConcurrency),
	)
	router := similarity.NewRouter(emb, candidates, similarity.Config{
		MinSimilarity: p.MinSimilarity,
		MaxGroups:     p.MaxGroups,
		MaxSamples:    p.MaxSamples,
		Describer:     groups,
		Logger:        logger.With("component", "router"),
	})
	staged := pending.NewStore(kv, qm, groups,
		pending.WithTTL(p.PendingTTL),
		pending.WithLogger(logger.With("component", "pending")),
	)

	chunker := chunk.Chunker{Size: p.ChunkSize, Overlap: p.ChunkOverlap}
	if err := chunker.Validate(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	svc := ingest.NewService(ingest.Config{
		Queue:     qm,
		Registry:  groups,
		Router:    router,
		Pending:   staged,
		Telemetry: telStore,
		Chunker:   chunker,
		Events:    hub,
		Logger:    logger.With("component", "ingest"),
	})

	scheduler := cron.NewScheduler(logger.With("component", "cron"))
	if err := scheduler.RegisterJob(&cron.PendingSweepJob{
		Pending:      staged,
		Logger:       logger,
		ScheduleExpr: p.SweepSchedule,
	}); err != nil {
		return nil, err
	}
	if p.TelemetryRetention > 0 {
		if err := scheduler.RegisterJob(&cron.TelemetryRetentionJob{
			Store:        telStore,
			Retention:    p.TelemetryRetention,
			Logger:       logger,
			ScheduleExpr: p.RetentionSchedule,
		}); err != nil {
			return nil, err
		}
	}

	appCtx.RegisterService(gateway.ServiceIngest, svc)
	appCtx.RegisterService(gateway.ServiceEvents, hub)
	appCtx.RegisterService(gateway.ServiceScheduler, scheduler)
	appCtx.RegisterService(gateway.ServiceMetrics, reg)

	app.AppendModule("pipeline", &pipelineModule{queue: qm, scheduler: scheduler})

	logger.Info("pipeline: wired",
		"max_attempts", p.MaxAttempts,
		"content_store", store != nil,
		"embedder", emb != nil,
		"retention", p.TelemetryRetention,
	)
	return &pipeline{service: svc, queue: qm, hub: hub, scheduler: scheduler, metrics: reg}, nil
}

// contentStore prefers the graph store over the SQLite one.
func contentStore(appCtx *core.AppContext) content.Store {
	if s, ok := core.ServiceAs[content.Store](appCtx, neo4jstore.ServiceName); ok {
		return s
	}
	if s, ok := core.ServiceAs[content.Store](appCtx, content.ServiceName); ok {
		return s
	}
	return nil
}
