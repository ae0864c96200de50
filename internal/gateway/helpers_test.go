package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/flemzord/ingestd/internal/chunk"
	"github.com/flemzord/ingestd/internal/content"
	"github.com/flemzord/ingestd/internal/cron"
	"github.com/flemzord/ingestd/internal/embedding"
	"github.com/flemzord/ingestd/internal/episode"
	"github.com/flemzord/ingestd/internal/events"
	"github.com/flemzord/ingestd/internal/ingest"
	"github.com/flemzord/ingestd/internal/pending"
	"github.com/flemzord/ingestd/internal/processor"
	"github.com/flemzord/ingestd/internal/queue"
	"github.com/flemzord/ingestd/internal/registry"
	"github.com/flemzord/ingestd/internal/similarity"
	"github.com/flemzord/ingestd/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
)

const testToken = "test-token-0123"

// gateEngine blocks every Apply until release is closed, so queued jobs
// stay visible to inspection endpoints.
type gateEngine struct {
	release chan struct{}
	once    sync.Once
}

func (e *gateEngine) Apply(ctx context.Context, _ episode.Job) error {
	select {
	case <-e.release:
	case <-ctx.Done():
	}
	return nil
}

func (e *gateEngine) ApplyBulk(ctx context.Context, job episode.Job) error { return e.Apply(ctx, job) }

func (e *gateEngine) open() { e.once.Do(func() { close(e.release) }) }

type testEnv struct {
	gw     *Gateway
	srv    *httptest.Server
	engine *gateEngine
	hub    *events.Hub
	tel    *telemetry.MemoryStore
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	env := &testEnv{
		engine: &gateEngine{release: make(chan struct{})},
		hub:    events.NewHub(),
		tel:    telemetry.NewMemoryStore(),
	}
	proc := processor.New(env.engine, telemetry.NewRecorder(env.tel, logger), processor.Config{Logger: logger, Events: env.hub})
	m, err := queue.NewManager(queue.Config{Handler: proc.Process, Logger: logger})
	if err != nil {
		t.Fatal(err)
	}

	store := content.NewMemoryStore()
	reg := registry.New(registry.NewMemoryStore(), store, registry.WithLogger(logger))
	embed := embedding.Func(func(context.Context, string) ([]float32, error) { return []float32{1, 0}, nil })
	pend := pending.NewStore(pending.NewMemoryKV(), m, reg, pending.WithLogger(logger))
	svc := ingest.NewService(ingest.Config{
		Queue:     m,
		Registry:  reg,
		Router:    similarity.NewRouter(embed, store, similarity.Config{Logger: logger}),
		Pending:   pend,
		Telemetry: env.tel,
		Chunker:   chunk.Chunker{Size: 50, Overlap: 0},
		Events:    env.hub,
		Logger:    logger,
	})

	sched := cron.NewScheduler(logger)
	_ = sched.RegisterJob(&cron.PendingSweepJob{Pending: pend, Logger: logger})

	cfg := Config{Auth: AuthConfig{BearerToken: testToken}}
	if mutate != nil {
		mutate(&cfg)
	}
	cfg.defaults()

	promReg := prometheus.NewRegistry()
	env.gw = &Gateway{
		config:    cfg,
		logger:    logger,
		svc:       svc,
		hub:       env.hub,
		scheduler: sched,
		registry:  promReg,
		metrics:   NewMetrics(promReg),
	}
	env.srv = httptest.NewServer(env.gw.buildRouter())

	t.Cleanup(func() {
		env.engine.open()
		env.srv.Close()
		_ = m.Close(context.Background())
	})
	return env
}

// do sends an authenticated request with an optional JSON body.
func (env *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, env.srv.URL+path, rdr)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s = %d, want %d: %s", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, body)
	}
}
