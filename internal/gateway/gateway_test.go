package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/flemzord/ingestd/internal/cron"
	"github.com/flemzord/ingestd/internal/episode"
	"github.com/flemzord/ingestd/internal/events"
	"github.com/flemzord/ingestd/internal/ingest"
	"github.com/flemzord/ingestd/internal/pending"
	"github.com/flemzord/ingestd/internal/registry"
	"github.com/flemzord/ingestd/internal/security"
	"github.com/flemzord/ingestd/internal/telemetry"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func episodeReq(name, body, group string) map[string]any {
	return map[string]any{"name": name, "episode_body": body, "group_id": group}
}

func TestHealth_Public(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	resp, err := http.Get(env.srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)
	if got := decodeBody[HealthResponse](t, resp); got.Status != "ok" {
		t.Errorf("status = %q", got.Status)
	}
}

func TestAuth(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(c *Config) {
		c.Auth = AuthConfig{BearerToken: testToken, BasicUser: "ops", BasicPass: "ops-pass"}
	})

	tests := []struct {
		name  string
		setup func(*http.Request)
		want  int
	}{
		{"missing", func(*http.Request) {}, http.StatusUnauthorized},
		{"wrong bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+testToken) }, http.StatusOK},
		{"basic", func(r *http.Request) { r.SetBasicAuth("ops", "ops-pass") }, http.StatusOK},
		{"wrong basic", func(r *http.Request) { r.SetBasicAuth("ops", "x") }, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/api/queues", nil)
			tt.setup(req)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestNoAuth_APINotMounted(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(c *Config) { c.Auth = AuthConfig{} })
	resp, err := http.Get(env.srv.URL + "/api/queues")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSubmitEpisode_QueuedAndPeek(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPost, "/api/episodes", episodeReq("first", "alpha", "demo"))
	expectStatus(t, resp, http.StatusAccepted)
	res := decodeBody[ingest.Result](t, resp)
	if res.Status != ingest.StatusQueued || res.Group != "demo" || res.Identity == "" || !res.GroupCreated {
		t.Fatalf("result = %+v", res)
	}
	expectStatus(t, env.do(t, http.MethodPost, "/api/episodes", episodeReq("second", "beta", "demo")), http.StatusAccepted)

	// The first job is held by the engine; the second waits at index 0.
	waitFor(t, func() bool {
		stats := decodeBody[[]ingest.QueueStatus](t, env.do(t, http.MethodGet, "/api/queues/demo", nil))
		return len(stats) == 1 && stats[0].Active && stats[0].Depth == 1
	})

	resp = env.do(t, http.MethodGet, "/api/queues/demo/jobs/0", nil)
	expectStatus(t, resp, http.StatusOK)
	var job struct {
		Name string `json:"name"`
		Body string `json:"body"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatal(err)
	}
	if job.Name != "second" || job.Body != "beta" {
		t.Errorf("peeked job = %+v", job)
	}

	expectStatus(t, env.do(t, http.MethodGet, "/api/queues/demo/jobs/3", nil), http.StatusNotFound)
	expectStatus(t, env.do(t, http.MethodGet, "/api/queues/demo/jobs/x", nil), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodGet, "/api/queues/nobody", nil), http.StatusNotFound)
}

func TestSubmitEpisode_Rejections(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"invalid group", episodeReq("n", "text", "a!"), http.StatusBadRequest},
		{"protected group", episodeReq("n", "text", "admin"), http.StatusBadRequest},
		{"empty body", episodeReq("n", "  ", "demo"), http.StatusBadRequest},
		{"missing name", episodeReq("", "text", "demo"), http.StatusBadRequest},
		{"bad source", map[string]any{"name": "n", "episode_body": "x", "group_id": "demo", "source": "video"}, http.StatusBadRequest},
		{"bad body shape", map[string]any{"name": "n", "episode_body": 42}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, env.do(t, http.MethodPost, "/api/episodes", tt.body), tt.want)
		})
	}

	req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/api/episodes", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed JSON status = %d", resp.StatusCode)
	}
}

func TestPendingConfirm(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPost, "/api/episodes", episodeReq("Quarterly numbers", "revenue grew", ""))
	expectStatus(t, resp, http.StatusAccepted)
	res := decodeBody[ingest.Result](t, resp)
	if res.Status != ingest.StatusPending || res.PendingID == "" || res.Suggestion == nil {
		t.Fatalf("result = %+v", res)
	}
	if !res.Suggestion.IsNewGroup {
		t.Errorf("empty content store should suggest a new group: %+v", res.Suggestion)
	}

	list := decodeBody[[]pending.Record](t, env.do(t, http.MethodGet, "/api/pending", nil))
	if len(list) != 1 || list[0].ID != res.PendingID {
		t.Fatalf("pending = %+v", list)
	}

	expectStatus(t, env.do(t, http.MethodPost, "/api/pending/"+res.PendingID+"/confirm", map[string]string{"group_id": "x"}), http.StatusBadRequest)

	resp = env.do(t, http.MethodPost, "/api/pending/"+res.PendingID+"/confirm", map[string]string{"group_id": "finance"})
	expectStatus(t, resp, http.StatusOK)
	conf := decodeBody[pending.Confirmation](t, resp)
	if conf.Group != "finance" || conf.Identity != res.Identity || !conf.GroupCreated {
		t.Errorf("confirmation = %+v", conf)
	}

	expectStatus(t, env.do(t, http.MethodPost, "/api/pending/"+res.PendingID+"/confirm", map[string]string{"group_id": "finance"}), http.StatusNotFound)
}

func TestSubmitDocument(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	text := strings.Repeat("The quick brown fox jumps. ", 10)

	expectStatus(t, env.do(t, http.MethodPost, "/api/documents", map[string]any{"name": "doc", "text": text}), http.StatusBadRequest)

	resp := env.do(t, http.MethodPost, "/api/documents", map[string]any{"name": "doc", "text": text, "group_id": "library"})
	expectStatus(t, resp, http.StatusAccepted)
	res := decodeBody[ingest.DocumentResult](t, resp)
	if res.Chunks < 2 || len(res.Identities) != res.Chunks {
		t.Errorf("result = %+v", res)
	}
}

func TestGroups(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodPost, "/api/groups", map[string]any{"group_id": "research", "description": "papers", "metadata": map[string]any{"team": "r&d"}})
	expectStatus(t, resp, http.StatusOK)
	if g := decodeBody[registry.Group](t, resp); g.ID != "research" || g.Description != "papers" {
		t.Errorf("registered = %+v", g)
	}

	expectStatus(t, env.do(t, http.MethodPost, "/api/groups", map[string]any{"group_id": "system"}), http.StatusBadRequest)

	resp = env.do(t, http.MethodGet, "/api/groups/research", nil)
	expectStatus(t, resp, http.StatusOK)

	groups := decodeBody[[]registry.Group](t, env.do(t, http.MethodGet, "/api/groups?include_stats=true", nil))
	if len(groups) != 1 || groups[0].Usage == nil {
		t.Errorf("groups = %+v", groups)
	}

	expectStatus(t, env.do(t, http.MethodDelete, "/api/groups/research", nil), http.StatusNoContent)
	expectStatus(t, env.do(t, http.MethodGet, "/api/groups/research", nil), http.StatusNotFound)
	expectStatus(t, env.do(t, http.MethodDelete, "/api/groups/research", nil), http.StatusNotFound)
	expectStatus(t, env.do(t, http.MethodDelete, "/api/groups/admin", nil), http.StatusBadRequest)
}

func TestTelemetryEndpoints(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.engine.open()

	res := decodeBody[ingest.Result](t, env.do(t, http.MethodPost, "/api/episodes", episodeReq("Meeting notes", "we met", "ops")))
	waitFor(t, func() bool {
		tr, err := env.tel.Trace(context.Background(), res.Identity)
		return err == nil && tr.Succeeded()
	})

	stats := decodeBody[telemetry.Stats](t, env.do(t, http.MethodGet, "/api/telemetry/stats", nil))
	if stats.Total != 1 || stats.Completed != 1 {
		t.Errorf("stats = %+v", stats)
	}

	resp := env.do(t, http.MethodGet, "/api/telemetry/episodes/"+res.Identity, nil)
	expectStatus(t, resp, http.StatusOK)
	if tr := decodeBody[telemetry.Trace](t, resp); tr.Log.DisplayName != "Meeting notes" || len(tr.Steps) == 0 {
		t.Errorf("trace = %+v", tr)
	}
	expectStatus(t, env.do(t, http.MethodGet, "/api/telemetry/episodes/missing", nil), http.StatusNotFound)

	found := decodeBody[[]telemetry.Log](t, env.do(t, http.MethodGet, "/api/telemetry/search?q=meeting", nil))
	if len(found) != 1 {
		t.Errorf("search = %+v", found)
	}
	expectStatus(t, env.do(t, http.MethodGet, "/api/telemetry/search", nil), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodGet, "/api/telemetry/errors?limit=-1", nil), http.StatusBadRequest)

	for _, path := range []string{
		"/api/telemetry/errors",
		"/api/telemetry/errors/patterns",
		"/api/telemetry/errors/TimeoutError",
		"/api/telemetry/steps",
		"/api/telemetry/failed?limit=5",
	} {
		expectStatus(t, env.do(t, http.MethodGet, path, nil), http.StatusOK)
	}

	resp = env.do(t, http.MethodDelete, "/api/telemetry", nil)
	expectStatus(t, resp, http.StatusOK)
	if got := decodeBody[map[string]int](t, resp); got["purged"] != 1 {
		t.Errorf("purge = %v", got)
	}
}

func TestJobs(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)

	jobs := decodeBody[[]cron.JobStatus](t, env.do(t, http.MethodGet, "/api/jobs", nil))
	if len(jobs) != 1 || jobs[0].Name != "pending_sweep" {
		t.Fatalf("jobs = %+v", jobs)
	}
	expectStatus(t, env.do(t, http.MethodPost, "/api/jobs/pending_sweep/run", nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodPost, "/api/jobs/nope/run", nil), http.StatusNotFound)
}

func TestStatusAndMetrics(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	expectStatus(t, env.do(t, http.MethodPost, "/api/episodes", episodeReq("n", "body", "demo")), http.StatusAccepted)

	resp := env.do(t, http.MethodGet, "/status", nil)
	expectStatus(t, resp, http.StatusOK)
	st := decodeBody[StatusResponse](t, resp)
	if st.Queues.Groups != 1 || len(st.Jobs) != 1 {
		t.Errorf("status = %+v", st)
	}

	resp = env.do(t, http.MethodGet, "/metrics", nil)
	expectStatus(t, resp, http.StatusOK)
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`ingestd_http_requests_total{code="202",method="POST",route="/api/episodes"}`)) {
		t.Errorf("request counter missing from metrics:\n%s", body)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.gw.limiter = security.NewRateLimiter(security.RateLimitConfig{SubmissionsPerMin: 1})

	expectStatus(t, env.do(t, http.MethodPost, "/api/episodes", episodeReq("n", "one", "demo")), http.StatusAccepted)
	resp := env.do(t, http.MethodPost, "/api/episodes", episodeReq("n", "two", "demo"))
	expectStatus(t, resp, http.StatusTooManyRequests)
	if resp.Header.Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
	// Reads are not limited.
	expectStatus(t, env.do(t, http.MethodGet, "/api/queues", nil), http.StatusOK)
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestWebhook(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, func(c *Config) {
		c.Webhooks = map[string]WebhookSourceCfg{
			"crm": {Secret: "whsec-1234", Group: "crm_events"},
		}
	})
	payload := []byte(`{"deal":"closed","amount":1200}`)

	post := func(source, sig string) *http.Response {
		req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/webhooks/"+source, bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Episode-Name", "Deal closed")
		if sig != "" {
			req.Header.Set("X-Signature-256", sig)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	expectStatus(t, post("crm", ""), http.StatusUnauthorized)
	expectStatus(t, post("crm", sign(payload, "wrong")), http.StatusUnauthorized)
	expectStatus(t, post("erp", sign(payload, "whsec-1234")), http.StatusNotFound)

	resp := post("crm", sign(payload, "whsec-1234"))
	expectStatus(t, resp, http.StatusAccepted)
	if res := decodeBody[ingest.Result](t, resp); res.Group != "crm_events" || res.Status != ingest.StatusQueued {
		t.Errorf("result = %+v", res)
	}
}

func TestWebhookJob(t *testing.T) {
	t.Parallel()

	req, _ := http.NewRequest(http.MethodPost, "/webhooks/mail", nil)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	job := webhookJob("mail", WebhookSourceCfg{}, req, []byte("hello"))
	if job.Source != episode.SourceText || job.Name != "mail webhook" || job.SourceDescription != "webhook:mail" {
		t.Errorf("job = %+v", job)
	}
	if job.Body.Text() != "hello" {
		t.Errorf("body = %q", job.Body.Text())
	}
}

func TestEventStream(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/events?group=stream"
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + testToken}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	waitFor(t, func() bool { return env.hub.Subscribers() == 1 })

	expectStatus(t, env.do(t, http.MethodPost, "/api/episodes", episodeReq("n", "filtered out", "other")), http.StatusAccepted)
	res := decodeBody[ingest.Result](t, env.do(t, http.MethodPost, "/api/episodes", episodeReq("n", "kept", "stream")))

	// The worker may announce its attempt before the submission is
	// announced, so read until the queued event shows up.
	var queued events.Event
	for queued.Type != events.EpisodeQueued {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var ev events.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatal(err)
		}
		if ev.Group != "stream" {
			t.Fatalf("event for another group delivered: %+v", ev)
		}
		if ev.Type == events.EpisodeQueued {
			queued = ev
		}
	}
	if queued.Identity != res.Identity {
		t.Errorf("queued event = %+v, want identity %s", queued, res.Identity)
	}

	_ = conn.Close(websocket.StatusNormalClosure, "")
	waitFor(t, func() bool { return env.hub.Subscribers() == 0 })
}
