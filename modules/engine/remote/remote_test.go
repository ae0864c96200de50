package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flemzord/ingestd/internal/episode"
)

func newJob(body episode.Body) episode.Job {
	return episode.Job{
		Name:            "Standup",
		Body:            body,
		Source:          episode.SourceText,
		Identity:        "id-1",
		Group:           "notes",
		ReferenceTime:   time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC),
		Tags:            []string{"daily"},
		ExtractionHints: []byte(`{"type":"object"}`),
	}
}

func TestApply(t *testing.T) {
	t.Parallel()

	var got episodePayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/episodes" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" || r.Header.Get("X-Team") != "core" {
			t.Errorf("headers = %v", r.Header)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	e := NewEngine(Config{URL: srv.URL + "/v1/", Token: "tok", Headers: map[string]string{"X-Team": "core"}}, srv.Client())
	if err := e.Apply(context.Background(), newJob(episode.SingleBody("shipped"))); err != nil {
		t.Fatal(err)
	}
	if got.Body != "shipped" || got.UUID != "id-1" || got.GroupID != "notes" || string(got.ExtractionHints) != `{"type":"object"}` {
		t.Errorf("payload = %+v", got)
	}
}

func TestApplyBulk(t *testing.T) {
	t.Parallel()

	var got bulkPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/episodes/bulk" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	job := newJob(episode.BulkBody([]episode.BulkItem{
		{Name: "a", Content: "one", Identity: "a-1", Source: episode.SourceMessage},
		{Name: "b", Content: "two"},
	}))
	if err := NewEngine(Config{URL: srv.URL}, srv.Client()).ApplyBulk(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	if len(got.Episodes) != 2 || got.GroupID != "notes" {
		t.Fatalf("payload = %+v", got)
	}
	if got.Episodes[0].UUID != "a-1" || got.Episodes[0].Source != "message" {
		t.Errorf("item 0 = %+v", got.Episodes[0])
	}
	if got.Episodes[1].UUID != "id-1-1" || got.Episodes[1].Source != "text" || !got.Episodes[1].ReferenceTime.Equal(job.ReferenceTime) {
		t.Errorf("item 1 = %+v", got.Episodes[1])
	}
}

func TestStatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "graph busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewEngine(Config{URL: srv.URL}, srv.Client()).Apply(context.Background(), newJob(episode.SingleBody("x")))
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v", err)
	}
	if se.Code != http.StatusServiceUnavailable || se.Body != "graph busy" || se.ErrorType() != "HTTP503" {
		t.Errorf("status error = %+v", se)
	}
}

func TestCanceledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewEngine(Config{URL: srv.URL}, srv.Client()).Apply(ctx, newJob(episode.SingleBody("x")))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"ok", Config{URL: "https://engine.internal"}, false},
		{"missing url", Config{}, true},
		{"ftp", Config{URL: "ftp://engine"}, true},
		{"bad timeout", Config{URL: "http://e", Timeout: "x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := tt.cfg
			c.defaults()
			if err := c.validate(); (err != nil) != tt.wantErr {
				t.Errorf("validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
