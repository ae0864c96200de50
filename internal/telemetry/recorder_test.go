package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

// stepClock returns a clock advancing by step on every call.
func stepClock(start time.Time, step time.Duration) func() time.Time {
	now := start
	return func() time.Time {
		t := now
		now = now.Add(step)
		return t
	}
}

func newTestRecorder(store Store) *Recorder {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return NewRecorder(store, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
		WithClock(stepClock(base, 10*time.Millisecond)))
}

func TestRecorder_StartTwiceIncrementsAttempt(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	r := newTestRecorder(store)

	if got := r.StartEpisode(ctx, "id-1", "A", "demo"); got != 1 {
		t.Errorf("first attempt = %d, want 1", got)
	}
	if got := r.StartEpisode(ctx, "id-1", "A", "demo"); got != 2 {
		t.Errorf("second attempt = %d, want 2", got)
	}

	stats, _ := store.Stats(ctx)
	if stats.Total != 1 {
		t.Errorf("log entries = %d, want 1", stats.Total)
	}
	tr, err := store.Trace(ctx, "id-1")
	if err != nil {
		t.Fatalf("Trace: %v", err)
	}
	if tr.Log.AttemptCount != 2 {
		t.Errorf("AttemptCount = %d, want 2", tr.Log.AttemptCount)
	}
	if len(tr.Attempts) != 2 || tr.Attempts[1].Attempt != 2 {
		t.Errorf("attempts = %+v, want two tracking rows", tr.Attempts)
	}
}

func TestRecorder_StepOpenThenClose(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	r := newTestRecorder(store)

	r.StartEpisode(ctx, "id", "A", "g")
	r.RecordStep(ctx, "id", "ingestion", StepStarted, nil)
	r.RecordStep(ctx, "id", "ingestion", StepSuccess, map[string]any{"nodes": 3})
	// No open step left: a second terminal status creates a new row.
	r.RecordStep(ctx, "id", "ingestion", StepWarning, nil)

	tr, _ := store.Trace(ctx, "id")
	if len(tr.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(tr.Steps))
	}
	first := tr.Steps[0]
	if first.Status != StepSuccess || first.EndTime == nil || first.DurationMS == nil || *first.DurationMS != 10 {
		t.Errorf("closed step = %+v, want success with 10ms duration", first)
	}
	if first.Data["nodes"] != 3 {
		t.Errorf("step data = %v", first.Data)
	}
	if tr.Steps[1].Status != StepWarning {
		t.Errorf("second step status = %q, want warning", tr.Steps[1].Status)
	}
}

func TestRecorder_ErrorAutoCreatesStep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	r := newTestRecorder(store)

	r.StartEpisode(ctx, "id", "A", "g")
	r.RecordError(ctx, "id", "extraction", "*errors.errorString", "boom", "stack", map[string]any{"attempt_count": 1})

	tr, _ := store.Trace(ctx, "id")
	if len(tr.Steps) != 1 || tr.Steps[0].Status != StepError || tr.Steps[0].Data["auto_created"] != true {
		t.Fatalf("steps = %+v, want one auto-created error step", tr.Steps)
	}
	if len(tr.Errors) != 1 {
		t.Fatalf("errors = %d, want 1", len(tr.Errors))
	}
	e := tr.Errors[0]
	if e.StepID != tr.Steps[0].ID || e.Resolution != ResolutionUnresolved || e.Context["attempt_count"] != 1 {
		t.Errorf("error = %+v", e)
	}

	r.MarkRetried(ctx, "id", "extraction")
	tr, _ = store.Trace(ctx, "id")
	if tr.Errors[0].Resolution != ResolutionRetryAttempted {
		t.Errorf("resolution = %q, want %q", tr.Errors[0].Resolution, ResolutionRetryAttempted)
	}
}

func TestRecorder_CompletionDerivesTimingAndLinks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	r := newTestRecorder(store)

	r.StartEpisode(ctx, "id", "A", "g")
	r.RecordStep(ctx, "id", "prepare", StepSuccess, nil)
	r.RecordStep(ctx, "id", "ingestion", StepStarted, nil)
	r.RecordStep(ctx, "id", "ingestion", StepSuccess, nil)
	r.RecordCompletion(ctx, "id", StatusCompleted)

	tr, _ := store.Trace(ctx, "id")
	if tr.Log.Status != StatusCompleted || tr.Log.EndTime == nil {
		t.Fatalf("log = %+v, want completed", tr.Log)
	}
	if *tr.Log.DurationMS != 40 {
		t.Errorf("duration = %d, want 40", *tr.Log.DurationMS)
	}
	if len(tr.Timings) != 1 || tr.Timings[0].DurationMS != 40 {
		t.Errorf("timings = %+v", tr.Timings)
	}
	if tr.Steps[0].NextID != tr.Steps[1].ID || tr.Steps[1].NextID != "" {
		t.Errorf("step links = %q -> %q", tr.Steps[0].NextID, tr.Steps[1].NextID)
	}
	if tr.Attempts[0].Status != string(StatusCompleted) {
		t.Errorf("tracking status = %q", tr.Attempts[0].Status)
	}
	if !tr.Succeeded() {
		t.Error("Succeeded() = false")
	}
}

// failingStore fails every write.
type failingStore struct {
	*MemoryStore
}

var errDown = errors.New("store down")

func (failingStore) UpsertStart(context.Context, Start) (int, error)        { return 0, errDown }
func (failingStore) UpsertStep(context.Context, StepUpdate) (string, error) { return "", errDown }
func (failingStore) InsertError(context.Context, ErrorEntry) (string, error) {
	return "", errDown
}
func (failingStore) MarkErrorsRetried(context.Context, string, string) (int, error) {
	return 0, errDown
}
func (failingStore) CloseCompletion(context.Context, string, Status, time.Time) (Log, error) {
	return Log{}, errDown
}

func TestRecorder_WriteFailuresAreLogged(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	r := NewRecorder(failingStore{NewMemoryStore()}, slog.New(slog.NewTextHandler(&buf, nil)))
	ctx := context.Background()

	if got := r.StartEpisode(ctx, "id", "A", "g"); got != 0 {
		t.Errorf("attempt on failure = %d, want 0", got)
	}
	r.RecordStep(ctx, "id", "ingestion", StepStarted, nil)
	r.RecordError(ctx, "id", "ingestion", "T", "m", "", nil)
	r.MarkRetried(ctx, "id", "ingestion")
	r.RecordCompletion(ctx, "id", StatusFailed)

	out := buf.String()
	if n := strings.Count(out, "telemetry: write failed"); n != 5 {
		t.Errorf("logged failures = %d, want 5\n%s", n, out)
	}
	if !strings.Contains(out, "store down") {
		t.Errorf("log does not carry the cause: %s", out)
	}
}
