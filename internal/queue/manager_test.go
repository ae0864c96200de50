package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flemzord/ingestd/internal/episode"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newJob(name string) episode.Job {
	j := episode.Job{Name: name, Body: episode.SingleBody(name)}
	j.Normalize(time.Now())
	return j
}

func newTestManager(t *testing.T, h Handler) *Manager {
	t.Helper()
	m, err := NewManager(Config{Handler: h})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}

func TestNewManager_RequiresHandler(t *testing.T) {
	t.Parallel()

	if _, err := NewManager(Config{}); !errors.Is(err, ErrNoHandler) {
		t.Errorf("err = %v, want ErrNoHandler", err)
	}
}

func TestManager_FIFOWithinGroup(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var seen []string
	m := newTestManager(t, func(_ context.Context, job episode.Job) error {
		mu.Lock()
		seen = append(seen, job.Body.Text())
		mu.Unlock()
		return nil
	})

	want := make([]string, 50)
	for i := range want {
		want[i] = fmt.Sprintf("B%d", i)
		if _, err := m.Enqueue("demo", newJob(want[i])); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == len(want)
	})

	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(seen, want) {
		t.Errorf("order = %v, want %v", seen, want)
	}
}

func TestManager_OneWorkerPerGroup(t *testing.T) {
	t.Parallel()

	var current, peak atomic.Int32
	var done atomic.Int32
	m := newTestManager(t, func(_ context.Context, _ episode.Job) error {
		cur := current.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		current.Add(-1)
		done.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Enqueue("serial", newJob("x"))
		}()
	}
	wg.Wait()

	waitFor(t, func() bool { return done.Load() == 20 })

	if got := peak.Load(); got != 1 {
		t.Errorf("max concurrent handlers for one group = %d, want 1", got)
	}
}

func TestManager_GroupsRunInParallel(t *testing.T) {
	t.Parallel()

	enteredA := make(chan struct{})
	enteredB := make(chan struct{})
	finished := make(chan struct{}, 2)

	m := newTestManager(t, func(_ context.Context, job episode.Job) error {
		switch job.Group {
		case "alpha":
			close(enteredA)
			<-enteredB
		case "beta":
			close(enteredB)
			<-enteredA
		}
		finished <- struct{}{}
		return nil
	})

	a := newJob("a")
	a.Group = "alpha"
	b := newJob("b")
	b.Group = "beta"
	_, _ = m.Enqueue("alpha", a)
	_, _ = m.Enqueue("beta", b)

	// Each handler waits for the other to start; serial execution would deadlock.
	for i := 0; i < 2; i++ {
		select {
		case <-finished:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out: different groups should run in parallel")
		}
	}
}

func TestManager_EnqueueRacingWorkerExit(t *testing.T) {
	t.Parallel()

	var handled atomic.Int64
	m := newTestManager(t, func(_ context.Context, _ episode.Job) error {
		handled.Add(1)
		return nil
	})

	// Enqueue in bursts so the worker repeatedly drains and exits while
	// new jobs arrive; no job may be stranded.
	const total = 2000
	for i := 0; i < total; i++ {
		if _, err := m.Enqueue("race", newJob("r")); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		if i%7 == 0 {
			time.Sleep(time.Microsecond)
		}
	}

	waitFor(t, func() bool { return handled.Load() == total })
	waitFor(t, func() bool {
		stats, err := m.Stats("race")
		return err == nil && !stats[0].Active && stats[0].Depth == 0
	})
}

func TestManager_FailedJobDoesNotStopWorker(t *testing.T) {
	t.Parallel()

	var handled atomic.Int32
	m := newTestManager(t, func(_ context.Context, job episode.Job) error {
		handled.Add(1)
		if job.Name == "bad" {
			return errors.New("engine exploded")
		}
		if job.Name == "panic" {
			panic("boom")
		}
		return nil
	})

	for _, name := range []string{"bad", "panic", "good"} {
		_, _ = m.Enqueue("g1", newJob(name))
	}

	waitFor(t, func() bool { return handled.Load() == 3 })
	waitFor(t, func() bool {
		stats, _ := m.Stats("g1")
		return stats[0].Processed == 1 && stats[0].Failed == 2
	})
}

func TestManager_PeekDoesNotMutate(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	m := newTestManager(t, func(_ context.Context, _ episode.Job) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})
	defer close(release)

	if _, err := m.Peek("nobody", 0); !errors.Is(err, ErrNoQueue) {
		t.Errorf("Peek(unknown) err = %v, want ErrNoQueue", err)
	}

	// First job is taken by the worker and blocks; the next three wait.
	for _, name := range []string{"running", "j0", "j1", "j2"} {
		_, _ = m.Enqueue("inspect", newJob(name))
	}
	<-started

	for i := 0; i < 3; i++ {
		for round := 0; round < 2; round++ {
			job, err := m.Peek("inspect", i)
			if err != nil {
				t.Fatalf("Peek(%d): %v", i, err)
			}
			if want := fmt.Sprintf("j%d", i); job.Name != want {
				t.Errorf("Peek(%d) = %q, want %q", i, job.Name, want)
			}
		}
	}

	if _, err := m.Peek("inspect", 3); !errors.Is(err, ErrIndexRange) {
		t.Errorf("Peek(3) err = %v, want ErrIndexRange", err)
	}
	if _, err := m.Peek("inspect", -1); !errors.Is(err, ErrIndexRange) {
		t.Errorf("Peek(-1) err = %v, want ErrIndexRange", err)
	}

	stats, err := m.Stats("inspect")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[0].Depth != 3 || !stats[0].Active {
		t.Errorf("stats = %+v, want depth 3 and an active worker", stats[0])
	}
}

func TestManager_PeekEmpty(t *testing.T) {
	t.Parallel()

	var handled atomic.Int32
	m := newTestManager(t, func(_ context.Context, _ episode.Job) error {
		handled.Add(1)
		return nil
	})
	_, _ = m.Enqueue("drained", newJob("x"))
	waitFor(t, func() bool { return handled.Load() == 1 })

	if _, err := m.Peek("drained", 0); !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("err = %v, want ErrQueueEmpty", err)
	}
}

func TestManager_StatsAllGroupsSorted(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	m := newTestManager(t, func(_ context.Context, _ episode.Job) error {
		<-block
		return nil
	})
	defer close(block)

	for _, g := range []string{"zeta", "alpha", "mid"} {
		_, _ = m.Enqueue(g, newJob(g))
	}

	stats, err := m.Stats("")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	var groups []string
	for _, s := range stats {
		groups = append(groups, s.Group)
	}
	if want := []string{"alpha", "mid", "zeta"}; !slices.Equal(groups, want) {
		t.Errorf("groups = %v, want %v", groups, want)
	}
	if _, err := m.Stats("unknown"); !errors.Is(err, ErrNoQueue) {
		t.Errorf("Stats(unknown) err = %v, want ErrNoQueue", err)
	}
}

func TestManager_CloseCancelsAndRejects(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	m, err := NewManager(Config{Handler: func(ctx context.Context, _ episode.Job) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}})
	if err != nil {
		t.Fatal(err)
	}

	_, _ = m.Enqueue("g", newJob("first"))
	_, _ = m.Enqueue("g", newJob("dropped"))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := m.Enqueue("g", newJob("late")); !errors.Is(err, ErrClosed) {
		t.Errorf("Enqueue after Close err = %v, want ErrClosed", err)
	}
	if n := m.Pending(); n != 0 {
		t.Errorf("Pending() = %d after close, want 0", n)
	}
}

func TestManager_Metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	var handled atomic.Int32
	m, err := NewManager(Config{
		Metrics: metrics,
		Handler: func(_ context.Context, job episode.Job) error {
			defer handled.Add(1)
			if job.Name == "bad" {
				return errors.New("nope")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = m.Close(context.Background()) }()

	_, _ = m.Enqueue("g", newJob("ok"))
	_, _ = m.Enqueue("g", newJob("bad"))
	waitFor(t, func() bool { return handled.Load() == 2 })

	waitFor(t, func() bool {
		return testutil.ToFloat64(metrics.jobs.WithLabelValues("g", "completed")) == 1 &&
			testutil.ToFloat64(metrics.jobs.WithLabelValues("g", "failed")) == 1
	})
	waitFor(t, func() bool { return testutil.ToFloat64(metrics.workers) == 0 })
	if got := testutil.ToFloat64(metrics.depth.WithLabelValues("g")); got != 0 {
		t.Errorf("depth gauge = %v, want 0", got)
	}
}
