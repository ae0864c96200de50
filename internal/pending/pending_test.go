package pending

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/ingestd/internal/episode"
	"github.com/flemzord/ingestd/internal/registry"
	"github.com/flemzord/ingestd/internal/similarity"
)

type recordingQueue struct {
	mu   sync.Mutex
	jobs map[string][]episode.Job
}

func (q *recordingQueue) Enqueue(group string, job episode.Job) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.jobs == nil {
		q.jobs = make(map[string][]episode.Job)
	}
	q.jobs[group] = append(q.jobs[group], job)
	return len(q.jobs[group]), nil
}

func (q *recordingQueue) total() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, js := range q.jobs {
		n += len(js)
	}
	return n
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store *Store
	kv    *MemoryKV
	queue *recordingQueue
	reg   *registry.Registry
	clock *fakeClock
}

func newFixture() *fixture {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		kv:    NewMemoryKV(),
		queue: &recordingQueue{},
		reg:   registry.New(registry.NewMemoryStore(), nil, registry.WithLogger(logger)),
		clock: &fakeClock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)},
	}
	f.store = NewStore(f.kv, f.queue, f.reg, WithClock(f.clock.Now), WithLogger(logger))
	return f
}

func stagedJob() episode.Job {
	j := episode.Job{Name: "Weekly sync", Body: episode.SingleBody("agenda")}
	j.Normalize(time.Now())
	return j
}

func TestStageResolve(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	job := stagedJob()

	id, err := f.store.Stage(ctx, job, similarity.Suggestion{SuggestedGroup: "weekly_sync", IsNewGroup: true})
	if err != nil {
		t.Fatal(err)
	}
	r, err := f.store.Resolve(ctx, id)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if r.Job.Identity != job.Identity || r.Suggestion.SuggestedGroup != "weekly_sync" {
		t.Errorf("record = %+v", r)
	}
	if got := r.ExpiresAt.Sub(r.CreatedAt); got != DefaultTTL {
		t.Errorf("ttl = %v, want %v", got, DefaultTTL)
	}

	if _, err := f.store.Resolve(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve(unknown) err = %v", err)
	}
}

func TestResolve_ExpiredIsDeleted(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	id, _ := f.store.Stage(ctx, stagedJob(), similarity.Suggestion{})

	f.clock.Advance(DefaultTTL)

	if _, err := f.store.Resolve(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Resolve after TTL err = %v, want ErrNotFound", err)
	}
	if _, err := f.kv.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Error("expired record still in storage")
	}
}

func TestConfirm_InvalidGroupKeepsRecord(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	id, _ := f.store.Stage(ctx, stagedJob(), similarity.Suggestion{})

	if _, err := f.store.Confirm(ctx, id, "bad id!"); !errors.Is(err, registry.ErrInvalidID) {
		t.Fatalf("Confirm(bad id!) err = %v, want ErrInvalidID", err)
	}
	if _, err := f.store.Confirm(ctx, id, "admin"); !errors.Is(err, registry.ErrProtected) {
		t.Fatalf("Confirm(admin) err = %v, want ErrProtected", err)
	}
	if _, err := f.store.Resolve(ctx, id); err != nil {
		t.Errorf("record gone after rejected confirm: %v", err)
	}
	if n := f.queue.total(); n != 0 {
		t.Errorf("jobs enqueued = %d, want 0", n)
	}
}

func TestConfirm_ValidGroup(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	job := stagedJob()
	id, _ := f.store.Stage(ctx, job, similarity.Suggestion{SuggestedGroup: "weekly_sync"})

	c, err := f.store.Confirm(ctx, id, "valid-group")
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if !c.GroupCreated || c.Group != "valid-group" || c.Identity != job.Identity || c.QueueDepth != 1 {
		t.Errorf("confirmation = %+v", c)
	}
	if n := f.queue.total(); n != 1 {
		t.Fatalf("jobs enqueued = %d, want 1", n)
	}
	if got := f.queue.jobs["valid-group"][0].Group; got != "valid-group" {
		t.Errorf("job group = %q", got)
	}
	if _, err := f.store.Resolve(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Error("pending record survived confirmation")
	}
	if _, err := f.reg.Get(ctx, "valid-group"); err != nil {
		t.Errorf("group not registered: %v", err)
	}

	if _, err := f.store.Confirm(ctx, id, "valid-group"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Confirm err = %v, want ErrNotFound", err)
	}
}

func TestConfirm_ConcurrentEnqueuesOnce(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	id, _ := f.store.Stage(ctx, stagedJob(), similarity.Suggestion{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.store.Confirm(ctx, id, "notes")
		}()
	}
	wg.Wait()

	if n := f.queue.total(); n != 1 {
		t.Errorf("jobs enqueued = %d, want 1", n)
	}
}

func TestSweepExpiredAndList(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	old1, _ := f.store.Stage(ctx, stagedJob(), similarity.Suggestion{})
	_, _ = f.store.Stage(ctx, stagedJob(), similarity.Suggestion{})
	f.clock.Advance(20 * time.Hour)
	fresh, _ := f.store.Stage(ctx, stagedJob(), similarity.Suggestion{})
	f.clock.Advance(5 * time.Hour)

	list, err := f.store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != fresh {
		t.Errorf("List = %+v, want only the fresh record", list)
	}

	n, err := f.store.SweepExpired(ctx)
	if err != nil || n != 2 {
		t.Fatalf("SweepExpired = %d, %v; want 2", n, err)
	}
	if _, err := f.kv.Get(ctx, old1); !errors.Is(err, ErrNotFound) {
		t.Error("expired record not swept")
	}
	if _, err := f.kv.Get(ctx, fresh); err != nil {
		t.Error("fresh record swept")
	}
}
