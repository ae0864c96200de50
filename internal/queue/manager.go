package queue

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/flemzord/ingestd/internal/episode"
)

// previewRunes is how much of a job body the enqueue log shows.
const previewRunes = 60

// Handler processes one job. A returned error is terminal for that job:
// the worker logs it and moves on to the next one.
type Handler func(ctx context.Context, job episode.Job) error

// Config holds the dependencies of a Manager.
type Config struct {
	Handler Handler
	Logger  *slog.Logger

	// Metrics is optional.
	Metrics *Metrics
}

// Manager owns the per-group queues and their workers.
//
// mu guards the group map and the closed flag; each groupQueue has its own
// mutex for the job slice and the worker flag. Neither is held while the
// handler runs.
type Manager struct {
	mu     sync.Mutex
	groups map[string]*groupQueue
	closed bool

	handler Handler
	logger  *slog.Logger
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type groupQueue struct {
	mu        sync.Mutex
	jobs      []episode.Job
	active    bool
	processed int64
	failed    int64
}

// GroupStats is a point-in-time view of one group queue.
type GroupStats struct {
	Group     string `json:"group"`
	Depth     int    `json:"size"`
	Empty     bool   `json:"is_empty"`
	Active    bool   `json:"worker_active"`
	Processed int64  `json:"processed"`
	Failed    int64  `json:"failed"`
}

// NewManager creates a Manager. Workers run under a context derived from
// context.Background and cancelled by Close.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Handler == nil {
		return nil, ErrNoHandler
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		groups:  make(map[string]*groupQueue),
		handler: cfg.Handler,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Enqueue appends job to the queue of group, creating the queue on first
// use, and starts a worker if none is draining it. It returns the queue
// depth after the append.
func (m *Manager) Enqueue(group string, job episode.Job) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}

	q, ok := m.groups[group]
	if !ok {
		q = &groupQueue{}
		m.groups[group] = q
	}

	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	depth := len(q.jobs)
	spawn := !q.active
	if spawn {
		q.active = true
		m.wg.Add(1)
	}
	q.mu.Unlock()

	m.metrics.setDepth(group, depth)
	if spawn {
		m.metrics.workerStarted()
		go m.work(group, q)
	}

	m.logger.Debug("queue: job enqueued",
		"group", group,
		"identity", job.Identity,
		"preview", job.Body.Preview(previewRunes),
		"depth", depth,
		"worker_started", spawn,
	)
	return depth, nil
}

// work drains q until it is observed empty under q.mu. Clearing the
// active flag happens in the same critical section as the empty check, so
// an Enqueue racing with termination either lands before the check (and is
// drained here) or sees active == false (and starts a new worker).
func (m *Manager) work(group string, q *groupQueue) {
	defer m.wg.Done()
	defer m.metrics.workerStopped()

	for {
		q.mu.Lock()
		if m.ctx.Err() != nil {
			dropped := len(q.jobs)
			q.jobs = nil
			q.active = false
			q.mu.Unlock()
			m.metrics.setDepth(group, 0)
			if dropped > 0 {
				m.logger.Warn("queue: shutting down, unprocessed jobs dropped", "group", group, "count", dropped)
			}
			return
		}
		if len(q.jobs) == 0 {
			q.active = false
			q.mu.Unlock()
			m.logger.Debug("queue: worker idle, exiting", "group", group)
			return
		}
		job := q.jobs[0]
		q.jobs[0] = episode.Job{}
		q.jobs = q.jobs[1:]
		depth := len(q.jobs)
		q.mu.Unlock()

		m.metrics.setDepth(group, depth)

		err := m.run(job)

		q.mu.Lock()
		if err != nil {
			q.failed++
		} else {
			q.processed++
		}
		q.mu.Unlock()

		if err != nil {
			m.metrics.jobDone(group, "failed")
			m.logger.Error("queue: job failed",
				"group", group,
				"identity", job.Identity,
				"name", job.Name,
				"error", err,
			)
			continue
		}
		m.metrics.jobDone(group, "completed")
	}
}

// run calls the handler, turning a panic into an error so one bad job
// cannot take the worker down with the rest of the queue behind it.
func (m *Manager) run(job episode.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue: handler panic: %v", r)
		}
	}()
	return m.handler(m.ctx, job)
}

// Stats returns stats for one group, or for every group when group is "".
func (m *Manager) Stats(group string) ([]GroupStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if group != "" {
		q, ok := m.groups[group]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoQueue, group)
		}
		return []GroupStats{q.stats(group)}, nil
	}

	out := make([]GroupStats, 0, len(m.groups))
	for g, q := range m.groups {
		out = append(out, q.stats(g))
	}
	slices.SortFunc(out, func(a, b GroupStats) int { return cmp.Compare(a.Group, b.Group) })
	return out, nil
}

func (q *groupQueue) stats(group string) GroupStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return GroupStats{
		Group:     group,
		Depth:     len(q.jobs),
		Empty:     len(q.jobs) == 0,
		Active:    q.active,
		Processed: q.processed,
		Failed:    q.failed,
	}
}

// Peek returns a copy of the job waiting at index (0 is the next to run).
// The queue is not modified.
func (m *Manager) Peek(group string, index int) (episode.Job, error) {
	m.mu.Lock()
	q, ok := m.groups[group]
	m.mu.Unlock()
	if !ok {
		return episode.Job{}, fmt.Errorf("%w: %s", ErrNoQueue, group)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return episode.Job{}, ErrQueueEmpty
	}
	if index < 0 || index >= len(q.jobs) {
		return episode.Job{}, fmt.Errorf("%w: index %d, queue size %d", ErrIndexRange, index, len(q.jobs))
	}
	return q.jobs[index].Clone(), nil
}

// Pending returns the number of jobs waiting across all groups.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, q := range m.groups {
		q.mu.Lock()
		total += len(q.jobs)
		q.mu.Unlock()
	}
	return total
}

// Close stops accepting jobs, cancels the worker context (interrupting
// backoff sleeps) and waits for workers to exit or ctx to expire. Jobs
// still queued when their worker notices the cancellation are dropped.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("queue: all workers stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue: waiting for workers: %w", ctx.Err())
	}
}
