package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrUnknownJob is returned by RunNow for a name that was never registered.
var ErrUnknownJob = errors.New("cron: unknown job")

// ErrBusy is returned by RunNow when the job is already running.
var ErrBusy = errors.New("cron: job already running")

// JobStatus describes a registered job for status reporting.
type JobStatus struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	Next      *time.Time `json:"next_run,omitempty"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

type entry struct {
	job     Job
	lock    sync.Mutex // held while the job runs; ticks use TryLock
	id      cron.EntryID
	lastRun time.Time
	lastErr error
}

// Scheduler runs maintenance jobs on cron expressions. A job never runs
// concurrently with itself: an overlapping tick is skipped.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]*entry
	order   []string
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler. Jobs must be registered before Start().
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		entries: make(map[string]*entry),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// RegisterJob adds a job. Names must be unique.
func (s *Scheduler) RegisterJob(j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := j.Name()
	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("cron: duplicate job name %q", name)
	}
	if s.cron != nil {
		return fmt.Errorf("cron: register %q after start", name)
	}
	s.entries[name] = &entry{job: j}
	s.order = append(s.order, name)
	return nil
}

// Start begins executing registered jobs. It fails on the first invalid
// schedule expression.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := cron.New(cron.WithParser(parser))
	for _, name := range s.order {
		e := s.entries[name]
		id, err := c.AddFunc(e.job.Schedule(), func() {
			if !e.lock.TryLock() {
				s.logger.Warn("cron: job still running, skipping tick", "job", name)
				return
			}
			defer e.lock.Unlock()
			s.run(e)
		})
		if err != nil {
			return fmt.Errorf("cron: invalid schedule for job %q: %w", name, err)
		}
		e.id = id
	}

	s.cron = c
	c.Start()
	s.logger.Info("cron: scheduler started", "jobs", len(s.order))
	return nil
}

// RunNow executes a job immediately on the caller's goroutine.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	if !e.lock.TryLock() {
		return fmt.Errorf("%w: %q", ErrBusy, name)
	}
	defer e.lock.Unlock()
	return s.run(e)
}

// run executes e. The caller holds e.lock.
func (s *Scheduler) run(e *entry) error {
	name := e.job.Name()
	s.logger.Debug("cron: job started", "job", name)
	err := e.job.Run(s.ctx)

	s.mu.Lock()
	e.lastRun = time.Now()
	e.lastErr = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("cron: job failed", "job", name, "error", err)
		return err
	}
	s.logger.Debug("cron: job completed", "job", name)
	return nil
}

// Jobs reports every registered job sorted by name.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.entries))
	for name, e := range s.entries {
		st := JobStatus{Name: name, Schedule: e.job.Schedule()}
		if s.cron != nil && e.id != 0 {
			if next := s.cron.Entry(e.id).Next; !next.IsZero() {
				st.Next = &next
			}
		}
		if !e.lastRun.IsZero() {
			last := e.lastRun
			st.LastRun = &last
		}
		if e.lastErr != nil {
			st.LastError = e.lastErr.Error()
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop(_ context.Context) error {
	s.cancel()

	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
		s.logger.Info("cron: scheduler stopped")
	}
	return nil
}
