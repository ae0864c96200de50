package telemetry

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// Query limits. The defaults apply when a caller passes a non-positive limit.
const (
	DefaultSearchLimit = 10
	DefaultListLimit   = 10
	MaxPatternSamples  = 10
)

// MemoryStore is an in-process Store. It loses everything on restart and
// is meant for tests and single-shot tooling.
type MemoryStore struct {
	mu       sync.Mutex
	logs     map[string]*Log
	attempts []Tracking
	steps    []Step
	errors   []ErrorEntry
	timings  []Timing
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string]*Log)}
}

// UpsertStart implements Store.
func (s *MemoryStore) UpsertStart(_ context.Context, st Start) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.logs[st.Identity]
	if !ok {
		l = &Log{
			Identity:    st.Identity,
			DisplayName: st.DisplayName,
			Group:       st.Group,
			Status:      StatusStarted,
			StartTime:   st.At,
		}
		s.logs[st.Identity] = l
	}
	l.AttemptCount++
	l.LastAttempt = st.At

	s.attempts = append(s.attempts, Tracking{
		ID:        NewID(),
		Identity:  st.Identity,
		Attempt:   l.AttemptCount,
		Status:    TrackingInProgress,
		CreatedAt: st.At,
	})
	return l.AttemptCount, nil
}

// UpsertStep implements Store.
func (s *MemoryStore) UpsertStep(_ context.Context, u StepUpdate) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertStepLocked(u), nil
}

func (s *MemoryStore) upsertStepLocked(u StepUpdate) string {
	if u.Status != StepStarted {
		for i := len(s.steps) - 1; i >= 0; i-- {
			st := &s.steps[i]
			if st.Identity == u.Identity && st.Name == u.Name && st.Status == StepStarted {
				closeStep(st, u)
				return st.ID
			}
		}
	}

	st := Step{
		ID:        NewID(),
		Identity:  u.Identity,
		Name:      u.Name,
		Status:    u.Status,
		StartTime: u.At,
		Data:      maps.Clone(u.Data),
	}
	if u.Status != StepStarted {
		closeStep(&st, u)
	}
	s.steps = append(s.steps, st)
	return st.ID
}

func closeStep(st *Step, u StepUpdate) {
	end := u.At
	d := end.Sub(st.StartTime).Milliseconds()
	st.Status = u.Status
	st.EndTime = &end
	st.DurationMS = &d
	if u.Data != nil {
		st.Data = maps.Clone(u.Data)
	}
}

// InsertError implements Store.
func (s *MemoryStore) InsertError(_ context.Context, e ErrorEntry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stepID := ""
	for i := len(s.steps) - 1; i >= 0; i-- {
		if s.steps[i].Identity == e.Identity && s.steps[i].Name == e.StepName {
			stepID = s.steps[i].ID
			break
		}
	}
	if stepID == "" {
		stepID = s.upsertStepLocked(StepUpdate{
			Identity: e.Identity,
			Name:     e.StepName,
			Status:   StepError,
			Data:     map[string]any{"auto_created": true},
			At:       e.CreatedAt,
		})
	}

	e.ID = NewID()
	e.StepID = stepID
	if e.Resolution == "" {
		e.Resolution = ResolutionUnresolved
	}
	e.Context = maps.Clone(e.Context)
	s.errors = append(s.errors, e)
	return e.ID, nil
}

// MarkErrorsRetried implements Store.
func (s *MemoryStore) MarkErrorsRetried(_ context.Context, identity, step string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for i := range s.errors {
		e := &s.errors[i]
		if e.Identity == identity && e.StepName == step && e.Resolution == ResolutionUnresolved {
			e.Resolution = ResolutionRetryAttempted
			n++
		}
	}
	return n, nil
}

// CloseCompletion implements Store.
func (s *MemoryStore) CloseCompletion(_ context.Context, identity string, status Status, at time.Time) (Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.logs[identity]
	if !ok {
		return Log{}, fmt.Errorf("%w: %s", ErrNotFound, identity)
	}
	end := at
	d := end.Sub(l.StartTime).Milliseconds()
	l.Status = status
	l.EndTime = &end
	l.DurationMS = &d

	for i := range s.attempts {
		a := &s.attempts[i]
		if a.Identity == identity && a.Status == TrackingInProgress {
			ad := end.Sub(a.CreatedAt).Milliseconds()
			a.Status = string(status)
			a.EndTime = &end
			a.DurationMS = &ad
		}
	}
	return *l, nil
}

// InsertTiming implements Store.
func (s *MemoryStore) InsertTiming(_ context.Context, t Timing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timings = append(s.timings, t)
	return nil
}

// LinkStepSequence implements Store.
func (s *MemoryStore) LinkStepSequence(_ context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var idx []int
	for i := range s.steps {
		if s.steps[i].Identity == identity {
			idx = append(idx, i)
		}
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return s.steps[a].StartTime.Compare(s.steps[b].StartTime)
	})
	for k := 0; k+1 < len(idx); k++ {
		s.steps[idx[k]].NextID = s.steps[idx[k+1]].ID
	}
	return nil
}

// Purge implements Store.
func (s *MemoryStore) Purge(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.logs)
	s.logs = make(map[string]*Log)
	s.attempts, s.steps, s.errors, s.timings = nil, nil, nil, nil
	return n, nil
}

// PurgeBefore implements Store.
func (s *MemoryStore) PurgeBefore(_ context.Context, t time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gone := make(map[string]bool)
	for id, l := range s.logs {
		if l.EndTime != nil && l.EndTime.Before(t) {
			gone[id] = true
			delete(s.logs, id)
		}
	}
	if len(gone) == 0 {
		return 0, nil
	}
	s.attempts = slices.DeleteFunc(s.attempts, func(a Tracking) bool { return gone[a.Identity] })
	s.steps = slices.DeleteFunc(s.steps, func(st Step) bool { return gone[st.Identity] })
	s.errors = slices.DeleteFunc(s.errors, func(e ErrorEntry) bool { return gone[e.Identity] })
	s.timings = slices.DeleteFunc(s.timings, func(tm Timing) bool { return gone[tm.Identity] })
	return len(gone), nil
}

// Trace implements Querier.
func (s *MemoryStore) Trace(_ context.Context, identity string) (Trace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.logs[identity]
	if !ok {
		return Trace{}, fmt.Errorf("%w: %s", ErrNotFound, identity)
	}
	tr := Trace{Log: *l}
	for _, a := range s.attempts {
		if a.Identity == identity {
			tr.Attempts = append(tr.Attempts, a)
		}
	}
	for _, st := range s.steps {
		if st.Identity == identity {
			tr.Steps = append(tr.Steps, st)
		}
	}
	slices.SortStableFunc(tr.Steps, func(a, b Step) int { return a.StartTime.Compare(b.StartTime) })
	for _, e := range s.errors {
		if e.Identity == identity {
			tr.Errors = append(tr.Errors, e)
		}
	}
	for _, tm := range s.timings {
		if tm.Identity == identity {
			tr.Timings = append(tr.Timings, tm)
		}
	}
	return tr, nil
}

// ErrorPatterns implements Querier.
func (s *MemoryStore) ErrorPatterns(_ context.Context) ([]ErrorPattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byType := make(map[string]*ErrorPattern)
	seen := make(map[string]map[string]bool)
	var order []string
	for _, e := range s.errors {
		p, ok := byType[e.Type]
		if !ok {
			p = &ErrorPattern{Type: e.Type}
			byType[e.Type] = p
			seen[e.Type] = make(map[string]bool)
			order = append(order, e.Type)
		}
		p.Occurrences++
		if !seen[e.Type][e.Identity] {
			seen[e.Type][e.Identity] = true
			p.AffectedEpisodes++
			if len(p.Samples) < MaxPatternSamples {
				p.Samples = append(p.Samples, e.Identity)
			}
		}
	}

	out := make([]ErrorPattern, 0, len(order))
	for _, t := range order {
		out = append(out, *byType[t])
	}
	slices.SortStableFunc(out, func(a, b ErrorPattern) int {
		if c := cmp.Compare(b.AffectedEpisodes, a.AffectedEpisodes); c != 0 {
			return c
		}
		return cmp.Compare(a.Type, b.Type)
	})
	return out, nil
}

// IdentitiesByErrorType implements Querier.
func (s *MemoryStore) IdentitiesByErrorType(_ context.Context, errType string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit = clampLimit(limit, DefaultListLimit)
	seen := make(map[string]bool)
	var out []string
	for i := len(s.errors) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.errors[i]
		if e.Type == errType && !seen[e.Identity] {
			seen[e.Identity] = true
			out = append(out, e.Identity)
		}
	}
	return out, nil
}

// Stats implements Querier.
func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	var sum int64
	var timed int
	for _, l := range s.logs {
		st.Total++
		switch {
		case l.Status == StatusCompleted:
			st.Completed++
		case l.Status == StatusFailed:
			st.Failed++
		case l.Status == StatusStarted && l.EndTime == nil:
			st.InProgress++
		}
		if l.DurationMS != nil {
			sum += *l.DurationMS
			timed++
		}
	}
	if timed > 0 {
		st.AvgDurationMS = float64(sum) / float64(timed)
	}
	st.TotalErrors = len(s.errors)
	st.SuccessRate = SuccessRate(st.Completed, st.Total)
	return st, nil
}

// RecentErrors implements Querier.
func (s *MemoryStore) RecentErrors(_ context.Context, limit int) ([]ErrorEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit = clampLimit(limit, DefaultRecentErrors)
	out := slices.Clone(s.errors)
	slices.SortStableFunc(out, func(a, b ErrorEntry) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Search implements Querier.
func (s *MemoryStore) Search(_ context.Context, term string, limit int) ([]Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit = clampLimit(limit, DefaultSearchLimit)
	needle := strings.ToLower(term)
	var out []Log
	for _, l := range s.logs {
		if strings.Contains(strings.ToLower(l.Identity), needle) ||
			strings.Contains(strings.ToLower(l.DisplayName), needle) {
			out = append(out, *l)
		}
	}
	sortNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GroupStats implements Querier.
func (s *MemoryStore) GroupStats(_ context.Context, group string) (GroupStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gs := GroupStats{Group: group}
	for _, l := range s.logs {
		if l.Group != group {
			continue
		}
		gs.Total++
		switch l.Status {
		case StatusStarted:
			gs.InProgress++
		case StatusCompleted:
			gs.Completed++
		case StatusFailed:
			gs.Failed++
		}
	}
	return gs, nil
}

// StepTimings implements Querier.
func (s *MemoryStore) StepTimings(_ context.Context) ([]StepTiming, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	durations := make(map[string][]int64)
	for _, st := range s.steps {
		if st.Status == StepStarted || st.DurationMS == nil {
			continue
		}
		durations[st.Name] = append(durations[st.Name], *st.DurationMS)
	}

	out := make([]StepTiming, 0, len(durations))
	for name, ds := range durations {
		out = append(out, SummarizeDurations(name, ds))
	}
	slices.SortFunc(out, func(a, b StepTiming) int {
		if c := cmp.Compare(b.AvgMS, a.AvgMS); c != 0 {
			return c
		}
		return cmp.Compare(a.Step, b.Step)
	})
	return out, nil
}

// FailedEpisodes implements Querier.
func (s *MemoryStore) FailedEpisodes(_ context.Context, limit int) ([]Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit = clampLimit(limit, DefaultListLimit)
	var out []Log
	for _, l := range s.logs {
		if l.Status == StatusFailed {
			out = append(out, *l)
		}
	}
	sortNewestFirst(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SummarizeDurations computes count, average, bounds and the
// nearest-rank 95th percentile of ds.
func SummarizeDurations(step string, ds []int64) StepTiming {
	st := StepTiming{Step: step, Count: len(ds)}
	if len(ds) == 0 {
		return st
	}
	sorted := slices.Clone(ds)
	slices.Sort(sorted)
	var sum int64
	for _, d := range sorted {
		sum += d
	}
	st.AvgMS = float64(sum) / float64(len(sorted))
	st.MinMS = sorted[0]
	st.MaxMS = sorted[len(sorted)-1]
	rank := int(math.Ceil(0.95*float64(len(sorted)))) - 1
	st.P95MS = sorted[max(rank, 0)]
	return st
}

func sortNewestFirst(logs []Log) {
	slices.SortFunc(logs, func(a, b Log) int {
		if c := b.LastAttempt.Compare(a.LastAttempt); c != 0 {
			return c
		}
		return cmp.Compare(a.Identity, b.Identity)
	})
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}
