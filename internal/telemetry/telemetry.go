// Package telemetry records the processing timeline of every episode
// (attempts, steps, errors, timings) and exposes read queries over it.
//
// Writes go through a Recorder, which never returns errors: a telemetry
// failure is logged and the ingestion attempt carries on.
package telemetry

import (
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrNotFound is returned by queries for an identity with no log entry.
var ErrNotFound = errors.New("telemetry: not found")

// Status is the state of an episode log entry.
type Status string

// Log statuses.
const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// StepStatus is the state of a processing step.
type StepStatus string

// Step statuses.
const (
	StepStarted StepStatus = "started"
	StepSuccess StepStatus = "success"
	StepWarning StepStatus = "warning"
	StepError   StepStatus = "error"
)

// Error resolution statuses.
const (
	ResolutionUnresolved     = "unresolved"
	ResolutionRetryAttempted = "retry_attempted"
)

// TrackingInProgress is the status of an attempt that has not completed.
const TrackingInProgress = "in_progress"

// Log is the single upserted entry for one episode identity.
type Log struct {
	Identity     string     `json:"identity"`
	DisplayName  string     `json:"name"`
	Group        string     `json:"group"`
	Status       Status     `json:"status"`
	AttemptCount int        `json:"attempt_count"`
	StartTime    time.Time  `json:"start_time"`
	LastAttempt  time.Time  `json:"last_attempt_time"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	DurationMS   *int64     `json:"processing_time_ms,omitempty"`
}

// Tracking is one processing attempt.
type Tracking struct {
	ID         string     `json:"id"`
	Identity   string     `json:"identity"`
	Attempt    int        `json:"attempt"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	DurationMS *int64     `json:"processing_time_ms,omitempty"`
}

// Step is one processing step row.
type Step struct {
	ID         string         `json:"id"`
	Identity   string         `json:"identity"`
	Name       string         `json:"name"`
	Status     StepStatus     `json:"status"`
	StartTime  time.Time      `json:"start_time"`
	EndTime    *time.Time     `json:"end_time,omitempty"`
	DurationMS *int64         `json:"duration_ms,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	// NextID links to the step that started after this one.
	NextID string `json:"next_step_id,omitempty"`
}

// ErrorEntry is one recorded failure, attached to a step.
type ErrorEntry struct {
	ID         string         `json:"id"`
	Identity   string         `json:"identity"`
	StepID     string         `json:"step_id"`
	StepName   string         `json:"step_name"`
	Type       string         `json:"error_type"`
	Message    string         `json:"error_message"`
	Stack      string         `json:"stack_trace,omitempty"`
	Resolution string         `json:"resolution_status"`
	Context    map[string]any `json:"context,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Timing is the analytics record derived from a completion.
type Timing struct {
	Identity   string    `json:"identity"`
	Status     Status    `json:"status"`
	DurationMS int64     `json:"processing_time_ms"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Trace is the full timeline of one identity.
type Trace struct {
	Log      Log          `json:"log"`
	Attempts []Tracking   `json:"attempts"`
	Steps    []Step       `json:"steps"`
	Errors   []ErrorEntry `json:"errors"`
	Timings  []Timing     `json:"timings,omitempty"`
}

// Succeeded reports whether the episode completed.
func (t Trace) Succeeded() bool { return t.Log.Status == StatusCompleted }

// ErrorPattern aggregates errors of one type.
type ErrorPattern struct {
	Type             string   `json:"error_type"`
	Occurrences      int      `json:"occurrences"`
	AffectedEpisodes int      `json:"affected_episodes"`
	Samples          []string `json:"sample_episodes"`
}

// Stats are system-wide processing counters.
type Stats struct {
	Total         int     `json:"total_episodes"`
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
	InProgress    int     `json:"in_progress"`
	AvgDurationMS float64 `json:"avg_processing_time_ms"`
	TotalErrors   int     `json:"total_errors"`
	SuccessRate   float64 `json:"success_rate"`
}

// GroupStats are processing counters for the episodes of one group.
type GroupStats struct {
	Group      string `json:"group"`
	Total      int    `json:"total"`
	InProgress int    `json:"in_progress"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`
}

// StepTiming summarises the closed durations of one step name.
type StepTiming struct {
	Step  string  `json:"step"`
	Count int     `json:"count"`
	AvgMS float64 `json:"avg_ms"`
	MinMS int64   `json:"min_ms"`
	MaxMS int64   `json:"max_ms"`
	P95MS int64   `json:"p95_ms"`
}

// SuccessRate returns completed/total as a percentage, 0 when total is 0.
func SuccessRate(completed, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(completed) / float64(total) * 100
}

// NewID returns a lexically sortable row id.
func NewID() string {
	return ulid.Make().String()
}

// DefaultRecentErrors is the limit used when a caller passes 0.
const DefaultRecentErrors = 20
