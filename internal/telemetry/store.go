package telemetry

import (
	"context"
	"time"
)

// ServiceName is the service registry key of the configured Store.
const ServiceName = "telemetry.store"

// Start describes the beginning of one processing attempt.
type Start struct {
	Identity    string
	DisplayName string
	Group       string
	At          time.Time
}

// StepUpdate describes a step transition.
type StepUpdate struct {
	Identity string
	Name     string
	Status   StepStatus
	Data     map[string]any
	At       time.Time
}

// Querier is the read-only diagnostic surface.
type Querier interface {
	// Trace returns the timeline of identity or ErrNotFound.
	Trace(ctx context.Context, identity string) (Trace, error)
	// ErrorPatterns groups all errors by type, most affected first.
	ErrorPatterns(ctx context.Context) ([]ErrorPattern, error)
	// IdentitiesByErrorType lists identities with at least one error of type.
	IdentitiesByErrorType(ctx context.Context, errType string, limit int) ([]string, error)
	Stats(ctx context.Context) (Stats, error)
	// RecentErrors returns the newest errors first.
	RecentErrors(ctx context.Context, limit int) ([]ErrorEntry, error)
	// Search matches term case-insensitively against identity and name.
	Search(ctx context.Context, term string, limit int) ([]Log, error)
	GroupStats(ctx context.Context, group string) (GroupStats, error)
	StepTimings(ctx context.Context) ([]StepTiming, error)
	FailedEpisodes(ctx context.Context, limit int) ([]Log, error)
}

// Store persists telemetry. Implementations must tolerate concurrent
// writers for different identities; writes for one identity are issued
// sequentially by the worker that owns it.
type Store interface {
	Querier

	// UpsertStart creates the log entry or increments its attempt count,
	// and always inserts a fresh in-progress Tracking row. It returns the
	// attempt number.
	UpsertStart(ctx context.Context, s Start) (int, error)

	// UpsertStep closes the open ("started") step with the same name when
	// the new status is terminal; otherwise it creates a new step row.
	UpsertStep(ctx context.Context, u StepUpdate) (string, error)

	// InsertError attaches e to the latest step named e.StepName, creating
	// that step with status error when none exists.
	InsertError(ctx context.Context, e ErrorEntry) (string, error)

	// MarkErrorsRetried flags the unresolved errors of a step as retried.
	MarkErrorsRetried(ctx context.Context, identity, step string) (int, error)

	// CloseCompletion sets the final status and duration of the log entry
	// and closes the in-progress tracking rows.
	CloseCompletion(ctx context.Context, identity string, status Status, at time.Time) (Log, error)

	InsertTiming(ctx context.Context, t Timing) error

	// LinkStepSequence links consecutive steps of identity by start time.
	LinkStepSequence(ctx context.Context, identity string) error

	// Purge removes all telemetry and returns the number of log entries removed.
	Purge(ctx context.Context) (int, error)

	// PurgeBefore removes finished episodes that ended before t.
	PurgeBefore(ctx context.Context, t time.Time) (int, error)
}
