package telemetry

import (
	"context"
	"log/slog"
	"time"
)

// Recorder writes telemetry on behalf of the processor. Every method is
// best-effort: store errors are logged and swallowed so that ingestion
// never fails because of its observability side channel.
type Recorder struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder returns a Recorder writing to store. A nil logger means
// slog.Default().
func NewRecorder(store Store, logger *slog.Logger, opts ...RecorderOption) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{store: store, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StartEpisode records the start of an attempt. It returns the attempt
// number, or 0 if the write failed.
func (r *Recorder) StartEpisode(ctx context.Context, identity, displayName, group string) int {
	attempt, err := r.store.UpsertStart(ctx, Start{
		Identity:    identity,
		DisplayName: displayName,
		Group:       group,
		At:          r.now(),
	})
	if err != nil {
		r.warn("start episode", identity, err)
		return 0
	}
	return attempt
}

// RecordStep opens or closes a named step.
func (r *Recorder) RecordStep(ctx context.Context, identity, step string, status StepStatus, data map[string]any) {
	_, err := r.store.UpsertStep(ctx, StepUpdate{
		Identity: identity,
		Name:     step,
		Status:   status,
		Data:     data,
		At:       r.now(),
	})
	if err != nil {
		r.warn("record step "+step, identity, err)
	}
}

// RecordError stores an error against step.
func (r *Recorder) RecordError(ctx context.Context, identity, step, errType, message, stack string, errCtx map[string]any) {
	_, err := r.store.InsertError(ctx, ErrorEntry{
		Identity:   identity,
		StepName:   step,
		Type:       errType,
		Message:    message,
		Stack:      stack,
		Resolution: ResolutionUnresolved,
		Context:    errCtx,
		CreatedAt:  r.now(),
	})
	if err != nil {
		r.warn("record error", identity, err)
	}
}

// MarkRetried flags the unresolved errors of step as followed by a retry.
func (r *Recorder) MarkRetried(ctx context.Context, identity, step string) {
	if _, err := r.store.MarkErrorsRetried(ctx, identity, step); err != nil {
		r.warn("mark retried", identity, err)
	}
}

// RecordCompletion closes the log entry. The timing record and step
// links derived from it are written afterwards; their failure is logged
// separately and does not affect the completion itself.
func (r *Recorder) RecordCompletion(ctx context.Context, identity string, status Status) {
	at := r.now()
	log, err := r.store.CloseCompletion(ctx, identity, status, at)
	if err != nil {
		r.warn("record completion", identity, err)
		return
	}

	var duration int64
	if log.DurationMS != nil {
		duration = *log.DurationMS
	}
	if err := r.store.InsertTiming(ctx, Timing{
		Identity:   identity,
		Status:     status,
		DurationMS: duration,
		RecordedAt: at,
	}); err != nil {
		r.warn("insert timing", identity, err)
	}
	if err := r.store.LinkStepSequence(ctx, identity); err != nil {
		r.warn("link steps", identity, err)
	}
}

func (r *Recorder) warn(op, identity string, err error) {
	r.logger.Warn("telemetry: write failed", "op", op, "identity", identity, "error", err)
}
