// Package processor is the body of a group worker: it hands one job to the
// mutation engine, retries failures with exponential backoff and writes
// the attempt history to telemetry.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/flemzord/ingestd/internal/episode"
	"github.com/flemzord/ingestd/internal/events"
	"github.com/flemzord/ingestd/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StepIngestion is the telemetry step wrapping each engine call.
const StepIngestion = "ingestion"

const tracerName = "github.com/flemzord/ingestd/internal/processor"

// EngineService is the service registry key of the configured Engine.
const EngineService = "processor.engine"

// ErrExhausted is returned when every attempt failed. It wraps the last
// engine error.
var ErrExhausted = errors.New("processor: retries exhausted")

// Engine applies episodes to the knowledge store. Calls may be retried, so
// implementations should tolerate at-least-once delivery.
type Engine interface {
	Apply(ctx context.Context, job episode.Job) error
	ApplyBulk(ctx context.Context, job episode.Job) error
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Config holds the retry policy and collaborators of a Processor.
type Config struct {
	// MaxAttempts is the total number of engine calls per job.
	MaxAttempts int
	// BackoffBase is raised to the attempt number to get the delay.
	BackoffBase int
	// BackoffUnit scales the delay; one second by default.
	BackoffUnit time.Duration

	Sleeper        Sleeper
	Logger         *slog.Logger
	Metrics        *Metrics
	Events         events.Publisher
	TracerProvider trace.TracerProvider
}

func (c *Config) defaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 3
	}
	if c.BackoffUnit <= 0 {
		c.BackoffUnit = time.Second
	}
	if c.Sleeper == nil {
		c.Sleeper = Sleep
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.TracerProvider == nil {
		c.TracerProvider = otel.GetTracerProvider()
	}
}

// Processor runs jobs against an Engine.
type Processor struct {
	engine   Engine
	recorder *telemetry.Recorder
	cfg      Config
	tracer   trace.Tracer
}

// New returns a Processor.
func New(engine Engine, recorder *telemetry.Recorder, cfg Config) *Processor {
	cfg.defaults()
	return &Processor{
		engine:   engine,
		recorder: recorder,
		cfg:      cfg,
		tracer:   cfg.TracerProvider.Tracer(tracerName),
	}
}

// Backoff returns the delay after a failed attempt (1-based).
func (p *Processor) Backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(float64(p.cfg.BackoffBase), float64(attempt))) * p.cfg.BackoffUnit
}

// Process runs job to completion. It returns nil once the engine accepts
// the job, or an error wrapping ErrExhausted after the last failed
// attempt. Cancelling ctx interrupts a backoff sleep but never an engine
// call already in flight.
func (p *Processor) Process(ctx context.Context, job episode.Job) error {
	// Telemetry and engine calls must outlive a shutdown signal that
	// arrives mid-attempt.
	octx := context.WithoutCancel(ctx)
	id := job.Identity
	logger := p.cfg.Logger.With("identity", id, "group", job.Group, "name", job.Name)

	p.recorder.StartEpisode(octx, id, job.Name, job.Group)

	if job.Body.Kind() == episode.KindEmpty {
		err := fmt.Errorf("%w: empty body", episode.ErrInvalid)
		p.recorder.RecordError(octx, id, StepIngestion, errorType(err), err.Error(), errorChain(err), nil)
		p.finish(octx, job, telemetry.StatusFailed, err)
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			p.recorder.MarkRetried(octx, id, StepIngestion)
		}
		p.recorder.RecordStep(octx, id, StepIngestion, telemetry.StepStarted, map[string]any{"attempt": attempt})
		p.publish(job, events.AttemptStarted, attempt, nil)

		err := p.attempt(octx, job, attempt)
		if err == nil {
			p.recorder.RecordStep(octx, id, StepIngestion, telemetry.StepSuccess, map[string]any{"attempt": attempt})
			p.finish(octx, job, telemetry.StatusCompleted, nil)
			logger.Info("processor: episode applied", "attempt", attempt)
			return nil
		}

		lastErr = err
		p.recorder.RecordStep(octx, id, StepIngestion, telemetry.StepError, map[string]any{
			"attempt": attempt,
			"error":   err.Error(),
		})
		p.recorder.RecordError(octx, id, StepIngestion, errorType(err), err.Error(), errorChain(err),
			map[string]any{"attempt_count": attempt})
		p.publish(job, events.AttemptFailed, attempt, err)

		if attempt == p.cfg.MaxAttempts {
			break
		}

		delay := p.Backoff(attempt)
		logger.Warn("processor: attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", p.cfg.MaxAttempts,
			"backoff", delay,
			"error", err,
		)
		if serr := p.cfg.Sleeper(ctx, delay); serr != nil {
			p.finish(octx, job, telemetry.StatusFailed, err)
			return fmt.Errorf("processor: retry interrupted after attempt %d: %w", attempt, errors.Join(serr, err))
		}
	}

	p.finish(octx, job, telemetry.StatusFailed, lastErr)
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, p.cfg.MaxAttempts, lastErr)
}

// attempt makes one engine call inside its own span.
func (p *Processor) attempt(ctx context.Context, job episode.Job, attempt int) error {
	ctx, span := p.tracer.Start(ctx, "processor.attempt", trace.WithAttributes(
		attribute.String("ingestd.group", job.Group),
		attribute.String("ingestd.identity", job.Identity),
		attribute.Int("ingestd.attempt", attempt),
		attribute.Bool("ingestd.bulk", job.IsBulk()),
	))
	defer span.End()

	start := time.Now()
	var err error
	if job.IsBulk() {
		err = p.engine.ApplyBulk(ctx, job)
	} else {
		err = p.engine.Apply(ctx, job)
	}
	p.cfg.Metrics.observeAttempt(err, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (p *Processor) finish(ctx context.Context, job episode.Job, status telemetry.Status, err error) {
	p.recorder.RecordCompletion(ctx, job.Identity, status)
	p.cfg.Metrics.observeEpisode(status)
	typ := events.EpisodeCompleted
	if status == telemetry.StatusFailed {
		typ = events.EpisodeFailed
	}
	p.publish(job, typ, 0, err)
}

func (p *Processor) publish(job episode.Job, typ events.Type, attempt int, err error) {
	if p.cfg.Events == nil {
		return
	}
	e := events.Event{
		Type:     typ,
		Identity: job.Identity,
		Group:    job.Group,
		Name:     job.Name,
		Attempt:  attempt,
	}
	if err != nil {
		e.Error = err.Error()
	}
	p.cfg.Events.Publish(e)
}
