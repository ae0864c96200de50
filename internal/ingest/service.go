// Package ingest is the facade the transports call: it ties validation,
// routing, staging and queueing together.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/flemzord/ingestd/internal/chunk"
	"github.com/flemzord/ingestd/internal/episode"
	"github.com/flemzord/ingestd/internal/events"
	"github.com/flemzord/ingestd/internal/pending"
	"github.com/flemzord/ingestd/internal/queue"
	"github.com/flemzord/ingestd/internal/registry"
	"github.com/flemzord/ingestd/internal/similarity"
	"github.com/flemzord/ingestd/internal/telemetry"
)

// ErrGroupRequired is returned by SubmitDocument without a group.
var ErrGroupRequired = fmt.Errorf("%w: group is required", episode.ErrInvalid)

// Status of an accepted submission.
type Status string

// Submission statuses.
const (
	StatusQueued  Status = "queued"
	StatusPending Status = "pending"
)

const creatorSubmission = "episode-submission"

type creatorKey struct{}

// WithCreator returns a context whose submissions register unseen groups
// under creator instead of the default "episode-submission".
func WithCreator(ctx context.Context, creator string) context.Context {
	return context.WithValue(ctx, creatorKey{}, creator)
}

func creatorFrom(ctx context.Context) string {
	if c, ok := ctx.Value(creatorKey{}).(string); ok && c != "" {
		return c
	}
	return creatorSubmission
}

// Queue is the part of queue.Manager the service uses.
type Queue interface {
	Enqueue(group string, job episode.Job) (int, error)
	Stats(group string) ([]queue.GroupStats, error)
	Peek(group string, index int) (episode.Job, error)
}

// Result is the synchronous answer to a submission. Processing outcome is
// only visible later, through telemetry.
type Result struct {
	Status        Status                 `json:"status"`
	Identity      string                 `json:"identity"`
	Group         string                 `json:"group,omitempty"`
	QueuePosition int                    `json:"queue_position,omitempty"`
	GroupCreated  bool                   `json:"group_created,omitempty"`
	PendingID     string                 `json:"pending_id,omitempty"`
	Suggestion    *similarity.Suggestion `json:"suggestion,omitempty"`
}

// DocumentRequest is a long text to be chunked into episodes.
type DocumentRequest struct {
	Name              string         `json:"name"`
	Text              string         `json:"text"`
	Group             string         `json:"group_id"`
	Source            episode.Source `json:"source,omitempty"`
	SourceDescription string         `json:"source_description,omitempty"`
	ReferenceTime     time.Time      `json:"reference_time,omitzero"`
	Tags              []string       `json:"tags,omitempty"`
	Labels            []string       `json:"labels,omitempty"`
}

// DocumentResult lists the episodes a document was split into.
type DocumentResult struct {
	Group      string   `json:"group"`
	Chunks     int      `json:"chunks"`
	Identities []string `json:"identities"`
}

// QueueStatus merges queue state with the telemetry counters of a group.
type QueueStatus struct {
	queue.GroupStats
	Telemetry      *telemetry.GroupStats `json:"telemetry,omitempty"`
	TelemetryError string                `json:"telemetry_error,omitempty"`
}

// Config wires the collaborators of a Service.
type Config struct {
	Queue     Queue
	Registry  *registry.Registry
	Router    *similarity.Router
	Pending   *pending.Store
	Telemetry telemetry.Store
	Chunker   chunk.Chunker
	Events    events.Publisher
	Logger    *slog.Logger
	Now       func() time.Time
}

// Service implements the exposed ingestion surface.
type Service struct {
	cfg Config
}

// NewService returns a Service.
func NewService(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{cfg: cfg}
}

// Submit validates job and either queues it on its group or, without a
// group, stages it with a routing suggestion.
func (s *Service) Submit(ctx context.Context, job episode.Job) (Result, error) {
	job.Normalize(s.cfg.Now())
	if err := job.Validate(); err != nil {
		return Result{}, err
	}
	if job.Group == "" {
		return s.stage(ctx, job)
	}
	return s.enqueue(ctx, job)
}

func (s *Service) enqueue(ctx context.Context, job episode.Job) (Result, error) {
	if err := registry.CheckID(job.Group); err != nil {
		return Result{}, err
	}
	created, err := s.cfg.Registry.Ensure(ctx, job.Group, creatorFrom(ctx))
	if err != nil {
		return Result{}, err
	}
	depth, err := s.cfg.Queue.Enqueue(job.Group, job)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: enqueue: %w", err)
	}
	s.publish(events.EpisodeQueued, job)
	s.cfg.Logger.Info("ingest: episode queued",
		"identity", job.Identity,
		"group", job.Group,
		"position", depth,
		"group_created", created,
	)
	return Result{
		Status:        StatusQueued,
		Identity:      job.Identity,
		Group:         job.Group,
		QueuePosition: depth,
		GroupCreated:  created,
	}, nil
}

func (s *Service) stage(ctx context.Context, job episode.Job) (Result, error) {
	suggestion := s.cfg.Router.Suggest(ctx, job.Name, routingText(job))
	id, err := s.cfg.Pending.Stage(ctx, job, suggestion)
	if err != nil {
		return Result{}, err
	}
	s.publish(events.EpisodePending, job)
	return Result{
		Status:     StatusPending,
		Identity:   job.Identity,
		PendingID:  id,
		Suggestion: &suggestion,
	}, nil
}

// routingText is the content compared by the router.
func routingText(job episode.Job) string {
	if !job.IsBulk() {
		return job.Body.Text()
	}
	items := job.Body.Items()
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, it.Content)
	}
	return strings.Join(parts, "\n")
}

// SubmitDocument chunks req.Text and queues the chunks, in order, on
// req.Group.
func (s *Service) SubmitDocument(ctx context.Context, req DocumentRequest) (DocumentResult, error) {
	if req.Group == "" {
		return DocumentResult{}, ErrGroupRequired
	}
	if err := registry.CheckID(req.Group); err != nil {
		return DocumentResult{}, err
	}
	pieces := s.cfg.Chunker.Split(req.Text)
	if len(pieces) == 0 {
		return DocumentResult{}, fmt.Errorf("%w: document is empty", episode.ErrInvalid)
	}

	res := DocumentResult{Group: req.Group, Chunks: len(pieces)}
	for i, p := range pieces {
		name := req.Name
		if len(pieces) > 1 {
			name = fmt.Sprintf("%s (part %d/%d)", req.Name, i+1, len(pieces))
		}
		r, err := s.Submit(ctx, episode.Job{
			Name:              name,
			Body:              episode.SingleBody(p.Text),
			Source:            req.Source,
			SourceDescription: req.SourceDescription,
			ReferenceTime:     req.ReferenceTime,
			Group:             req.Group,
			Tags:              req.Tags,
			Labels:            req.Labels,
		})
		if err != nil {
			return res, fmt.Errorf("ingest: chunk %d/%d: %w", i+1, len(pieces), err)
		}
		res.Identities = append(res.Identities, r.Identity)
	}
	return res, nil
}

// Confirm queues a staged episode on group.
func (s *Service) Confirm(ctx context.Context, pendingID, group string) (pending.Confirmation, error) {
	c, err := s.cfg.Pending.Confirm(ctx, pendingID, group)
	if err != nil {
		return pending.Confirmation{}, err
	}
	s.publish(events.EpisodeQueued, episode.Job{Identity: c.Identity, Group: c.Group})
	return c, nil
}

// ListPending returns the staged episodes awaiting confirmation.
func (s *Service) ListPending(ctx context.Context) ([]pending.Record, error) {
	return s.cfg.Pending.List(ctx)
}

// QueueStats returns queue state for group, or all groups when group is
// "", with the telemetry counters of each group. A telemetry failure is
// reported inline rather than failing the call.
func (s *Service) QueueStats(ctx context.Context, group string) ([]QueueStatus, error) {
	stats, err := s.cfg.Queue.Stats(group)
	if err != nil {
		return nil, err
	}
	out := make([]QueueStatus, 0, len(stats))
	for _, st := range stats {
		qs := QueueStatus{GroupStats: st}
		if s.cfg.Telemetry != nil {
			ts, err := s.cfg.Telemetry.GroupStats(ctx, st.Group)
			if err != nil {
				qs.TelemetryError = err.Error()
			} else {
				qs.Telemetry = &ts
			}
		}
		out = append(out, qs)
	}
	return out, nil
}

// PeekJob returns the job waiting at index in the queue of group.
func (s *Service) PeekJob(group string, index int) (episode.Job, error) {
	return s.cfg.Queue.Peek(group, index)
}

// ListGroups lists registered groups.
func (s *Service) ListGroups(ctx context.Context, includeProtected, includeStats bool) ([]registry.Group, error) {
	return s.cfg.Registry.List(ctx, includeProtected, includeStats)
}

// GetGroup returns one group with usage.
func (s *Service) GetGroup(ctx context.Context, id string) (registry.Group, error) {
	return s.cfg.Registry.Get(ctx, id)
}

// RegisterGroup creates or updates a group.
func (s *Service) RegisterGroup(ctx context.Context, id, description, creator string, metadata map[string]any) (registry.Group, error) {
	return s.cfg.Registry.Register(ctx, id, description, creator, metadata)
}

// DeleteGroup removes group metadata; content is kept.
func (s *Service) DeleteGroup(ctx context.Context, id string) error {
	return s.cfg.Registry.Delete(ctx, id)
}

// Telemetry returns the diagnostic query surface.
func (s *Service) Telemetry() telemetry.Querier {
	return s.cfg.Telemetry
}

// PurgeTelemetry removes all telemetry.
func (s *Service) PurgeTelemetry(ctx context.Context) (int, error) {
	n, err := s.cfg.Telemetry.Purge(ctx)
	if err != nil {
		return 0, fmt.Errorf("ingest: purge telemetry: %w", err)
	}
	s.cfg.Logger.Warn("ingest: telemetry purged", "episodes", n)
	return n, nil
}

func (s *Service) publish(typ events.Type, job episode.Job) {
	if s.cfg.Events == nil {
		return
	}
	s.cfg.Events.Publish(events.Event{Type: typ, Identity: job.Identity, Group: job.Group, Name: job.Name})
}

// IsValidation reports whether err is a caller error.
func IsValidation(err error) bool {
	return errors.Is(err, episode.ErrInvalid) ||
		errors.Is(err, registry.ErrInvalidID) ||
		errors.Is(err, registry.ErrProtected)
}

// IsNotFound reports whether err names something that does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, registry.ErrNotFound) ||
		errors.Is(err, pending.ErrNotFound) ||
		errors.Is(err, telemetry.ErrNotFound) ||
		errors.Is(err, queue.ErrNoQueue) ||
		errors.Is(err, queue.ErrQueueEmpty) ||
		errors.Is(err, queue.ErrIndexRange)
}
