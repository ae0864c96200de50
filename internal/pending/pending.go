// Package pending stages episodes submitted without a group until a
// caller confirms which group they belong to.
//
// Routing only ever suggests: a staged episode reaches a queue through
// Confirm with an explicit group, never on its own.
package pending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flemzord/ingestd/internal/episode"
	"github.com/flemzord/ingestd/internal/registry"
	"github.com/flemzord/ingestd/internal/similarity"
	"github.com/google/uuid"
)

// DefaultTTL is how long a staged episode waits for confirmation.
const DefaultTTL = 24 * time.Hour

// ServiceName is the service registry key of a persistent KV.
const ServiceName = "pending.kv"

// ErrNotFound is returned for unknown or expired pending ids.
var ErrNotFound = errors.New("pending: episode not found or expired")

// Record is one staged episode.
type Record struct {
	ID         string                `json:"pending_id"`
	Job        episode.Job           `json:"job"`
	Suggestion similarity.Suggestion `json:"suggestion"`
	CreatedAt  time.Time             `json:"created_at"`
	ExpiresAt  time.Time             `json:"expires_at"`
}

// Expired reports whether r is past its TTL at now.
func (r Record) Expired(now time.Time) bool { return !now.Before(r.ExpiresAt) }

// KV persists records. Implementations: MemoryKV and the SQLite module.
type KV interface {
	Put(ctx context.Context, r Record) error
	// Get returns ErrNotFound for an unknown id. It does not check expiry.
	Get(ctx context.Context, id string) (Record, error)
	// Delete reports whether a record was removed.
	Delete(ctx context.Context, id string) (bool, error)
	// ListExpired returns the ids of records expired at now.
	ListExpired(ctx context.Context, now time.Time) ([]string, error)
	// List returns every record, oldest first.
	List(ctx context.Context) ([]Record, error)
}

// Enqueuer hands confirmed jobs to a group queue.
type Enqueuer interface {
	Enqueue(group string, job episode.Job) (int, error)
}

// Registrar records groups on first use.
type Registrar interface {
	Ensure(ctx context.Context, id, creator string) (bool, error)
}

// Confirmation describes a confirmed episode.
type Confirmation struct {
	PendingID    string `json:"pending_id"`
	Identity     string `json:"identity"`
	Group        string `json:"group"`
	QueueDepth   int    `json:"queue_position"`
	GroupCreated bool   `json:"group_created"`
}

// Store implements staging and two-phase confirmation on top of a KV.
type Store struct {
	kv     KV
	queue  Enqueuer
	groups Registrar
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	// confirmMu serialises confirmations so one record is enqueued once.
	confirmMu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option { return func(s *Store) { s.ttl = ttl } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

// NewStore returns a Store.
func NewStore(kv KV, queue Enqueuer, groups Registrar, opts ...Option) *Store {
	s := &Store{
		kv:     kv,
		queue:  queue,
		groups: groups,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	return s
}

// Stage persists job with its suggestion and returns the pending id.
func (s *Store) Stage(ctx context.Context, job episode.Job, suggestion similarity.Suggestion) (string, error) {
	now := s.now().UTC()
	r := Record{
		ID:         uuid.NewString(),
		Job:        job.Clone(),
		Suggestion: suggestion,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
	}
	if err := s.kv.Put(ctx, r); err != nil {
		return "", fmt.Errorf("pending: stage: %w", err)
	}
	s.logger.Info("pending: episode staged",
		"pending_id", r.ID,
		"identity", job.Identity,
		"suggested_group", suggestion.SuggestedGroup,
		"expires_at", r.ExpiresAt,
	)
	return r.ID, nil
}

// Resolve returns the staged record. An expired record is deleted and
// reported as ErrNotFound.
func (s *Store) Resolve(ctx context.Context, id string) (Record, error) {
	r, err := s.kv.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if r.Expired(s.now()) {
		if _, err := s.kv.Delete(ctx, id); err != nil {
			s.logger.Warn("pending: delete expired record failed", "pending_id", id, "error", err)
		}
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, nil
}

// Confirm moves a staged episode into the queue of group. An invalid or
// protected group leaves the record in place so the caller can retry.
func (s *Store) Confirm(ctx context.Context, id, group string) (Confirmation, error) {
	s.confirmMu.Lock()
	defer s.confirmMu.Unlock()

	r, err := s.Resolve(ctx, id)
	if err != nil {
		return Confirmation{}, err
	}
	if err := registry.CheckID(group); err != nil {
		return Confirmation{}, err
	}

	created, err := s.groups.Ensure(ctx, group, "pending-confirmation")
	if err != nil {
		return Confirmation{}, fmt.Errorf("pending: register group %s: %w", group, err)
	}

	job := r.Job.Clone()
	job.Group = group
	depth, err := s.queue.Enqueue(group, job)
	if err != nil {
		return Confirmation{}, fmt.Errorf("pending: enqueue %s: %w", id, err)
	}

	if _, err := s.kv.Delete(ctx, id); err != nil {
		s.logger.Error("pending: confirmed record not deleted", "pending_id", id, "error", err)
	}
	s.logger.Info("pending: episode confirmed",
		"pending_id", id,
		"identity", job.Identity,
		"group", group,
		"suggested_group", r.Suggestion.SuggestedGroup,
	)
	return Confirmation{
		PendingID:    id,
		Identity:     job.Identity,
		Group:        group,
		QueueDepth:   depth,
		GroupCreated: created,
	}, nil
}

// SweepExpired deletes every expired record and returns how many went.
func (s *Store) SweepExpired(ctx context.Context) (int, error) {
	ids, err := s.kv.ListExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("pending: list expired: %w", err)
	}
	n := 0
	var errs []error
	for _, id := range ids {
		ok, err := s.kv.Delete(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			n++
		}
	}
	if n > 0 {
		s.logger.Info("pending: expired episodes removed", "count", n)
	}
	return n, errors.Join(errs...)
}

// List returns the unexpired records, oldest first.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	all, err := s.kv.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("pending: list: %w", err)
	}
	now := s.now()
	out := all[:0]
	for _, r := range all {
		if !r.Expired(now) {
			out = append(out, r)
		}
	}
	return out, nil
}
