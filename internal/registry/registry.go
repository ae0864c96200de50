// Package registry validates group identifiers and keeps group metadata.
// Usage figures are never stored: they are computed from the content
// store on every read.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"slices"
	"time"

	"github.com/flemzord/ingestd/internal/content"
	"golang.org/x/sync/errgroup"
)

// Registry errors.
var (
	ErrInvalidID = errors.New("registry: invalid group id")
	ErrProtected = errors.New("registry: protected group")
	ErrNotFound  = errors.New("registry: group not found")
)

var idPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{2,}$`)

var protectedIDs = []string{"system", "graphiti_logs", "admin", "graphiti_system"}

// ServiceName is the service registry key of a persistent Store.
const ServiceName = "registry.store"

// AutoDescription is the description given to groups registered on first use.
const AutoDescription = "Auto-registered on first episode"

// IsValidID reports whether id is a well-formed group id.
func IsValidID(id string) bool { return idPattern.MatchString(id) }

// IsProtected reports whether id is reserved.
func IsProtected(id string) bool { return slices.Contains(protectedIDs, id) }

// ProtectedIDs returns the reserved ids.
func ProtectedIDs() []string { return slices.Clone(protectedIDs) }

// CheckID returns ErrInvalidID or ErrProtected when id cannot be written to.
func CheckID(id string) error {
	if !IsValidID(id) {
		return fmt.Errorf("%w %q: must start with a letter and contain at least 3 letters, digits, '_' or '-'", ErrInvalidID, id)
	}
	if IsProtected(id) {
		return fmt.Errorf("%w: %s", ErrProtected, id)
	}
	return nil
}

// Group is registry metadata plus usage computed on read.
type Group struct {
	ID          string         `json:"group_id"`
	Description string         `json:"description"`
	Creator     string         `json:"creator"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   *time.Time     `json:"updated_at,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Usage       *content.Usage `json:"usage_stats,omitempty"`
}

// Store persists group metadata.
type Store interface {
	// Upsert inserts g, or on an existing id updates the description, sets
	// UpdatedAt and replaces Metadata when g.Metadata is non-nil. CreatedAt
	// and Creator of an existing row are kept.
	Upsert(ctx context.Context, g Group) error
	// Get returns ErrNotFound for an unknown id.
	Get(ctx context.Context, id string) (Group, error)
	// List returns every group ordered by id.
	List(ctx context.Context) ([]Group, error)
	// Delete reports whether a row was removed.
	Delete(ctx context.Context, id string) (bool, error)
}

// Registry is the group registry.
type Registry struct {
	store       Store
	usage       content.UsageCounter
	logger      *slog.Logger
	now         func() time.Time
	concurrency int
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Registry) { r.logger = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

// WithConcurrency bounds parallel usage queries in List.
func WithConcurrency(n int) Option { return func(r *Registry) { r.concurrency = n } }

// New returns a Registry. usage may be nil, in which case groups carry no
// usage figures.
func New(store Store, usage content.UsageCounter, opts ...Option) *Registry {
	r := &Registry{
		store:       store,
		usage:       usage,
		logger:      slog.Default(),
		now:         time.Now,
		concurrency: 8,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register creates id or updates its description and metadata.
func (r *Registry) Register(ctx context.Context, id, description, creator string, metadata map[string]any) (Group, error) {
	if err := CheckID(id); err != nil {
		return Group{}, err
	}
	if creator == "" {
		creator = "system"
	}
	now := r.now().UTC()
	g := Group{
		ID:          id,
		Description: description,
		Creator:     creator,
		CreatedAt:   now,
		UpdatedAt:   &now,
		Metadata:    maps.Clone(metadata),
	}
	if err := r.store.Upsert(ctx, g); err != nil {
		return Group{}, fmt.Errorf("registry: register %s: %w", id, err)
	}
	r.logger.Info("registry: group registered", "group", id, "creator", creator)
	return r.Get(ctx, id)
}

// Ensure registers id with a default description if it is not known yet.
// It reports whether the group was created.
func (r *Registry) Ensure(ctx context.Context, id, creator string) (bool, error) {
	if err := CheckID(id); err != nil {
		return false, err
	}
	if _, err := r.store.Get(ctx, id); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return false, fmt.Errorf("registry: lookup %s: %w", id, err)
	}
	if _, err := r.Register(ctx, id, AutoDescription, creator, nil); err != nil {
		return false, err
	}
	return true, nil
}

// Get returns a group with fresh usage figures.
func (r *Registry) Get(ctx context.Context, id string) (Group, error) {
	g, err := r.store.Get(ctx, id)
	if err != nil {
		return Group{}, err
	}
	g.Usage = r.usageOf(ctx, id)
	return g, nil
}

// List returns all groups ordered by id, optionally with the protected
// ones, optionally with usage figures.
func (r *Registry) List(ctx context.Context, includeProtected, includeStats bool) ([]Group, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	groups := all[:0]
	for _, g := range all {
		if !includeProtected && IsProtected(g.ID) {
			continue
		}
		groups = append(groups, g)
	}
	if !includeStats || r.usage == nil {
		return groups, nil
	}

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(r.concurrency)
	for i := range groups {
		eg.Go(func() error {
			groups[i].Usage = r.usageOf(ectx, groups[i].ID)
			return nil
		})
	}
	_ = eg.Wait()
	return groups, nil
}

// Delete removes the metadata of id. Content of the group is untouched.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if IsProtected(id) {
		return fmt.Errorf("%w: %s", ErrProtected, id)
	}
	ok, err := r.store.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("registry: delete %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.logger.Info("registry: group deleted", "group", id)
	return nil
}

// Description returns the description of id, or "" when unknown.
func (r *Registry) Description(ctx context.Context, id string) string {
	g, err := r.store.Get(ctx, id)
	if err != nil {
		return ""
	}
	return g.Description
}

func (r *Registry) usageOf(ctx context.Context, id string) *content.Usage {
	if r.usage == nil {
		return nil
	}
	u, err := r.usage.Usage(ctx, id)
	if err != nil {
		r.logger.Warn("registry: usage query failed", "group", id, "error", err)
		return nil
	}
	return &u
}
