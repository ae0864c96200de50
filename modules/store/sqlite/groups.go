package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/flemzord/ingestd/internal/registry"
)

// GroupStore implements registry.Store over the group_registry table.
type GroupStore struct {
	db *sql.DB
}

// NewGroupStore wraps an opened database.
func NewGroupStore(db *sql.DB) *GroupStore { return &GroupStore{db: db} }

// Upsert implements registry.Store.
func (s *GroupStore) Upsert(ctx context.Context, g registry.Group) error {
	meta, err := encodeMap(g.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO group_registry (id, description, creator, created_at, updated_at, metadata)
		VALUES (?, ?, ?, ?, NULL, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			updated_at  = ?,
			metadata    = COALESCE(excluded.metadata, group_registry.metadata)`,
		g.ID, g.Description, g.Creator, formatTime(g.CreatedAt), meta, nullTime(g.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert group: %w", err)
	}
	return nil
}

// Get implements registry.Store.
func (s *GroupStore) Get(ctx context.Context, id string) (registry.Group, error) {
	g, err := scanGroup(s.db.QueryRowContext(ctx, `
		SELECT id, description, creator, created_at, updated_at, metadata
		FROM group_registry WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Group{}, fmt.Errorf("%w: %s", registry.ErrNotFound, id)
	}
	return g, err
}

// List implements registry.Store.
func (s *GroupStore) List(ctx context.Context) ([]registry.Group, error) {
	groups, err := queryAll(ctx, s.db, scanGroup, `
		SELECT id, description, creator, created_at, updated_at, metadata
		FROM group_registry ORDER BY id`)
	if err != nil {
		return nil, err
	}
	if groups == nil {
		groups = []registry.Group{}
	}
	return groups, nil
}

// Delete implements registry.Store.
func (s *GroupStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM group_registry WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("sqlite: delete group: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	return n > 0, nil
}

func scanGroup(sc scanner) (registry.Group, error) {
	var (
		g         registry.Group
		created   string
		upd, meta sql.NullString
	)
	if err := sc.Scan(&g.ID, &g.Description, &g.Creator, &created, &upd, &meta); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return g, err
		}
		return g, fmt.Errorf("sqlite: scan group: %w", err)
	}
	var err error
	if g.CreatedAt, err = parseTime(created); err != nil {
		return g, err
	}
	if g.UpdatedAt, err = parseNullTime(upd); err != nil {
		return g, err
	}
	if g.Metadata, err = decodeMap(meta); err != nil {
		return g, err
	}
	return g, nil
}
