package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/ingestd/internal/pending"
)

// PendingKV implements pending.KV over the pending_episodes table, so
// staged episodes survive a restart.
type PendingKV struct {
	db *sql.DB
}

// NewPendingKV wraps an opened database.
func NewPendingKV(db *sql.DB) *PendingKV { return &PendingKV{db: db} }

// Put implements pending.KV.
func (s *PendingKV) Put(ctx context.Context, r pending.Record) error {
	job, err := json.Marshal(r.Job)
	if err != nil {
		return fmt.Errorf("sqlite: marshal job: %w", err)
	}
	sugg, err := json.Marshal(r.Suggestion)
	if err != nil {
		return fmt.Errorf("sqlite: marshal suggestion: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO pending_episodes (id, job, suggestion, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.ID, string(job), string(sugg), formatTime(r.CreatedAt), formatTime(r.ExpiresAt),
	); err != nil {
		return fmt.Errorf("sqlite: put pending: %w", err)
	}
	return nil
}

// Get implements pending.KV.
func (s *PendingKV) Get(ctx context.Context, id string) (pending.Record, error) {
	r, err := scanPending(s.db.QueryRowContext(ctx, `
		SELECT id, job, suggestion, created_at, expires_at FROM pending_episodes WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return pending.Record{}, fmt.Errorf("%w: %s", pending.ErrNotFound, id)
	}
	return r, err
}

// Delete implements pending.KV.
func (s *PendingKV) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM pending_episodes WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("sqlite: delete pending: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	return n > 0, nil
}

// ListExpired implements pending.KV.
func (s *PendingKV) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	return queryAll(ctx, s.db, scanString,
		"SELECT id FROM pending_episodes WHERE expires_at <= ? ORDER BY id", formatTime(now))
}

// List implements pending.KV.
func (s *PendingKV) List(ctx context.Context) ([]pending.Record, error) {
	return queryAll(ctx, s.db, scanPending, `
		SELECT id, job, suggestion, created_at, expires_at FROM pending_episodes ORDER BY created_at, id`)
}

func scanPending(sc scanner) (pending.Record, error) {
	var (
		r                           pending.Record
		job, sugg, created, expires string
	)
	if err := sc.Scan(&r.ID, &job, &sugg, &created, &expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("sqlite: scan pending: %w", err)
	}
	if err := json.Unmarshal([]byte(job), &r.Job); err != nil {
		return r, fmt.Errorf("sqlite: unmarshal job: %w", err)
	}
	if err := json.Unmarshal([]byte(sugg), &r.Suggestion); err != nil {
		return r, fmt.Errorf("sqlite: unmarshal suggestion: %w", err)
	}
	var err error
	if r.CreatedAt, err = parseTime(created); err != nil {
		return r, err
	}
	if r.ExpiresAt, err = parseTime(expires); err != nil {
		return r, err
	}
	return r, nil
}
