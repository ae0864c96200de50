package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/flemzord/ingestd/internal/content"
	"github.com/flemzord/ingestd/internal/embedding"
)

// ContentStore implements content.Store over the episodes table. It holds
// no extracted entities, so entity and relationship counts are zero.
type ContentStore struct {
	db *sql.DB
}

// NewContentStore wraps an opened database.
func NewContentStore(db *sql.DB) *ContentStore { return &ContentStore{db: db} }

// SaveEpisode implements content.Store. Saving an existing UUID replaces it.
func (s *ContentStore) SaveEpisode(ctx context.Context, e content.Episode) error {
	var vec []byte
	if len(e.Embedding) > 0 {
		vec = embedding.Encode(e.Embedding)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO episodes (uuid, name, content, group_id, source, created_at, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.UUID, e.Name, e.Content, e.Group, e.Source, formatTime(e.CreatedAt), vec,
	); err != nil {
		return fmt.Errorf("sqlite: save episode: %w", err)
	}
	return nil
}

// Candidates implements content.CandidateSource.
func (s *ContentStore) Candidates(ctx context.Context) ([]content.Candidate, error) {
	return queryAll(ctx, s.db, func(sc scanner) (content.Candidate, error) {
		var (
			c       content.Candidate
			created string
			vec     []byte
		)
		if err := sc.Scan(&c.UUID, &c.Name, &c.Content, &c.Group, &created, &vec); err != nil {
			return c, fmt.Errorf("sqlite: scan candidate: %w", err)
		}
		var err error
		if c.CreatedAt, err = parseTime(created); err != nil {
			return c, err
		}
		if c.Embedding, err = embedding.Decode(vec); err != nil {
			return c, fmt.Errorf("sqlite: candidate %s: %w", c.UUID, err)
		}
		return c, nil
	}, `
		SELECT uuid, name, content, group_id, created_at, embedding
		FROM episodes
		WHERE embedding IS NOT NULL AND length(embedding) > 0 AND group_id != ''
		ORDER BY created_at, uuid`)
}

// Usage implements content.UsageCounter.
func (s *ContentStore) Usage(ctx context.Context, group string) (content.Usage, error) {
	var (
		u    content.Usage
		last sql.NullString
	)
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), MAX(created_at) FROM episodes WHERE group_id = ?", group,
	).Scan(&u.Episodes, &last); err != nil {
		return content.Usage{}, fmt.Errorf("sqlite: usage: %w", err)
	}
	var err error
	if u.LastActivity, err = parseNullTime(last); err != nil {
		return content.Usage{}, err
	}
	u.TotalNodes = u.Episodes + u.Entities
	return u, nil
}
