package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/flemzord/ingestd/internal/content"
	"github.com/flemzord/ingestd/internal/embedding"
	"github.com/neo4j/neo4j-go-driver/v6/neo4j"
)

// runner executes one auto-committed query and returns every record.
type runner interface {
	run(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error)
}

// driverRunner runs queries through neo4j.ExecuteQuery.
type driverRunner struct {
	driver   neo4j.Driver
	database string
	timeout  time.Duration
}

func (r *driverRunner) run(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	var opts []neo4j.ExecuteQueryConfigurationOption
	if r.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(r.database))
	}
	res, err := neo4j.ExecuteQuery(ctx, r.driver, query, params, neo4j.EagerResultTransformer, opts...)
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

// Store implements content.Store over the graph written by the knowledge
// engine: (:Episodic) nodes carry the episodes, (:Entity) nodes and
// RELATES_TO edges are counted for usage.
type Store struct {
	r runner
}

var _ content.Store = (*Store)(nil)

const saveEpisodeQuery = `
MERGE (e:Episodic {uuid: $uuid})
SET e.name = $name,
    e.content = $content,
    e.group_id = $group_id,
    e.source = $source,
    e.created_at = $created_at,
    e.embedding = $embedding`

// SaveEpisode implements content.Store.
func (s *Store) SaveEpisode(ctx context.Context, e content.Episode) error {
	var vec any
	if len(e.Embedding) > 0 {
		vec = embedding.Float64s(e.Embedding)
	}
	_, err := s.r.run(ctx, saveEpisodeQuery, map[string]any{
		"uuid":       e.UUID,
		"name":       e.Name,
		"content":    e.Content,
		"group_id":   e.Group,
		"source":     e.Source,
		"created_at": e.CreatedAt.UTC(),
		"embedding":  vec,
	})
	if err != nil {
		return fmt.Errorf("neo4j: save episode %s: %w", e.UUID, err)
	}
	return nil
}

const candidatesQuery = `
MATCH (e:Episodic)
WHERE e.embedding IS NOT NULL AND e.group_id IS NOT NULL AND e.group_id <> ''
RETURN e.uuid AS uuid, e.name AS name, e.content AS content,
       e.group_id AS group_id, e.created_at AS created_at, e.embedding AS embedding
ORDER BY e.created_at`

// Candidates implements content.CandidateSource.
func (s *Store) Candidates(ctx context.Context) ([]content.Candidate, error) {
	records, err := s.r.run(ctx, candidatesQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("neo4j: candidates: %w", err)
	}
	out := make([]content.Candidate, 0, len(records))
	for _, rec := range records {
		c := content.Candidate{
			UUID:      str(rec, "uuid"),
			Name:      str(rec, "name"),
			Content:   str(rec, "content"),
			Group:     str(rec, "group_id"),
			CreatedAt: timeOf(rec, "created_at"),
		}
		vec, err := floats(rec, "embedding")
		if err != nil {
			return nil, fmt.Errorf("neo4j: candidate %s: %w", c.UUID, err)
		}
		c.Embedding = vec
		out = append(out, c)
	}
	return out, nil
}

const usageQuery = `
CALL {
  MATCH (e:Episodic {group_id: $group_id})
  RETURN count(e) AS episodes, max(e.created_at) AS last_activity
}
CALL {
  MATCH (n:Entity {group_id: $group_id})
  RETURN count(n) AS entities
}
CALL {
  MATCH ()-[r:RELATES_TO]->()
  WHERE r.group_id = $group_id
  RETURN count(r) AS edges
}
RETURN episodes, last_activity, entities, edges`

// Usage implements content.UsageCounter.
func (s *Store) Usage(ctx context.Context, group string) (content.Usage, error) {
	records, err := s.r.run(ctx, usageQuery, map[string]any{"group_id": group})
	if err != nil {
		return content.Usage{}, fmt.Errorf("neo4j: usage of %s: %w", group, err)
	}
	var u content.Usage
	if len(records) == 0 {
		return u, nil
	}
	rec := records[0]
	u.Episodes = integer(rec, "episodes")
	u.Entities = integer(rec, "entities")
	u.Relationships = integer(rec, "edges")
	u.TotalNodes = u.Episodes + u.Entities
	if t := timeOf(rec, "last_activity"); !t.IsZero() {
		u.LastActivity = &t
	}
	return u, nil
}

func value(rec *neo4j.Record, key string) any {
	v, _ := rec.Get(key)
	return v
}

func str(rec *neo4j.Record, key string) string {
	s, _ := value(rec, key).(string)
	return s
}

func integer(rec *neo4j.Record, key string) int {
	n, _ := value(rec, key).(int64)
	return int(n)
}

// timeOf reads a DateTime property. Older graphs store ISO 8601 strings.
func timeOf(rec *neo4j.Record, key string) time.Time {
	switch v := value(rec, key).(type) {
	case time.Time:
		return v.UTC()
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func floats(rec *neo4j.Record, key string) ([]float32, error) {
	switch v := value(rec, key).(type) {
	case nil:
		return nil, nil
	case []float64:
		return embedding.Float32s(v), nil
	case []any:
		out := make([]float32, len(v))
		for i, x := range v {
			switch f := x.(type) {
			case float64:
				out[i] = float32(f)
			case int64:
				out[i] = float32(f)
			default:
				return nil, fmt.Errorf("embedding element %d has type %T", i, x)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("embedding has type %T", v)
	}
}
