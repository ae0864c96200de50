// Package content describes the content store the router searches and the
// registry counts. The store itself lives in a module (SQLite or Neo4j).
package content

import (
	"context"
	"time"
)

// ServiceName is the service registry key of the configured Store.
const ServiceName = "content.store"

// Episode is one piece of content saved by the indexing engine.
type Episode struct {
	UUID      string
	Name      string
	Content   string
	Group     string
	Source    string
	CreatedAt time.Time
	Embedding []float32
}

// Candidate is prior content offered to the similarity router.
type Candidate struct {
	UUID      string
	Name      string
	Content   string
	Group     string
	CreatedAt time.Time
	Embedding []float32
}

// Usage is the derived activity of one group.
type Usage struct {
	Episodes      int        `json:"episode_count"`
	Entities      int        `json:"entity_count"`
	Relationships int        `json:"edge_count"`
	TotalNodes    int        `json:"total_nodes"`
	LastActivity  *time.Time `json:"last_activity,omitempty"`
}

// CandidateSource lists embedded content across every group.
type CandidateSource interface {
	Candidates(ctx context.Context) ([]Candidate, error)
}

// UsageCounter computes usage for one group on demand.
type UsageCounter interface {
	Usage(ctx context.Context, group string) (Usage, error)
}

// Store is a full content store.
type Store interface {
	CandidateSource
	UsageCounter
	SaveEpisode(ctx context.Context, e Episode) error
}
