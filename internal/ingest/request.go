package ingest

import (
	"encoding/json"
	"time"

	"github.com/flemzord/ingestd/internal/episode"
)

// EpisodeRequest is the wire form of a submission shared by the REST and
// MCP surfaces. Body is a string or an array of bulk items.
type EpisodeRequest struct {
	Name              string          `json:"name"`
	Body              episode.Body    `json:"episode_body"`
	Source            string          `json:"source,omitempty"`
	SourceDescription string          `json:"source_description,omitempty"`
	ReferenceTime     time.Time       `json:"reference_time,omitzero"`
	Group             string          `json:"group_id,omitempty"`
	Identity          string          `json:"uuid,omitempty"`
	Tags              []string        `json:"tags,omitempty"`
	Labels            []string        `json:"labels,omitempty"`
	ExtractionHints   json.RawMessage `json:"extraction_hints,omitempty"`
}

// Job converts r. The source kind is checked here; everything else is
// left to episode.Job.Validate.
func (r EpisodeRequest) Job() (episode.Job, error) {
	src, err := episode.ParseSource(r.Source)
	if err != nil {
		return episode.Job{}, err
	}
	job := episode.Job{
		Name:              r.Name,
		Body:              r.Body,
		Source:            src,
		SourceDescription: r.SourceDescription,
		ReferenceTime:     r.ReferenceTime,
		Identity:          r.Identity,
		Group:             r.Group,
		Tags:              r.Tags,
		Labels:            r.Labels,
	}
	if len(r.ExtractionHints) > 0 && string(r.ExtractionHints) != "null" {
		job.ExtractionHints = []byte(r.ExtractionHints)
	}
	return job, nil
}
