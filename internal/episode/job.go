// Package episode defines the unit of work carried through the ingestion
// pipeline: a named body of content bound for one group.
package episode

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Source tells the engine how to read a body.
type Source string

// Source kinds.
const (
	SourceText       Source = "text"
	SourceMessage    Source = "message"
	SourceStructured Source = "structured-data"
)

// ParseSource maps a user supplied kind to a Source. Empty means text;
// "json" is accepted as an alias for structured data.
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return SourceText, nil
	case "message":
		return SourceMessage, nil
	case "structured-data", "json":
		return SourceStructured, nil
	default:
		return "", fmt.Errorf("%w: unknown source %q", ErrInvalid, s)
	}
}

// Job is one episode waiting in, or being processed from, a group queue.
type Job struct {
	Name              string    `json:"name" validate:"required,max=512"`
	Body              Body      `json:"body"`
	Source            Source    `json:"source" validate:"oneof=text message structured-data"`
	SourceDescription string    `json:"source_description,omitempty"`
	ReferenceTime     time.Time `json:"reference_time"`
	Identity          string    `json:"identity" validate:"required,max=256"`
	Group             string    `json:"group,omitempty"`
	Tags              []string  `json:"tags,omitempty" validate:"dive,required"`
	Labels            []string  `json:"labels,omitempty" validate:"dive,required"`

	// ExtractionHints is a JSON schema passed through to the engine untouched.
	ExtractionHints []byte `json:"extraction_hints,omitempty"`

	SubmittedAt time.Time `json:"submitted_at"`
}

// Normalize fills the defaults a submission may leave out: a generated
// identity, the text source and reference/submission times.
func (j *Job) Normalize(now time.Time) {
	if j.Identity == "" {
		j.Identity = uuid.NewString()
	}
	if j.Source == "" {
		j.Source = SourceText
	}
	if j.ReferenceTime.IsZero() {
		j.ReferenceTime = now
	}
	if j.SubmittedAt.IsZero() {
		j.SubmittedAt = now
	}
	j.Name = strings.TrimSpace(j.Name)
}

// Clone returns a deep copy, safe to hand to inspection tooling.
func (j Job) Clone() Job {
	cp := j
	cp.Body = j.Body.clone()
	cp.Tags = slices.Clone(j.Tags)
	cp.Labels = slices.Clone(j.Labels)
	cp.ExtractionHints = slices.Clone(j.ExtractionHints)
	return cp
}

// IsBulk reports whether the job carries an ordered sequence of bodies.
func (j Job) IsBulk() bool {
	return j.Body.Kind() == KindBulk
}
