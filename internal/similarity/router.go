// Package similarity suggests a group for content submitted without one,
// by comparing its embedding with content already ingested.
package similarity

import (
	"cmp"
	"context"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/flemzord/ingestd/internal/content"
	"github.com/flemzord/ingestd/internal/embedding"
	"github.com/flemzord/ingestd/internal/registry"
)

// Defaults of the router.
const (
	DefaultMinSimilarity   = 0.5
	DefaultMaxGroups       = 5
	DefaultMaxSamples      = 3
	DefaultAutoAssignAbove = 0.85
	DefaultFallbackGroup   = "new_content_group"
	maxMatches             = 100
	maxSimilarEpisodes     = 10
	sampleContentLen       = 200
)

// Sample is one matching episode shown for a group.
type Sample struct {
	Name       string    `json:"name"`
	Content    string    `json:"content"`
	Similarity float64   `json:"similarity"`
	CreatedAt  time.Time `json:"created_at"`
}

// GroupScore is the aggregated similarity of one group.
type GroupScore struct {
	Group       string   `json:"group_id"`
	Score       float64  `json:"score"`
	Description string   `json:"description,omitempty"`
	Samples     []Sample `json:"sample_episodes"`
}

// Match is one content item above the similarity floor.
type Match struct {
	UUID       string  `json:"uuid"`
	Name       string  `json:"name"`
	Group      string  `json:"group_id"`
	Similarity float64 `json:"similarity"`
}

// Suggestion is the outcome of routing. It only proposes: nothing is
// created or written on its behalf.
type Suggestion struct {
	SuggestedGroup string       `json:"suggested_group_id"`
	Confidence     float64      `json:"confidence"`
	IsNewGroup     bool         `json:"is_new_group"`
	AutoAssignable bool         `json:"auto_assignable"`
	Groups         []GroupScore `json:"similar_groups"`
	Episodes       []Match      `json:"similar_episodes,omitempty"`
}

// Describer looks up group descriptions for display. Optional.
type Describer interface {
	Description(ctx context.Context, group string) string
}

// Config tunes a Router.
type Config struct {
	MinSimilarity   float64
	MaxGroups       int
	MaxSamples      int
	AutoAssignAbove float64
	Describer       Describer
	Logger          *slog.Logger
}

func (c *Config) defaults() {
	if c.MinSimilarity <= 0 {
		c.MinSimilarity = DefaultMinSimilarity
	}
	if c.MaxGroups <= 0 {
		c.MaxGroups = DefaultMaxGroups
	}
	if c.MaxSamples <= 0 {
		c.MaxSamples = DefaultMaxSamples
	}
	if c.AutoAssignAbove <= 0 {
		c.AutoAssignAbove = DefaultAutoAssignAbove
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Router scores candidate content against new submissions.
type Router struct {
	embedder embedding.Embedder
	source   content.CandidateSource
	cfg      Config
}

// NewRouter returns a Router. Either collaborator may be nil, in which
// case every suggestion falls back to a name-derived group.
func NewRouter(embedder embedding.Embedder, source content.CandidateSource, cfg Config) *Router {
	cfg.defaults()
	return &Router{embedder: embedder, source: source, cfg: cfg}
}

type scored struct {
	c   content.Candidate
	sim float64
}

// Suggest ranks existing groups by the summed similarity of their content
// to content. Failures never surface: the suggestion degrades to
// FallbackGroupID(name).
func (r *Router) Suggest(ctx context.Context, name, text string) Suggestion {
	fallback := Suggestion{SuggestedGroup: FallbackGroupID(name), IsNewGroup: true, Groups: []GroupScore{}}
	if r.embedder == nil || r.source == nil {
		return fallback
	}

	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		r.cfg.Logger.Warn("similarity: embedding failed, using fallback group", "error", err)
		return fallback
	}
	cands, err := r.source.Candidates(ctx)
	if err != nil {
		r.cfg.Logger.Warn("similarity: candidate lookup failed, using fallback group", "error", err)
		return fallback
	}

	var matches []scored
	for _, c := range cands {
		if c.Group == "" {
			continue
		}
		if sim := embedding.Cosine(vec, c.Embedding); sim > r.cfg.MinSimilarity {
			matches = append(matches, scored{c: c, sim: sim})
		}
	}
	if len(matches) == 0 {
		return fallback
	}
	slices.SortStableFunc(matches, func(a, b scored) int { return cmp.Compare(b.sim, a.sim) })
	if len(matches) > maxMatches {
		matches = matches[:maxMatches]
	}

	byGroup := make(map[string]*GroupScore)
	var order []string
	var similar []Match
	for _, m := range matches {
		g, ok := byGroup[m.c.Group]
		if !ok {
			g = &GroupScore{Group: m.c.Group}
			byGroup[m.c.Group] = g
			order = append(order, m.c.Group)
		}
		g.Score += m.sim
		if len(g.Samples) < r.cfg.MaxSamples {
			g.Samples = append(g.Samples, Sample{
				Name:       m.c.Name,
				Content:    truncate(m.c.Content, sampleContentLen) + "...",
				Similarity: m.sim,
				CreatedAt:  m.c.CreatedAt,
			})
		}
		if len(similar) < maxSimilarEpisodes {
			similar = append(similar, Match{UUID: m.c.UUID, Name: m.c.Name, Group: m.c.Group, Similarity: m.sim})
		}
	}

	groups := make([]GroupScore, 0, len(order))
	for _, id := range order {
		groups = append(groups, *byGroup[id])
	}
	slices.SortStableFunc(groups, func(a, b GroupScore) int { return cmp.Compare(b.Score, a.Score) })
	if len(groups) > r.cfg.MaxGroups {
		groups = groups[:r.cfg.MaxGroups]
	}
	if r.cfg.Describer != nil {
		for i := range groups {
			groups[i].Description = r.cfg.Describer.Description(ctx, groups[i].Group)
		}
	}

	top := groups[0]
	return Suggestion{
		SuggestedGroup: top.Group,
		Confidence:     top.Score,
		AutoAssignable: top.Score >= r.cfg.AutoAssignAbove,
		Groups:         groups,
		Episodes:       similar,
	}
}

var wordPattern = regexp.MustCompile(`\w+`)

// FallbackGroupID derives a group id from the first three words of name.
// Words are ASCII word runs and reserved ids get a suffix, so the result
// always passes registry checks.
func FallbackGroupID(name string) string {
	words := wordPattern.FindAllString(strings.ToLower(name), 3)
	if len(words) == 0 {
		return DefaultFallbackGroup
	}
	id := strings.Join(words, "_")
	if first, _ := utf8.DecodeRuneInString(id); !unicode.IsLetter(first) {
		id = "g_" + id
	}
	if utf8.RuneCountInString(id) < 3 || registry.IsProtected(id) {
		id += "_group"
	}
	return id
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
