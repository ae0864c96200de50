// Package security keeps secrets out of logs and bounds request rates on
// the public surfaces.
package security

import (
	"regexp"
	"slices"
	"strings"
	"sync"
)

// RedactPlaceholder is the replacement string for redacted secrets.
const RedactPlaceholder = "***REDACTED***"

// ServiceName is the service registry key of the process Redactor.
const ServiceName = "security.redactor"

// Redactor replaces secret values in strings. It matches known key formats
// and literal values registered at runtime (configured API keys, database
// passwords, gateway tokens). Safe for concurrent use.
type Redactor struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
	literals []string
}

// NewRedactor creates a Redactor with DefaultPatterns and the given literals.
func NewRedactor(literals ...string) *Redactor {
	r := &Redactor{patterns: DefaultPatterns()}
	for _, l := range literals {
		r.AddLiteral(l)
	}
	return r
}

// AddLiteral registers a secret value. Values shorter than four bytes are
// ignored: they would shred ordinary log text.
func (r *Redactor) AddLiteral(secret string) {
	if len(secret) < 4 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if slices.Contains(r.literals, secret) {
		return
	}
	r.literals = append(r.literals, secret)
	// Longest first so a secret containing another is replaced whole.
	slices.SortFunc(r.literals, func(a, b string) int { return len(b) - len(a) })
}

// Redact replaces every known secret in s with RedactPlaceholder.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}

	r.mu.RLock()
	patterns := r.patterns
	literals := r.literals
	r.mu.RUnlock()

	for _, lit := range literals {
		s = strings.ReplaceAll(s, lit, RedactPlaceholder)
	}
	for _, p := range patterns {
		s = p.ReplaceAllStringFunc(s, func(m string) string {
			sub := p.FindStringSubmatch(m)
			// Capture groups around the secret are kept as prefix and suffix.
			switch {
			case len(sub) > 2:
				return sub[1] + RedactPlaceholder + sub[2]
			case len(sub) == 2:
				return sub[1] + RedactPlaceholder
			default:
				return RedactPlaceholder
			}
		})
	}
	return s
}

// DefaultPatterns returns patterns for the credentials ingestd handles:
// embedding provider keys, bearer headers and passwords in connection URLs.
func DefaultPatterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		// OpenAI-compatible: sk-... and sk-proj-...
		regexp.MustCompile(`sk-(?:proj-)?[A-Za-z0-9_\-]{20,}`),
		// Google API keys (Gemini).
		regexp.MustCompile(`AIza[0-9A-Za-z_\-]{35}`),
		// Authorization headers.
		regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._~+/\-]+=*`),
		regexp.MustCompile(`(?i)(basic\s+)[A-Za-z0-9+/]+=*`),
		// user:password@ in neo4j://, bolt://, http(s):// URLs. host:port is left alone.
		regexp.MustCompile(`((?:neo4j|neo4j\+s|bolt|bolt\+s|https?)://[^:/@\s]+:)[^@\s/]+(@)`),
	}
}
