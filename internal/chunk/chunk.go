// Package chunk splits long documents into overlapping pieces small
// enough to submit as individual episodes.
package chunk

import (
	"errors"
	"slices"
	"strings"
)

// Defaults for a zero Chunker.
const (
	DefaultSize    = 1000
	DefaultOverlap = 100
)

// Chunk is one piece of a document. Offset is the rune offset of the
// piece in the original text.
type Chunk struct {
	Text   string
	Offset int
}

// Chunker splits text at paragraph, sentence or word boundaries.
type Chunker struct {
	Size    int
	Overlap int
}

// Validate checks the chunker settings.
func (c Chunker) Validate() error {
	size, overlap := c.settings()
	if overlap < 0 || overlap >= size {
		return errors.New("chunk: overlap must be in [0, size)")
	}
	return nil
}

func (c Chunker) settings() (int, int) {
	size, overlap := c.Size, c.Overlap
	if size <= 0 {
		size = DefaultSize
		if overlap == 0 {
			overlap = DefaultOverlap
		}
	}
	return size, overlap
}

var (
	paragraphBreak = []rune("\n\n")
	sentenceBreak  = []rune(". ")
	wordBreak      = []rune(" ")
)

// Split returns the non-blank chunks of text in order. Each chunk holds at
// most Size runes and repeats up to Overlap runes of its predecessor.
func (c Chunker) Split(text string) []Chunk {
	size, overlap := c.settings()
	if overlap >= size {
		overlap = 0
	}
	runes := []rune(text)
	n := len(runes)

	var out []Chunk
	for pos := 0; pos < n; {
		end := min(pos+size, n)
		if end < n {
			if i := lastIndex(runes, paragraphBreak, pos, end); i > pos {
				end = i
			} else if i := lastIndex(runes, sentenceBreak, pos, end); i > pos {
				end = i + 1
			} else if i := lastIndex(runes, wordBreak, pos, end); i > pos {
				end = i
			}
		}

		if piece := strings.TrimSpace(string(runes[pos:end])); piece != "" {
			out = append(out, Chunk{Text: piece, Offset: pos})
		}
		if end >= n {
			break
		}
		next := end - overlap
		if next <= pos {
			next = end
		}
		pos = next
	}
	return out
}

// lastIndex finds the last occurrence of sep entirely inside s[lo:hi].
func lastIndex(s, sep []rune, lo, hi int) int {
	for i := hi - len(sep); i >= lo; i-- {
		if slices.Equal(s[i:i+len(sep)], sep) {
			return i
		}
	}
	return -1
}
