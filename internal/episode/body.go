package episode

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Kind discriminates Body.
type Kind int

// Body kinds.
const (
	KindEmpty Kind = iota
	KindSingle
	KindBulk
)

func (k Kind) String() string {
	switch k {
	case KindSingle:
		return "single"
	case KindBulk:
		return "bulk"
	default:
		return "empty"
	}
}

// BulkItem is one entry of a bulk body.
type BulkItem struct {
	Name              string    `json:"name"`
	Content           string    `json:"content"`
	Source            Source    `json:"source,omitempty"`
	SourceDescription string    `json:"source_description,omitempty"`
	ReferenceTime     time.Time `json:"reference_time,omitzero"`
	Identity          string    `json:"identity,omitempty"`
}

// Body is either a single text or an ordered list of bulk items. The kind
// is fixed when the Body is built.
type Body struct {
	kind  Kind
	text  string
	items []BulkItem
}

// SingleBody wraps one text.
func SingleBody(text string) Body {
	return Body{kind: KindSingle, text: text}
}

// BulkBody wraps an ordered sequence of items.
func BulkBody(items []BulkItem) Body {
	return Body{kind: KindBulk, items: slices.Clone(items)}
}

// Kind returns the body variant.
func (b Body) Kind() Kind { return b.kind }

// Text returns the single text. Empty for bulk bodies.
func (b Body) Text() string { return b.text }

// Items returns a copy of the bulk items. Nil for single bodies.
func (b Body) Items() []BulkItem { return slices.Clone(b.items) }

// Len is 1 for a single body and the item count for a bulk one.
func (b Body) Len() int {
	switch b.kind {
	case KindSingle:
		return 1
	case KindBulk:
		return len(b.items)
	default:
		return 0
	}
}

// Preview returns the first n runes of the content, for logs. Bulk bodies
// preview their first item.
func (b Body) Preview(n int) string {
	s := b.text
	if b.kind == KindBulk && len(b.items) > 0 {
		s = b.items[0].Content
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i] + "..."
		}
		count++
	}
	return s
}

func (b Body) clone() Body {
	return Body{kind: b.kind, text: b.text, items: slices.Clone(b.items)}
}

// MarshalJSON encodes a single body as a string and a bulk body as an array.
func (b Body) MarshalJSON() ([]byte, error) {
	switch b.kind {
	case KindSingle:
		return json.Marshal(b.text)
	case KindBulk:
		return json.Marshal(b.items)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON resolves the variant from the JSON shape: a string is a
// single body, an array a bulk body.
func (b *Body) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")):
		*b = Body{}
		return nil
	case trimmed[0] == '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*b = SingleBody(text)
		return nil
	case trimmed[0] == '[':
		var items []BulkItem
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		*b = Body{kind: KindBulk, items: items}
		return nil
	default:
		return fmt.Errorf("%w: body must be a string or an array of items", ErrInvalid)
	}
}
