package episode

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func validJob() Job {
	j := Job{Name: "Standup notes", Body: SingleBody("We shipped the importer.")}
	j.Normalize(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	return j
}

func TestNormalize_Defaults(t *testing.T) {
	j := Job{Name: "  padded  ", Body: SingleBody("x")}
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	j.Normalize(now)

	if j.Identity == "" {
		t.Error("identity should be generated")
	}
	if j.Source != SourceText {
		t.Errorf("source = %q, want %q", j.Source, SourceText)
	}
	if !j.ReferenceTime.Equal(now) || !j.SubmittedAt.Equal(now) {
		t.Errorf("times = %v / %v, want %v", j.ReferenceTime, j.SubmittedAt, now)
	}
	if j.Name != "padded" {
		t.Errorf("name = %q, want trimmed", j.Name)
	}

	keep := Job{Identity: "fixed"}
	keep.Normalize(now)
	if keep.Identity != "fixed" {
		t.Errorf("identity = %q, caller value must be kept", keep.Identity)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Job)
		ok     bool
	}{
		{"valid single", func(*Job) {}, true},
		{"valid bulk", func(j *Job) {
			j.Body = BulkBody([]BulkItem{{Name: "a", Content: "one"}, {Name: "b", Content: "two"}})
		}, true},
		{"missing name", func(j *Job) { j.Name = "" }, false},
		{"blank body", func(j *Job) { j.Body = SingleBody("   ") }, false},
		{"no body", func(j *Job) { j.Body = Body{} }, false},
		{"empty bulk", func(j *Job) { j.Body = BulkBody(nil) }, false},
		{"blank bulk item", func(j *Job) { j.Body = BulkBody([]BulkItem{{Content: ""}}) }, false},
		{"bad source", func(j *Job) { j.Source = "video" }, false},
		{"empty tag", func(j *Job) { j.Tags = []string{"ok", ""} }, false},
		{"valid hints", func(j *Job) { j.ExtractionHints = []byte(`{"type":"object","properties":{"name":{"type":"string"}}}`) }, true},
		{"broken hints", func(j *Job) { j.ExtractionHints = []byte(`{"type": 12}`) }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := validJob()
			tt.mutate(&j)
			err := j.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatal("expected error")
				}
				if !errors.Is(err, ErrInvalid) {
					t.Errorf("error %v should wrap ErrInvalid", err)
				}
			}
		})
	}
}

func TestParseSource(t *testing.T) {
	tests := map[string]Source{
		"":                SourceText,
		"TEXT":            SourceText,
		"message":         SourceMessage,
		"json":            SourceStructured,
		"structured-data": SourceStructured,
	}
	for in, want := range tests {
		got, err := ParseSource(in)
		if err != nil {
			t.Errorf("ParseSource(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseSource(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := ParseSource("audio"); !errors.Is(err, ErrInvalid) {
		t.Errorf("ParseSource(audio) error = %v, want ErrInvalid", err)
	}
}

func TestBody_JSONVariants(t *testing.T) {
	var single Body
	if err := json.Unmarshal([]byte(`"hello"`), &single); err != nil {
		t.Fatalf("unmarshal single: %v", err)
	}
	if single.Kind() != KindSingle || single.Text() != "hello" {
		t.Errorf("single = %v %q", single.Kind(), single.Text())
	}

	var bulk Body
	if err := json.Unmarshal([]byte(`[{"name":"a","content":"one"},{"name":"b","content":"two"}]`), &bulk); err != nil {
		t.Fatalf("unmarshal bulk: %v", err)
	}
	if bulk.Kind() != KindBulk || bulk.Len() != 2 {
		t.Fatalf("bulk = %v len %d", bulk.Kind(), bulk.Len())
	}
	if items := bulk.Items(); items[1].Content != "two" {
		t.Errorf("order not preserved: %+v", items)
	}

	var bad Body
	if err := json.Unmarshal([]byte(`42`), &bad); !errors.Is(err, ErrInvalid) {
		t.Errorf("numeric body error = %v, want ErrInvalid", err)
	}
}

func TestClone_Independent(t *testing.T) {
	j := validJob()
	j.Tags = []string{"a"}
	j.Body = BulkBody([]BulkItem{{Content: "one"}})

	cp := j.Clone()
	cp.Tags[0] = "changed"

	if j.Tags[0] != "a" {
		t.Error("clone shares the tags slice")
	}
	if !cp.IsBulk() {
		t.Error("clone lost the body kind")
	}
}

func TestBody_Preview(t *testing.T) {
	b := SingleBody("abcdefghij")
	if got := b.Preview(4); got != "abcd..." {
		t.Errorf("Preview(4) = %q", got)
	}
	if got := b.Preview(20); got != "abcdefghij" {
		t.Errorf("Preview(20) = %q", got)
	}
	if got := b.Preview(10); got != "abcdefghij" {
		t.Errorf("Preview(10) = %q", got)
	}
}

func TestBody_PreviewKeepsRunesWhole(t *testing.T) {
	b := SingleBody("héllo wörld")
	if got := b.Preview(2); got != "hé..." {
		t.Errorf("Preview(2) = %q, want %q", got, "hé...")
	}
	if !utf8.ValidString(SingleBody("日本語のテキスト").Preview(3)) {
		t.Error("preview split a rune")
	}

	bulk := BulkBody([]BulkItem{{Content: "première ligne"}})
	if got := bulk.Preview(3); got != "pre..." {
		t.Errorf("bulk Preview(3) = %q", got)
	}
}

func TestBulkItem_OmitsZeroReferenceTime(t *testing.T) {
	data, err := json.Marshal(BulkBody([]BulkItem{{Name: "a", Content: "b"}}))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "reference_time") {
		t.Errorf("zero reference_time marshaled: %s", data)
	}

	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	data, err = json.Marshal(BulkBody([]BulkItem{{Name: "a", Content: "b", ReferenceTime: at}}))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"reference_time":"2026-05-01T00:00:00Z"`) {
		t.Errorf("reference_time missing: %s", data)
	}
}
