package security

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newTestLogger(r *Redactor) (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewLogger(&buf, slog.LevelDebug, r), &buf
}

func TestRedactingHandler_Message(t *testing.T) {
	t.Parallel()

	logger, buf := newTestLogger(NewRedactor())
	logger.Info("embedder key sk-abcdefghijklmnopqrstuvwxyz rejected")

	out := buf.String()
	if strings.Contains(out, "sk-abcdefghijklmnopqrstuvwxyz") {
		t.Errorf("secret in output: %s", out)
	}
	if !strings.Contains(out, RedactPlaceholder) {
		t.Errorf("placeholder missing: %s", out)
	}
}

func TestRedactingHandler_Attributes(t *testing.T) {
	t.Parallel()

	logger, buf := newTestLogger(NewRedactor("neo4j-pass-42"))
	logger.Info("connect",
		"uri", "neo4j://db:7687",
		"detail", "auth neo4j-pass-42 refused",
		"error", errors.New("dial neo4j://neo4j:neo4j-pass-42@db"),
		"group", "sales",
	)

	out := buf.String()
	if strings.Contains(out, "neo4j-pass-42") {
		t.Errorf("secret in output: %s", out)
	}
	for _, want := range []string{"neo4j://db:7687", "group=sales"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q: %s", want, out)
		}
	}
}

func TestRedactingHandler_SecretKeys(t *testing.T) {
	t.Parallel()

	logger, buf := newTestLogger(NewRedactor())
	logger.With("api_key", "plain-value").Info("request", "Authorization", "whatever", "identity", "u-1")

	out := buf.String()
	if strings.Contains(out, "plain-value") || strings.Contains(out, "whatever") {
		t.Errorf("secret-keyed attribute leaked: %s", out)
	}
	if !strings.Contains(out, "identity=u-1") {
		t.Errorf("ordinary attribute lost: %s", out)
	}
}

func TestRedactingHandler_Groups(t *testing.T) {
	t.Parallel()

	logger, buf := newTestLogger(NewRedactor("grouped-secret"))
	logger.WithGroup("engine").Info("call", slog.Group("req", "body", "grouped-secret"))

	out := buf.String()
	if strings.Contains(out, "grouped-secret") {
		t.Errorf("secret in group: %s", out)
	}
	if !strings.Contains(out, "engine.req.body=") {
		t.Errorf("group prefix missing: %s", out)
	}
}

func TestRedactingHandler_Level(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelWarn, NewRedactor())
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info logged at warn level: %s", buf.String())
	}
}
