package transcript

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestFileLoggerWritesPerSessionNDJSON(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(Config{Enabled: true, Dir: dir, QueueSize: 16}, quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Log(Event{UserID: "user-1", SessionID: "sess-1", Channel: ChannelHTTP, Direction: DirectionUser, EventType: EventQuestion, Content: "  will I marry?\r\n"})
	logger.Log(Event{UserID: "user-1", SessionID: "sess-1", Channel: ChannelHTTP, Direction: DirectionBot, EventType: EventAnswer, Content: "soon"})
	logger.Log(Event{UserID: "user-1", SessionID: "sess-2", EventType: EventSessionEnded})

	// Close drains the queue.
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	lines := readLines(t, filepath.Join(dir, "user-1", "sess-1.ndjson"))
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	var got Event
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Content != "will I marry?" {
		t.Errorf("Content = %q, want normalized text", got.Content)
	}
	if got.Timestamp == "" {
		t.Error("Timestamp not populated")
	}
	if lines := readLines(t, filepath.Join(dir, "user-1", "sess-2.ndjson")); len(lines) != 1 {
		t.Errorf("sess-2 has %d lines, want 1", len(lines))
	}
}

func TestFileLoggerSanitizesPaths(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(Config{Enabled: true, Dir: dir, QueueSize: 4}, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	logger.Log(Event{UserID: "../../etc", SessionID: "a/b", EventType: EventQuestion})
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "______etc", "a_b.ndjson")); err != nil {
		t.Errorf("expected sanitized transcript path: %v", err)
	}
}

func TestLogAfterCloseIsIgnored(t *testing.T) {
	logger, err := New(Config{Enabled: true, Dir: t.TempDir(), QueueSize: 1}, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}
	logger.Log(Event{UserID: "u", SessionID: "s"})
	if err := logger.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestDisabledReturnsNop(t *testing.T) {
	logger, err := New(Config{Enabled: false}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := logger.(Nop); !ok {
		t.Fatalf("New(disabled) = %T, want Nop", logger)
	}
	logger.Log(Event{})
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestNormalizeContent(t *testing.T) {
	tests := map[string]string{
		"":                         "",
		" plain ":                  "plain",
		"line one\r\nline two\r\n": "line one\nline two",
	}
	for in, want := range tests {
		if got := normalizeContent(in); got != want {
			t.Errorf("normalizeContent(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestOriginFromContext(t *testing.T) {
	ch, id := OriginFromContext(context.Background())
	if ch != "" || id != "" {
		t.Errorf("empty context origin = %q, %q", ch, id)
	}
	ch, id = OriginFromContext(WithOrigin(context.Background(), ChannelWebSocket, "req-1"))
	if ch != ChannelWebSocket || id != "req-1" {
		t.Errorf("origin = %q, %q", ch, id)
	}
}
