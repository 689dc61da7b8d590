// Package transcript writes per-session conversation transcripts as NDJSON.
package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Channels.
const (
	ChannelHTTP      = "http"
	ChannelWebSocket = "ws"
	ChannelSweeper   = "sweeper"
)

// Event types.
const (
	EventReadingRequested = "reading_requested"
	EventReadingGenerated = "reading_generated"
	EventReadingFailed    = "reading_failed"
	EventQuestion         = "question"
	EventAnswer           = "answer"
	EventAnswerFailed     = "answer_failed"
	EventSessionEnded     = "session_ended"
)

// Directions.
const (
	DirectionUser   = "user"
	DirectionBot    = "bot"
	DirectionSystem = "system"
)

// Event is one transcript line.
type Event struct {
	Timestamp  string         `json:"ts"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	Content    string         `json:"content,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Config controls transcript writing.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Logger records transcript events. Log never blocks.
type Logger interface {
	Log(event Event)
	Close() error
}

// Nop discards every event.
type Nop struct{}

// Log implements Logger.
func (Nop) Log(Event) {}

// Close implements Logger.
func (Nop) Close() error { return nil }

// New returns a file-backed Logger, or Nop when cfg is disabled.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}

	l := &FileLogger{
		dir:    cfg.Dir,
		events: make(chan Event, cfg.QueueSize),
		done:   make(chan struct{}),
		files:  make(map[string]*os.File),
		logger: logger,
	}
	go l.run()
	return l, nil
}

// FileLogger appends events to <dir>/<user>/<session>.ndjson from a single
// writer goroutine.
type FileLogger struct {
	dir    string
	events chan Event
	done   chan struct{}
	files  map[string]*os.File
	logger *slog.Logger

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// Log queues event. Events are dropped when the queue is full or the logger
// is closed.
func (l *FileLogger) Log(event Event) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	event.Content = normalizeContent(event.Content)

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.events <- event:
	default:
		if n := l.dropped.Add(1); n == 1 || n%100 == 0 {
			l.logger.Warn("transcript queue full, dropping events", "dropped_total", n)
		}
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (l *FileLogger) Dropped() int64 { return l.dropped.Load() }

// Close drains the queue and closes every open file.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.events)
	l.mu.Unlock()

	<-l.done

	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (l *FileLogger) run() {
	defer close(l.done)
	for event := range l.events {
		if err := l.write(event); err != nil {
			l.logger.Warn("failed to write transcript event",
				"user_id", event.UserID,
				"session_id", event.SessionID,
				"error", err)
		}
	}
}

func (l *FileLogger) write(event Event) error {
	f, err := l.file(event.UserID, event.SessionID)
	if err != nil {
		return err
	}
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (l *FileLogger) file(userID, sessionID string) (*os.File, error) {
	userDir := safeName(userID)
	path := filepath.Join(l.dir, userDir, safeName(sessionID)+".ndjson")
	if f, ok := l.files[path]; ok {
		return f, nil
	}
	if err := os.MkdirAll(filepath.Join(l.dir, userDir), 0o750); err != nil {
		return nil, fmt.Errorf("create user transcript dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	l.files[path] = f
	return f, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

func safeName(s string) string {
	if s == "" {
		return "unknown"
	}
	return unsafeChars.ReplaceAllString(s, "_")
}

// normalizeContent keeps one line ending style so transcripts diff cleanly.
func normalizeContent(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r", ""))
}

type originKey struct{}

type origin struct {
	channel   string
	requestID string
}

// WithOrigin records the channel and request id that transcript events
// produced under ctx should carry.
func WithOrigin(ctx context.Context, channel, requestID string) context.Context {
	return context.WithValue(ctx, originKey{}, origin{channel: channel, requestID: requestID})
}

// OriginFromContext returns the channel and request id stored by WithOrigin.
func OriginFromContext(ctx context.Context) (channel, requestID string) {
	o, _ := ctx.Value(originKey{}).(origin)
	return o.channel, o.requestID
}
