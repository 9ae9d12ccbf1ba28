package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// LogRecord is one captured slog record with its attributes flattened. Group
// members are keyed "group.key"; integers are stored as int64.
type LogRecord struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// LogRecorder is a slog.Handler that keeps every record in memory. Loggers
// derived with With or WithGroup write to the same buffer.
type LogRecorder struct {
	t      *testing.T
	buf    *recordBuffer
	attrs  []slog.Attr
	prefix string
}

type recordBuffer struct {
	mu      sync.Mutex
	records []LogRecord
}

// NewLogRecorder echoes records through t.Logf when t is not nil
func NewLogRecorder(t *testing.T) *LogRecorder {
	return &LogRecorder{t: t, buf: &recordBuffer{}}
}

// NewTestLogger returns a logger writing to a fresh recorder
func NewTestLogger(t *testing.T) (*slog.Logger, *LogRecorder) {
	rec := NewLogRecorder(t)
	return slog.New(rec), rec
}

func (h *LogRecorder) Enabled(context.Context, slog.Level) bool { return true }

func (h *LogRecorder) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[h.prefix+a.Key] = a.Value.Any()
		return true
	})

	h.buf.mu.Lock()
	h.buf.records = append(h.buf.records, LogRecord{Time: r.Time, Level: r.Level, Message: r.Message, Attrs: attrs})
	h.buf.mu.Unlock()

	if h.t != nil {
		h.t.Logf("%s %s %v", r.Level, r.Message, attrs)
	}
	return nil
}

func (h *LogRecorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	c.attrs = append(c.attrs, h.attrs...)
	for _, a := range attrs {
		c.attrs = append(c.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return &c
}

func (h *LogRecorder) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix = h.prefix + name + "."
	return &c
}

// Records returns a snapshot of everything captured so far
func (h *LogRecorder) Records() []LogRecord {
	h.buf.mu.Lock()
	defer h.buf.mu.Unlock()
	return append([]LogRecord(nil), h.buf.records...)
}

// Find returns the records at level whose message contains msg
func (h *LogRecorder) Find(level slog.Level, msg string) []LogRecord {
	var out []LogRecord
	for _, r := range h.Records() {
		if r.Level == level && strings.Contains(r.Message, msg) {
			out = append(out, r)
		}
	}
	return out
}

func (h *LogRecorder) Len() int {
	h.buf.mu.Lock()
	defer h.buf.mu.Unlock()
	return len(h.buf.records)
}

func (h *LogRecorder) Reset() {
	h.buf.mu.Lock()
	h.buf.records = nil
	h.buf.mu.Unlock()
}

// AssertLogged fails t unless some record at level contains msg and carries
// every key/value pair in kv
func AssertLogged(t *testing.T, h *LogRecorder, level slog.Level, msg string, kv ...any) bool {
	t.Helper()
	if len(kv)%2 != 0 {
		return assert.Fail(t, "AssertLogged needs key/value pairs", "got %d values", len(kv))
	}
	for _, r := range h.Find(level, msg) {
		if hasAttrs(r, kv) {
			return true
		}
	}
	return assert.Fail(t, fmt.Sprintf("no %s record %q with %v", level, msg, kv), "captured: %s", h.dump())
}

// AssertNoErrors fails t if anything was logged at error level or above
func AssertNoErrors(t *testing.T, h *LogRecorder) bool {
	t.Helper()
	for _, r := range h.Records() {
		if r.Level >= slog.LevelError {
			return assert.Fail(t, "unexpected error log", "%s %v", r.Message, r.Attrs)
		}
	}
	return true
}

func hasAttrs(r LogRecord, kv []any) bool {
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			return false
		}
		if v, ok := r.Attrs[key]; !ok || v != kv[i+1] {
			return false
		}
	}
	return true
}

func (h *LogRecorder) dump() string {
	var b strings.Builder
	for _, r := range h.Records() {
		fmt.Fprintf(&b, "\n  %s %s %v", r.Level, r.Message, r.Attrs)
	}
	return b.String()
}
