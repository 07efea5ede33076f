package testutil

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// LogEntry is one captured log record.
type LogEntry struct {
	Attrs   map[string]any
	Message string
	Level   slog.Level
}

// LogRecorder is a slog.Handler that keeps every record in memory.
type LogRecorder struct {
	mu      *sync.Mutex
	entries *[]LogEntry
	attrs   []slog.Attr
}

// NewLogRecorder returns a recorder and a logger writing to it at debug level.
func NewLogRecorder() (*LogRecorder, *slog.Logger) {
	r := &LogRecorder{mu: &sync.Mutex{}, entries: &[]LogEntry{}}
	return r, slog.New(r)
}

// Enabled implements slog.Handler.
func (r *LogRecorder) Enabled(context.Context, slog.Level) bool { return true }

// Handle implements slog.Handler.
func (r *LogRecorder) Handle(_ context.Context, rec slog.Record) error {
	entry := LogEntry{Level: rec.Level, Message: rec.Message, Attrs: make(map[string]any)}
	for _, a := range r.attrs {
		entry.Attrs[a.Key] = a.Value.Any()
	}
	rec.Attrs(func(a slog.Attr) bool {
		entry.Attrs[a.Key] = a.Value.Any()
		return true
	})

	r.mu.Lock()
	*r.entries = append(*r.entries, entry)
	r.mu.Unlock()
	return nil
}

// WithAttrs implements slog.Handler.
func (r *LogRecorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr{}, r.attrs...), attrs...)
	return &LogRecorder{mu: r.mu, entries: r.entries, attrs: merged}
}

// WithGroup implements slog.Handler. Groups are flattened.
func (r *LogRecorder) WithGroup(string) slog.Handler { return r }

// Entries returns a snapshot of captured records.
func (r *LogRecorder) Entries() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LogEntry, len(*r.entries))
	copy(out, *r.entries)
	return out
}

// AtLevel returns the records logged at exactly level.
func (r *LogRecorder) AtLevel(level slog.Level) []LogEntry {
	var out []LogEntry
	for _, e := range r.Entries() {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

// Find returns the first record whose message contains substr.
func (r *LogRecorder) Find(substr string) (LogEntry, bool) {
	for _, e := range r.Entries() {
		if strings.Contains(e.Message, substr) {
			return e, true
		}
	}
	return LogEntry{}, false
}
