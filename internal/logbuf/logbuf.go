// Package logbuf keeps recent log entries in memory so the API can serve
// them without a log file.
package logbuf

import (
	"log/slog"
	"sync"
	"time"
)

// Entry is a single captured log record.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Buffer holds the most recent entries up to a fixed capacity.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	cap     int
}

// New creates a buffer that retains up to cap entries.
func New(cap int) *Buffer {
	return &Buffer{entries: make([]Entry, 0, cap), cap: cap}
}

// Write appends an entry, evicting the oldest when full.
func (b *Buffer) Write(e Entry) {
	b.mu.Lock()
	if len(b.entries) == b.cap {
		copy(b.entries, b.entries[1:])
		b.entries = b.entries[:b.cap-1]
	}
	b.entries = append(b.entries, e)
	b.mu.Unlock()
}

// Recent returns up to limit entries at or above minLevel, oldest first.
// limit <= 0 means no limit.
func (b *Buffer) Recent(limit int, minLevel slog.Level) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	var result []Entry
	for _, e := range b.entries {
		if levelOf(e.Level) < minLevel {
			continue
		}
		result = append(result, e)
	}
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result
}

// levelOf converts a level string back to slog.Level.
func levelOf(s string) slog.Level {
	switch s {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
