// Package logbuffer keeps the most recent crawler output lines in memory.
package logbuffer

import (
	"sync"
	"time"
)

// DefaultCapacity is the number of entries retained when none is configured.
const DefaultCapacity = 2000

// Level tags an entry with the stream it came from.
type Level string

// Levels recorded by the supervisor: stdout lines are INFO, stderr lines ERROR.
const (
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

// Entry is one buffered line.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
}

// Buffer is a fixed-capacity ring of entries. Appending to a full buffer
// overwrites the oldest entry. Safe for concurrent use.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	head    int // index of the oldest entry
	size    int
	now     func() time.Time
}

// Option customises a Buffer.
type Option func(*Buffer)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) {
		if now != nil {
			b.now = now
		}
	}
}

// New returns a Buffer holding at most capacity entries.
func New(capacity int, opts ...Option) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Buffer{
		entries: make([]Entry, capacity),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Append records a line.
func (b *Buffer) Append(level Level, message string) {
	ts := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()

	c := len(b.entries)
	if b.size < c {
		b.entries[(b.head+b.size)%c] = Entry{Timestamp: ts, Level: level, Message: message}
		b.size++
		return
	}
	b.entries[b.head] = Entry{Timestamp: ts, Level: level, Message: message}
	b.head = (b.head + 1) % c
}

// Recent returns up to limit of the newest entries, oldest first. A limit of
// zero or less returns everything retained.
func (b *Buffer) Recent(limit int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.size
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, n)
	c := len(b.entries)
	start := b.head + b.size - n
	for i := 0; i < n; i++ {
		out[i] = b.entries[(start+i)%c]
	}
	return out
}

// Len returns the number of retained entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Capacity returns the maximum number of retained entries.
func (b *Buffer) Capacity() int {
	return len(b.entries)
}
