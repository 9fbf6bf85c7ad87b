// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"io"
	"sync"

	"github.com/intentgate/intentgate/internal/domain/audit"
)

// DefaultAuditCapacity is the number of entries kept when no capacity is
// configured.
const DefaultAuditCapacity = 100

// AuditLog is a bounded, most-recent-first decision history backed by a
// ring buffer. Safe for concurrent use.
type AuditLog struct {
	mu   sync.Mutex
	ring []audit.Entry
	// head is the index of the next write; the newest entry sits at head-1.
	head  int
	count int
}

// resolveCapacity returns the first positive capacity value, or DefaultAuditCapacity.
func resolveCapacity(capacity ...int) int {
	if len(capacity) > 0 && capacity[0] > 0 {
		return capacity[0]
	}
	return DefaultAuditCapacity
}

// NewAuditLog creates an audit log.
// An optional capacity parameter sets the ring buffer size (default 100).
func NewAuditLog(capacity ...int) *AuditLog {
	return &AuditLog{ring: make([]audit.Entry, resolveCapacity(capacity...))}
}

// Record inserts an entry at the head, overwriting the oldest entry when
// full.
func (l *AuditLog) Record(e audit.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ring[l.head] = e
	l.head = (l.head + 1) % len(l.ring)
	if l.count < len(l.ring) {
		l.count++
	}
}

// Query returns a fresh copy of all entries, newest first.
func (l *AuditLog) Query() []audit.Entry {
	return l.GetRecent(-1)
}

// GetRecent returns the n most recent entries, newest first. A negative n
// returns everything.
func (l *AuditLog) GetRecent(n int) []audit.Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n < 0 || n > l.count {
		n = l.count
	}
	result := make([]audit.Entry, n)
	for i := 0; i < n; i++ {
		idx := (l.head - 1 - i + len(l.ring)) % len(l.ring)
		result[i] = l.ring[idx]
	}
	return result
}

// Restore replaces the contents with entries given newest first, keeping
// at most Capacity of them. Used to reload a persisted log at startup.
func (l *AuditLog) Restore(entries []audit.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	clear(l.ring)
	l.head, l.count = 0, 0
	if len(entries) > len(l.ring) {
		entries = entries[:len(l.ring)]
	}
	for i := len(entries) - 1; i >= 0; i-- {
		l.ring[l.head] = entries[i]
		l.head = (l.head + 1) % len(l.ring)
		l.count++
	}
}

// Clear empties the log.
func (l *AuditLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	clear(l.ring)
	l.head, l.count = 0, 0
}

// Len returns the number of entries held.
func (l *AuditLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Capacity returns the maximum number of entries held.
func (l *AuditLog) Capacity() int {
	return len(l.ring)
}

// Compile-time interface verification.
var _ audit.Log = (*AuditLog)(nil)

// JSONSink implements audit.Sink by encoding entries as JSON lines to a
// writer, such as stdout.
type JSONSink struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// NewJSONSink creates a sink writing to w. If w is an io.Closer other
// than the process's standard streams, pass it as closer to have Close
// release it.
func NewJSONSink(w io.Writer, closer io.Closer) *JSONSink {
	return &JSONSink{w: w, closer: closer}
}

// Append writes the entries.
func (s *JSONSink) Append(_ context.Context, entries ...audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return audit.WriteJSONLines(s.w, entries)
}

// Close releases the underlying writer.
func (s *JSONSink) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

var _ audit.Sink = (*JSONSink)(nil)
