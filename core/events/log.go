package events

import (
	"strings"
	"sync"
)

// DefaultLogCapacity bounds the in-memory event history when the caller does
// not specify one.
const DefaultLogCapacity = 4096

// Entry pairs an emitted event with its monotonically increasing sequence
// number.
type Entry struct {
	Sequence uint64
	Event    Event
}

// Log is a capped in-memory event history. It satisfies Emitter so it can be
// wired directly into an engine, and keeps the most recent entries for
// external indexing via RPC.
type Log struct {
	mu   sync.RWMutex
	buf  []Entry
	next uint64
	cap  int
}

// NewLog returns a log retaining at most capacity entries. A non-positive
// capacity falls back to DefaultLogCapacity.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &Log{cap: capacity}
}

// Emit implements the Emitter interface.
func (l *Log) Emit(evt Event) {
	if l == nil || evt == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	l.buf = append(l.buf, Entry{Sequence: l.next, Event: evt})
	if len(l.buf) > l.cap {
		l.buf = l.buf[len(l.buf)-l.cap:]
	}
}

// Entries returns up to limit of the most recent entries whose event type
// carries the given prefix. An empty prefix matches everything; a
// non-positive limit returns all retained matches, oldest first.
func (l *Log) Entries(prefix string, limit int) []Entry {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	matched := make([]Entry, 0, len(l.buf))
	for _, entry := range l.buf {
		if prefix != "" && !strings.HasPrefix(entry.Event.EventType(), prefix) {
			continue
		}
		matched = append(matched, entry)
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}
