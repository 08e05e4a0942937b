// Package correlation tracks in-flight transcription requests by their
// correlation identifier.
//
// [Table.Take] is destructive: the first caller to take a request id owns its
// resolution and every later Take for the same id reports absent. This makes
// duplicate terminal events from the engine host harmless.
package correlation

import (
	"sort"
	"sync"
	"time"
)

// Pending describes one submitted request awaiting a terminal event.
type Pending struct {
	RequestID   string
	SessionID   string
	SubmittedAt time.Time
	Deadline    time.Time
}

// Table maps request ids to pending requests. It is safe for concurrent use.
type Table struct {
	mu      sync.Mutex
	entries map[string]Pending
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[string]Pending)}
}

// Put records p under p.RequestID, replacing any existing entry.
func (t *Table) Put(p Pending) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[p.RequestID] = p
}

// Take removes and returns the entry for requestID.
func (t *Table) Take(requestID string) (Pending, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.entries[requestID]
	if ok {
		delete(t.entries, requestID)
	}
	return p, ok
}

// Contains reports whether requestID is pending.
func (t *Table) Contains(requestID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[requestID]
	return ok
}

// Sweep removes and returns every entry whose deadline is at or before now,
// oldest submission first.
func (t *Table) Sweep(now time.Time) []Pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []Pending
	for id, p := range t.entries {
		if !p.Deadline.After(now) {
			expired = append(expired, p)
			delete(t.entries, id)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].SubmittedAt.Before(expired[j].SubmittedAt)
	})
	return expired
}

// Len returns the number of pending requests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
