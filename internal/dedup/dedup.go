// Package dedup remembers which notifications were already evaluated during
// the current run.
package dedup

// Tracker is an in-memory set of identities. It is not safe for concurrent
// use; the orchestrator owns it from a single goroutine.
type Tracker struct {
	seen map[string]struct{}
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{seen: make(map[string]struct{})}
}

// Seen reports whether id was marked.
func (t *Tracker) Seen(id string) bool {
	_, ok := t.seen[id]
	return ok
}

// Mark records id.
func (t *Tracker) Mark(id string) {
	t.seen[id] = struct{}{}
}

// Len returns the number of marked identities.
func (t *Tracker) Len() int { return len(t.seen) }
