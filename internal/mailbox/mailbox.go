// Package mailbox defines how raw sign-in notification bodies reach the
// triage loop, plus in-memory and fan-in sources.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnavailable marks a source that could not be reached this round.
var ErrUnavailable = errors.New("mailbox unavailable")

// Query selects which messages count as sign-in notifications.
type Query struct {
	From    string
	Subject string
}

// Source returns the plain-text bodies of the most recent notifications,
// oldest first, at most limit of them.
type Source interface {
	FetchRecent(ctx context.Context, q Query, limit int) ([]string, error)
}

// Unavailable wraps err so callers can match it with ErrUnavailable.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// Buffer is a bounded in-memory queue of bodies pushed by bridges (HTTP
// inbox, NATS). FetchRecent drains it in arrival order. Queries do not apply: producers only
// push notification bodies.
type Buffer struct {
	mu     sync.Mutex
	bodies []string
	max    int
}

// NewBuffer returns a Buffer that keeps at most max bodies, dropping the
// oldest when full. max <= 0 means 100.
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = 100
	}
	return &Buffer{max: max}
}

// Push enqueues a body and reports whether an older body was dropped.
func (b *Buffer) Push(body string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bodies = append(b.bodies, body)
	if len(b.bodies) > b.max {
		b.bodies = b.bodies[len(b.bodies)-b.max:]
		return true
	}
	return false
}

// Len returns the number of queued bodies.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bodies)
}

// FetchRecent removes and returns up to limit of the oldest queued bodies,
// oldest first. The rest stay queued for the next call: a body accepted by
// Push is only lost when Push reports the drop. limit <= 0 drains the queue.
func (b *Buffer) FetchRecent(_ context.Context, _ Query, limit int) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.bodies)
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]string, n)
	copy(out, b.bodies[:n])
	b.bodies = b.bodies[n:]
	if len(b.bodies) == 0 {
		b.bodies = nil
	}
	return out, nil
}

// Multi fans in several sources. Bodies from healthy sources are returned
// even when another source fails; failures are joined into the error.
type Multi []Source

// FetchRecent implements Source.
func (m Multi) FetchRecent(ctx context.Context, q Query, limit int) ([]string, error) {
	var (
		out  []string
		errs []error
	)
	for _, s := range m {
		bodies, err := s.FetchRecent(ctx, q, limit)
		if err != nil {
			errs = append(errs, err)
		}
		out = append(out, bodies...)
	}
	return out, errors.Join(errs...)
}
