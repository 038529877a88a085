// Package eventlog defines the append-only audit trail of alerts and
// operator dispositions.
package eventlog

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// TimeLayout is the timestamp format used when rendering entries.
const TimeLayout = "2006-01-02 15:04:05.000000"

// Entry is a single log record.
type Entry struct {
	ID      string    `json:"id,omitempty"`
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// Log is an append-only sequence of entries. Implementations never reorder
// or delete entries.
type Log interface {
	Append(ctx context.Context, message string) (Entry, error)
	Entries(ctx context.Context) ([]Entry, error)
}

// NewEntry stamps message with an ID and the given time. Line breaks are
// folded so one entry is always one line.
func NewEntry(at time.Time, message string) Entry {
	return Entry{
		ID:      ulid.Make().String(),
		Time:    at,
		Message: Sanitize(message),
	}
}

// Sanitize folds CR and LF into spaces.
func Sanitize(message string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(message)
}

// String renders the entry as "[timestamp] message".
func (e Entry) String() string {
	if e.Time.IsZero() {
		return e.Message
	}
	return "[" + e.Time.Format(TimeLayout) + "] " + e.Message
}
