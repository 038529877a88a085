// Package filelog stores the event log as an append-only text file with one
// "[timestamp] message" line per entry.
package filelog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/linnemanlabs/sentra/internal/eventlog"
)

// Log appends entries to a text file.
type Log struct {
	path string
	now  func() time.Time

	mu sync.Mutex
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// New returns a Log writing to path. The file is created on first Append.
func New(path string, opts ...Option) *Log {
	l := &Log{path: path, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Append writes one line. The file is opened per call so external rotation
// is picked up without a restart.
func (l *Log) Append(_ context.Context, message string) (eventlog.Entry, error) {
	e := eventlog.NewEntry(l.now(), message)

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return eventlog.Entry{}, fmt.Errorf("open event log: %w", err)
	}
	if _, err := f.WriteString(e.String() + "\n"); err != nil {
		_ = f.Close()
		return eventlog.Entry{}, fmt.Errorf("write event log: %w", err)
	}
	if err := f.Close(); err != nil {
		return eventlog.Entry{}, fmt.Errorf("close event log: %w", err)
	}
	return e, nil
}

// Entries reads every line back in file order. A missing file is an empty
// log. Lines without a parseable timestamp are returned with a zero Time.
func (l *Log) Entries(_ context.Context) ([]eventlog.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer func() { _ = f.Close() }()

	var entries []eventlog.Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		entries = append(entries, parseLine(line))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}
	return entries, nil
}

func parseLine(line string) eventlog.Entry {
	if strings.HasPrefix(line, "[") {
		if end := strings.Index(line, "] "); end > 0 {
			if ts, err := time.ParseInLocation(eventlog.TimeLayout, line[1:end], time.Local); err == nil {
				return eventlog.Entry{Time: ts, Message: line[end+2:]}
			}
		}
	}
	return eventlog.Entry{Message: line}
}
