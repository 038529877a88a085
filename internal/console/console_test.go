package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/sentra/internal/disposition"
	"github.com/linnemanlabs/sentra/internal/eventlog"
	"github.com/linnemanlabs/sentra/internal/notification"
	"github.com/linnemanlabs/sentra/internal/risk"
)

type memLog struct{ entries []eventlog.Entry }

func (m *memLog) Append(_ context.Context, msg string) (eventlog.Entry, error) {
	e := eventlog.NewEntry(time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC), msg)
	m.entries = append(m.entries, e)
	return e, nil
}

func (m *memLog) Entries(_ context.Context) ([]eventlog.Entry, error) { return m.entries, nil }

type memTrust map[string]bool

func (m memTrust) Add(_ context.Context, ip string) (bool, error) {
	if m[ip] {
		return false, nil
	}
	m[ip] = true
	return true, nil
}

func testAlert() disposition.Alert {
	return disposition.Alert{
		Notification: notification.Notification{IP: "91.108.4.5", Location: "Unknown", Time: "02:00 AM UTC", Country: "NL"},
		Assessment: risk.Assessment{Score: 7, Factors: []risk.Factor{
			{Name: risk.FactorNewSource, Weight: 3, Detail: "91.108.4.5 is not a trusted source"},
		}},
	}
}

func TestConsole_DrivesWorkflow(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	c := New(strings.NewReader("7\n3\n4\n"), &out)
	lg := &memLog{}
	_, _ = lg.Append(context.Background(), "ALERT - IP: 91.108.4.5")

	w := disposition.New(testAlert(), disposition.Deps{Known: memTrust{}, Log: lg})
	outcome, err := w.Run(context.Background(), c)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome != disposition.OutcomeDismissed {
		t.Errorf("outcome = %q, want dismissed", outcome)
	}

	text := out.String()
	for _, want := range []string{
		"ALERT: Suspicious login detected!",
		"IP: 91.108.4.5",
		"Score: 7/10",
		"Location: Unknown",
		"Time: 02:00 AM UTC",
		"GeoIP country: NL",
		"+3 91.108.4.5 is not a trusted source",
		"[1]", "[2]", "[3]", "[4]",
		"Choose an action:",
		"Invalid choice. Try again.",
		"ALERT - IP: 91.108.4.5",
		"Alert dismissed.",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q\n%s", want, text)
		}
	}
}

func TestConsole_Trust(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	c := New(strings.NewReader("1\n"), &out)
	known := memTrust{}
	w := disposition.New(testAlert(), disposition.Deps{Known: known, Log: &memLog{}})

	if _, err := w.Run(context.Background(), c); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "IP 91.108.4.5 whitelisted.") {
		t.Errorf("output = %s", out.String())
	}
}

func TestConsole_EOF(t *testing.T) {
	t.Parallel()

	c := New(strings.NewReader(""), io.Discard)
	_, err := c.Choose(context.Background())
	if !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestConsole_CancelWhileWaiting(t *testing.T) {
	t.Parallel()

	pr, pw := io.Pipe()
	defer func() { _ = pw.Close() }()

	c := New(pr, io.Discard)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Choose(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestConsole_ReportFailure(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	c := New(strings.NewReader(""), &out)
	c.Report(context.Background(), disposition.Result{
		Action: disposition.ActionTrust,
		State:  disposition.StatePresenting,
		Err:    errors.New("disk full"),
	})
	if !strings.Contains(out.String(), "Trust failed: disk full") {
		t.Errorf("output = %q", out.String())
	}
}
