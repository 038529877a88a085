// Package console is the terminal presentation of the disposition workflow.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/linnemanlabs/sentra/internal/disposition"
	"github.com/linnemanlabs/sentra/internal/risk"
)

type line struct {
	text string
	err  error
}

// Console reads menu choices from in and writes to out.
type Console struct {
	in  io.Reader
	out io.Writer

	alert   lipgloss.Style
	ok      lipgloss.Style
	warn    lipgloss.Style
	faint   lipgloss.Style
	menuKey lipgloss.Style

	once  sync.Once
	lines chan line
}

// New returns a Console. Input is read by a background goroutine started on
// the first Choose, so a pending prompt can be abandoned on cancellation.
func New(in io.Reader, out io.Writer) *Console {
	r := lipgloss.NewRenderer(out)
	return &Console{
		in:      in,
		out:     out,
		alert:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		ok:      r.NewStyle().Foreground(lipgloss.Color("10")),
		warn:    r.NewStyle().Foreground(lipgloss.Color("11")),
		faint:   r.NewStyle().Faint(true),
		menuKey: r.NewStyle().Bold(true),
	}
}

func (c *Console) start() {
	c.lines = make(chan line)
	go func() {
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			c.lines <- line{text: sc.Text()}
		}
		err := sc.Err()
		if err == nil {
			err = io.EOF
		}
		c.lines <- line{err: err}
		close(c.lines)
	}()
}

// ShowAlert prints the alert banner.
func (c *Console) ShowAlert(_ context.Context, a disposition.Alert) {
	n := a.Notification
	_, _ = fmt.Fprintln(c.out)
	_, _ = fmt.Fprintln(c.out, c.alert.Render("🚨 ALERT: Suspicious login detected!"))
	_, _ = fmt.Fprintf(c.out, "IP: %s\n", n.IP)
	_, _ = fmt.Fprintf(c.out, "Score: %d/%d\n", a.Assessment.Score, risk.MaxScore)
	_, _ = fmt.Fprintf(c.out, "Location: %s\n", n.Location)
	_, _ = fmt.Fprintf(c.out, "Time: %s\n", n.Time)
	if n.Country != "" {
		_, _ = fmt.Fprintf(c.out, "GeoIP country: %s\n", n.Country)
	}
	for _, f := range a.Assessment.Factors {
		_, _ = fmt.Fprintln(c.out, c.faint.Render(fmt.Sprintf("  +%d %s", f.Weight, f.Detail)))
	}
}

// Choose prints the menu and waits for one line of input.
func (c *Console) Choose(ctx context.Context) (string, error) {
	c.once.Do(c.start)

	_, _ = fmt.Fprintln(c.out)
	for _, item := range disposition.Menu {
		_, _ = fmt.Fprintf(c.out, "%s %s\n", c.menuKey.Render("["+string(item.Choice)+"]"), item.Label)
	}
	_, _ = fmt.Fprint(c.out, "Choose an action: ")

	select {
	case <-ctx.Done():
		_, _ = fmt.Fprintln(c.out)
		return "", ctx.Err()
	case l, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		if l.err != nil {
			return "", l.err
		}
		return l.text, nil
	}
}

// Report prints the outcome of a step.
func (c *Console) Report(_ context.Context, r disposition.Result) {
	switch {
	case errors.Is(r.Err, disposition.ErrInvalidChoice):
		_, _ = fmt.Fprintln(c.out, c.warn.Render("❌ Invalid choice. Try again."))
		return
	case r.Err != nil && r.State != disposition.StateTerminal:
		_, _ = fmt.Fprintln(c.out, c.alert.Render(fmt.Sprintf("❌ %s failed: %v", actionLabel(r.Action), r.Err)))
		return
	}

	switch r.Action {
	case disposition.ActionTrust:
		if r.Outcome == disposition.OutcomeAlreadyTrusted {
			_, _ = fmt.Fprintln(c.out, c.ok.Render(fmt.Sprintf("IP %s is already trusted.", r.IP)))
		} else {
			_, _ = fmt.Fprintln(c.out, c.ok.Render(fmt.Sprintf("✅ IP %s whitelisted.", r.IP)))
		}
	case disposition.ActionOpen:
		_, _ = fmt.Fprintf(c.out, "Opened %s\n", r.URL)
	case disposition.ActionViewLog:
		if len(r.Entries) == 0 {
			_, _ = fmt.Fprintln(c.out, c.faint.Render("(log is empty)"))
		}
		for _, e := range r.Entries {
			_, _ = fmt.Fprintln(c.out, e.String())
		}
	case disposition.ActionDismiss:
		_, _ = fmt.Fprintln(c.out, c.warn.Render("⚠️ Alert dismissed."))
	}

	// terminal with a secondary failure, e.g. trusted but not logged
	if r.Err != nil {
		_, _ = fmt.Fprintln(c.out, c.warn.Render(fmt.Sprintf("warning: %v", r.Err)))
	}
}

func actionLabel(a disposition.Action) string {
	switch a {
	case disposition.ActionTrust:
		return "Trust"
	case disposition.ActionOpen:
		return "Open"
	case disposition.ActionViewLog:
		return "View log"
	case disposition.ActionDismiss:
		return "Dismiss"
	default:
		return "Action"
	}
}
