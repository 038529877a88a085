// Package disposition implements the operator's decision loop for an alerted
// sign-in: trust the source, open the external security page, view the event
// log, or dismiss.
//
// A Workflow starts in StatePresenting and only reaches StateTerminal through
// a persisted trust or a recorded dismissal. Step is a pure transition driven
// by the caller, so the prompt can be modelled as a suspension point; Run
// drives Step through a Prompter.
package disposition

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/linnemanlabs/sentra/internal/eventlog"
	"github.com/linnemanlabs/sentra/internal/notification"
	"github.com/linnemanlabs/sentra/internal/risk"
)

var (
	// ErrInvalidChoice is reported for input that is not a menu option.
	ErrInvalidChoice = errors.New("invalid choice")

	// ErrTerminal is reported when Step is called after the workflow ended.
	ErrTerminal = errors.New("workflow already terminated")
)

// State of the workflow.
type State int

const (
	StatePresenting State = iota
	StateTerminal
)

func (s State) String() string {
	if s == StateTerminal {
		return "terminal"
	}
	return "presenting"
}

// Choice is a menu option as typed by the operator.
type Choice string

const (
	ChoiceTrust   Choice = "1"
	ChoiceOpen    Choice = "2"
	ChoiceViewLog Choice = "3"
	ChoiceDismiss Choice = "4"
)

// MenuItem is one line of the operator menu.
type MenuItem struct {
	Choice Choice
	Label  string
}

// Menu lists the options in display order.
var Menu = []MenuItem{
	{ChoiceTrust, "Trust this IP (whitelist)"},
	{ChoiceOpen, "Open security checkup page"},
	{ChoiceViewLog, "View Sentra log"},
	{ChoiceDismiss, "Skip/Ignore"},
}

// Action is the transition taken by a Step.
type Action string

const (
	ActionNone    Action = ""
	ActionTrust   Action = "trust"
	ActionOpen    Action = "open"
	ActionViewLog Action = "view_log"
	ActionDismiss Action = "dismiss"
)

// Outcome is the terminal disposition.
type Outcome string

const (
	OutcomeNone           Outcome = ""
	OutcomeTrusted        Outcome = "trusted"
	OutcomeAlreadyTrusted Outcome = "already_trusted"
	OutcomeDismissed      Outcome = "dismissed"
)

// Alert is what the operator is asked to decide on.
type Alert struct {
	Notification notification.Notification
	Assessment   risk.Assessment
}

// Trustee records a trusted IP, persisting it before reporting success.
type Trustee interface {
	Add(ctx context.Context, ip string) (changed bool, err error)
}

// Opener launches an external resource such as a browser page.
type Opener interface {
	Open(url string) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(url string) error

// Open implements Opener.
func (f OpenerFunc) Open(url string) error { return f(url) }

// Deps are the collaborators a Workflow mutates or calls.
type Deps struct {
	Known      Trustee
	Log        eventlog.Log
	Opener     Opener
	CheckupURL string
}

// Result describes one transition.
type Result struct {
	Action  Action
	State   State
	Outcome Outcome
	IP      string
	URL     string
	Entries []eventlog.Entry
	Err     error
}

// Workflow is the state machine for one alert.
type Workflow struct {
	alert Alert
	deps  Deps
	state State
	out   Outcome
}

// New returns a Workflow in StatePresenting.
func New(alert Alert, deps Deps) *Workflow {
	return &Workflow{alert: alert, deps: deps, state: StatePresenting}
}

// State returns the current state.
func (w *Workflow) State() State { return w.state }

// Outcome returns the terminal disposition, or OutcomeNone while presenting.
func (w *Workflow) Outcome() Outcome { return w.out }

// Alert returns the alert under triage.
func (w *Workflow) Alert() Alert { return w.alert }

// Step applies one operator choice.
func (w *Workflow) Step(ctx context.Context, choice string) Result {
	ip := w.alert.Notification.IP
	res := Result{State: w.state, IP: ip}
	if w.state == StateTerminal {
		res.Outcome = w.out
		res.Err = ErrTerminal
		return res
	}

	switch Choice(strings.TrimSpace(choice)) {
	case ChoiceTrust:
		res.Action = ActionTrust
		changed, err := w.deps.Known.Add(ctx, ip)
		if err != nil {
			res.Err = err
			return res
		}
		if !changed {
			return w.finish(res, OutcomeAlreadyTrusted)
		}
		// the set is already persisted, a log failure does not undo the trust
		if _, err := w.deps.Log.Append(ctx, fmt.Sprintf("User whitelisted IP: %s", ip)); err != nil {
			res.Err = fmt.Errorf("record trust: %w", err)
		}
		return w.finish(res, OutcomeTrusted)

	case ChoiceOpen:
		res.Action = ActionOpen
		res.URL = w.deps.CheckupURL
		if w.deps.Opener == nil {
			res.Err = errors.New("no opener configured")
			return res
		}
		if err := w.deps.Opener.Open(w.deps.CheckupURL); err != nil {
			res.Err = fmt.Errorf("open %s: %w", w.deps.CheckupURL, err)
		}
		return res

	case ChoiceViewLog:
		res.Action = ActionViewLog
		entries, err := w.deps.Log.Entries(ctx)
		if err != nil {
			res.Err = fmt.Errorf("read event log: %w", err)
			return res
		}
		res.Entries = entries
		return res

	case ChoiceDismiss:
		res.Action = ActionDismiss
		if _, err := w.deps.Log.Append(ctx, fmt.Sprintf("User dismissed alert for IP: %s", ip)); err != nil {
			res.Err = fmt.Errorf("record dismissal: %w", err)
			return res
		}
		return w.finish(res, OutcomeDismissed)

	default:
		res.Err = ErrInvalidChoice
		return res
	}
}

func (w *Workflow) finish(res Result, out Outcome) Result {
	w.state = StateTerminal
	w.out = out
	res.State = StateTerminal
	res.Outcome = out
	return res
}

// Prompter is the presentation layer for a Workflow.
type Prompter interface {
	// ShowAlert displays the alert once before the first prompt.
	ShowAlert(ctx context.Context, a Alert)
	// Choose shows the menu and waits for input. It must return ctx.Err()
	// when ctx is cancelled.
	Choose(ctx context.Context) (string, error)
	// Report displays the result of a Step.
	Report(ctx context.Context, r Result)
}

// Run presents the alert and loops until the workflow is terminal. It
// returns early only when the prompter fails, e.g. on cancellation or closed
// input, in which case no disposition is recorded.
func (w *Workflow) Run(ctx context.Context, p Prompter) (Outcome, error) {
	p.ShowAlert(ctx, w.alert)
	for w.state != StateTerminal {
		choice, err := p.Choose(ctx)
		if err != nil {
			return OutcomeNone, err
		}
		p.Report(ctx, w.Step(ctx, choice))
	}
	return w.out, nil
}
