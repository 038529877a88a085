package triage

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/sentra/internal/dedup"
	"github.com/linnemanlabs/sentra/internal/disposition"
	"github.com/linnemanlabs/sentra/internal/eventlog"
	"github.com/linnemanlabs/sentra/internal/geoip"
	"github.com/linnemanlabs/sentra/internal/mailbox"
	"github.com/linnemanlabs/sentra/internal/notification"
)

const (
	DefaultFetchLimit   = 5
	DefaultPollInterval = 10 * time.Second
)

// Config holds the Service's tunables.
type Config struct {
	Query        mailbox.Query
	FetchLimit   int
	PollInterval time.Duration
	CheckupURL   string
}

// Deps are the Service's collaborators. Notifier and Geo are optional.
type Deps struct {
	Source   mailbox.Source
	Known    KnownSources
	Events   eventlog.Log
	Engine   *Engine
	Prompter disposition.Prompter
	Opener   disposition.Opener
	Notifier Notifier
	Geo      geoip.Lookup
	Hooks    Hooks
}

// Service is the triage loop. It is driven from a single goroutine: Poll,
// Resolve and Run must not be called concurrently.
type Service struct {
	cfg    Config
	deps   Deps
	seen   *dedup.Tracker
	logger log.Logger
}

// NewService creates a new triage service.
func NewService(cfg Config, deps Deps, logger log.Logger) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	switch {
	case deps.Source == nil:
		panic(xerrors.New("mail source is required"))
	case deps.Known == nil:
		panic(xerrors.New("known-source set is required"))
	case deps.Events == nil:
		panic(xerrors.New("event log is required"))
	case deps.Prompter == nil:
		panic(xerrors.New("prompter is required"))
	}
	if deps.Engine == nil {
		deps.Engine = NewEngine(nil, DefaultThreshold, deps.Hooks)
	}
	if deps.Geo == nil {
		deps.Geo = geoip.Nop{}
	}
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = DefaultFetchLimit
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Service{
		cfg:    cfg,
		deps:   deps,
		seen:   dedup.New(),
		logger: logger,
	}
}

// Poll fetches the most recent notifications and returns those that crossed
// the alert threshold, oldest first. Every parsed IP is marked seen, whether
// or not it alerts. A fetch failure is logged and returned with whatever
// bodies were still evaluated.
func (s *Service) Poll(ctx context.Context) ([]*Evaluation, error) {
	start := time.Now()
	bodies, fetchErr := s.deps.Source.FetchRecent(ctx, s.cfg.Query, s.cfg.FetchLimit)
	if fetchErr != nil {
		s.deps.Hooks.fetchError()
		s.logger.Warn(ctx, "mailbox fetch failed", "error", fetchErr)
	}

	var alerts []*Evaluation
	for _, body := range bodies {
		n, ok := notification.Parse(body)
		if !ok {
			s.deps.Hooks.notification(ResultUnparsed)
			continue
		}
		if s.seen.Seen(n.Key()) {
			s.deps.Hooks.notification(ResultDuplicate)
			continue
		}
		s.seen.Mark(n.Key())

		n.Country = s.deps.Geo.Country(n.IP)
		ev := s.deps.Engine.Assess(n, s.deps.Known)
		if !ev.Alert {
			s.deps.Hooks.notification(ResultBelowThreshold)
			s.logger.Info(ctx, "notification below threshold",
				"ip", n.IP,
				"score", ev.Score(),
				"threshold", s.deps.Engine.Threshold(),
			)
			continue
		}
		s.deps.Hooks.notification(ResultAlert)
		alerts = append(alerts, ev)
	}

	s.deps.Hooks.poll(time.Since(start).Seconds(), len(bodies))
	return alerts, fetchErr
}

// Resolve emits the alert (event log entry, notifier, operator prompt) and
// runs the disposition workflow until it is terminal. Emission failures are
// logged and do not stop the workflow. It returns an error only when the
// prompt was abandoned, e.g. on cancellation or closed operator input.
func (s *Service) Resolve(ctx context.Context, ev *Evaluation) (disposition.Outcome, error) {
	n := ev.Notification
	L := s.logger.With("ip", n.IP, "score", ev.Score())

	msg := fmt.Sprintf("ALERT - IP: %s, Score: %d, Location: %s, Time: %s", n.IP, ev.Score(), n.Location, n.Time)
	if _, err := s.deps.Events.Append(ctx, msg); err != nil {
		L.Error(ctx, err, "failed to record alert in event log")
	}

	alert := disposition.Alert{Notification: n, Assessment: ev.Assessment}
	if s.deps.Notifier != nil {
		if err := s.deps.Notifier.Send(ctx, alert); err != nil {
			L.Error(ctx, err, "failed to emit alert artifact")
		}
	}

	L.Info(ctx, "alert raised", "location", n.Location, "time", n.Time, "country", n.Country)

	wf := disposition.New(alert, disposition.Deps{
		Known:      s.deps.Known,
		Log:        s.deps.Events,
		Opener:     s.deps.Opener,
		CheckupURL: s.cfg.CheckupURL,
	})
	out, err := wf.Run(ctx, s.deps.Prompter)
	if err != nil {
		return disposition.OutcomeNone, err
	}

	s.deps.Hooks.disposition(out)
	s.deps.Hooks.knownSources(s.deps.Known.Len())
	L.Info(ctx, "alert resolved", "outcome", out)
	return out, nil
}

// Run polls and resolves until ctx is cancelled, waiting the poll interval
// after each round. It returns nil on cancellation and the prompter's error
// when operator input is no longer available.
func (s *Service) Run(ctx context.Context) error {
	s.deps.Hooks.knownSources(s.deps.Known.Len())
	s.logger.Info(ctx, "triage loop started",
		"poll_interval", s.cfg.PollInterval,
		"fetch_limit", s.cfg.FetchLimit,
		"threshold", s.deps.Engine.Threshold(),
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(context.WithoutCancel(ctx), "triage loop stopping")
			return nil
		case <-timer.C:
		}

		if err := s.round(ctx); err != nil {
			if ctx.Err() != nil {
				s.logger.Info(context.WithoutCancel(ctx), "triage loop stopping")
				return nil
			}
			return err
		}
		timer.Reset(s.cfg.PollInterval)
	}
}

func (s *Service) round(ctx context.Context) error {
	alerts, _ := s.Poll(ctx)
	for _, ev := range alerts {
		if _, err := s.Resolve(ctx, ev); err != nil {
			return fmt.Errorf("resolve alert for %s: %w", ev.Notification.IP, err)
		}
	}
	return nil
}

// Seen reports whether ip was already evaluated this run.
func (s *Service) Seen(ip string) bool { return s.seen.Seen(ip) }

