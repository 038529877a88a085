package triage

import (
	"github.com/linnemanlabs/sentra/internal/notification"
	"github.com/linnemanlabs/sentra/internal/risk"
)

// Engine turns a raw notification body into an Evaluation. It has no I/O
// and no state beyond its configuration, so it is safe for concurrent use.
type Engine struct {
	scorer    *risk.Scorer
	threshold int
	hooks     Hooks
}

// NewEngine creates a new Engine. A threshold <= 0 means DefaultThreshold.
func NewEngine(scorer *risk.Scorer, threshold int, hooks Hooks) *Engine {
	if scorer == nil {
		scorer = risk.New(risk.DefaultWeights(), risk.DefaultRegions())
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Engine{scorer: scorer, threshold: threshold, hooks: hooks}
}

// Threshold returns the alert threshold.
func (e *Engine) Threshold() int { return e.threshold }

// Evaluate parses body and scores it against known. It reports false when
// the body is not a sign-in notification.
func (e *Engine) Evaluate(body string, known risk.KnownSources) (*Evaluation, bool) {
	n, ok := notification.Parse(body)
	if !ok {
		return nil, false
	}
	return e.Assess(n, known), true
}

// Assess scores an already parsed notification.
func (e *Engine) Assess(n notification.Notification, known risk.KnownSources) *Evaluation {
	a := e.scorer.Assess(n, known)
	e.hooks.score(a.Score)
	return &Evaluation{
		Notification: n,
		Assessment:   a,
		Alert:        a.Score >= e.threshold,
	}
}
