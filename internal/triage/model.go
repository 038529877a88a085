package triage

import (
	"github.com/linnemanlabs/sentra/internal/notification"
	"github.com/linnemanlabs/sentra/internal/risk"
)

// DefaultThreshold is the score at or above which a notification alerts.
const DefaultThreshold = 5

// Result labels what happened to a single fetched body.
type Result string

const (
	// ResultUnparsed means the body had no IPv4 address
	ResultUnparsed Result = "unparsed"

	// ResultDuplicate means the IP was already evaluated this run
	ResultDuplicate Result = "duplicate"

	// ResultBelowThreshold means the score did not reach the threshold
	ResultBelowThreshold Result = "below_threshold"

	// ResultAlert means the notification is surfaced to the operator
	ResultAlert Result = "alert"
)

// Evaluation is a parsed and scored notification.
type Evaluation struct {
	Notification notification.Notification `json:"notification"`
	Assessment   risk.Assessment           `json:"assessment"`
	Alert        bool                      `json:"alert"`
}

// Score is shorthand for Assessment.Score.
func (e *Evaluation) Score() int { return e.Assessment.Score }
