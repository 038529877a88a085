package triage

import (
	"context"
	"errors"

	"github.com/linnemanlabs/sentra/internal/disposition"
	"github.com/linnemanlabs/sentra/internal/risk"
)

// KnownSources is the trusted-IP set the Service scores against and the
// disposition workflow mutates. *knownsource.Registry satisfies it.
type KnownSources interface {
	risk.KnownSources
	disposition.Trustee
	Len() int
}

// Notifier emits an alert somewhere outside the operator prompt, such as
// an artifact file.
type Notifier interface {
	Send(ctx context.Context, a disposition.Alert) error
}

// Notifiers sends to every notifier and joins their errors. One failing
// notifier does not stop the rest.
type Notifiers []Notifier

func (ns Notifiers) Send(ctx context.Context, a disposition.Alert) error {
	var errs []error
	for _, n := range ns {
		if err := n.Send(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
