// Package natsbridge feeds notification bodies published on a NATS subject
// into a mailbox.Buffer.
package natsbridge

import (
	"context"
	"errors"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sentra/internal/mailbox"
)

// Bridge is an active subscription.
type Bridge struct {
	sub    *nats.Subscription
	buf    *mailbox.Buffer
	logger log.Logger
}

// Start subscribes to subject and pushes each message payload into buf.
// Messages are delivered on the NATS client goroutine; buf is safe for that.
func Start(ctx context.Context, nc *nats.Conn, subject string, buf *mailbox.Buffer, logger log.Logger) (*Bridge, error) {
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	if subject == "" {
		return nil, errors.New("nats subject is required")
	}
	if logger == nil {
		logger = log.Nop()
	}
	b := &Bridge{buf: buf, logger: logger}
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		b.handle(ctx, msg)
	})
	if err != nil {
		return nil, err
	}
	b.sub = sub
	logger.Info(ctx, "nats bridge subscribed", "subject", subject)
	return b, nil
}

func (b *Bridge) handle(ctx context.Context, msg *nats.Msg) {
	body := string(msg.Data)
	if strings.TrimSpace(body) == "" {
		b.logger.Warn(ctx, "ignoring empty notification", "subject", msg.Subject)
		return
	}
	if dropped := b.buf.Push(body); dropped {
		b.logger.Warn(ctx, "notification buffer full, dropped oldest", "subject", msg.Subject)
	}
}

// Close unsubscribes.
func (b *Bridge) Close() error {
	if b.sub == nil {
		return nil
	}
	return b.sub.Unsubscribe()
}
