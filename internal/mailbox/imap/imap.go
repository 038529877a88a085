// Package imap fetches sign-in notification bodies from an IMAP mailbox.
package imap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/sentra/internal/mailbox"
)

const (
	defaultMailbox = "INBOX"
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 1 << 20
)

// Config holds connection settings.
type Config struct {
	Addr     string
	Username string
	Password string
	Mailbox  string
	Timeout  time.Duration
}

// Source searches an IMAP mailbox over TLS. Each fetch opens and closes its
// own session.
type Source struct {
	cfg    Config
	logger log.Logger
}

// New returns an IMAP Source.
func New(cfg Config, logger log.Logger) *Source {
	if cfg.Mailbox == "" {
		cfg.Mailbox = defaultMailbox
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Source{cfg: cfg, logger: logger}
}

// FetchRecent implements mailbox.Source. Messages are opened read-only and
// fetched with BODY.PEEK so their seen flag is left alone. All failures wrap
// mailbox.ErrUnavailable.
func (s *Source) FetchRecent(ctx context.Context, q mailbox.Query, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c, err := client.DialTLS(s.cfg.Addr, nil)
	if err != nil {
		return nil, mailbox.Unavailable(fmt.Errorf("dial %s: %w", s.cfg.Addr, err))
	}
	c.Timeout = s.cfg.Timeout
	stop := context.AfterFunc(ctx, func() { _ = c.Terminate() })
	defer stop()
	defer func() { _ = c.Logout() }()

	if err := c.Login(s.cfg.Username, s.cfg.Password); err != nil {
		return nil, mailbox.Unavailable(fmt.Errorf("login: %w", err))
	}
	if _, err := c.Select(s.cfg.Mailbox, true); err != nil {
		return nil, mailbox.Unavailable(fmt.Errorf("select %s: %w", s.cfg.Mailbox, err))
	}

	ids, err := c.Search(searchCriteria(q))
	if err != nil {
		return nil, mailbox.Unavailable(fmt.Errorf("search: %w", err))
	}
	ids = mostRecent(ids, limit)
	if len(ids) == 0 {
		return nil, nil
	}

	seqset := new(goimap.SeqSet)
	seqset.AddNum(ids...)
	section := &goimap.BodySectionName{Peek: true}

	messages := make(chan *goimap.Message, len(ids))
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, []goimap.FetchItem{section.FetchItem()}, messages)
	}()

	var fetched []*goimap.Message
	for msg := range messages {
		fetched = append(fetched, msg)
	}
	if err := <-done; err != nil {
		return nil, mailbox.Unavailable(fmt.Errorf("fetch: %w", err))
	}
	sort.Slice(fetched, func(i, j int) bool { return fetched[i].SeqNum < fetched[j].SeqNum })

	bodies := make([]string, 0, len(fetched))
	for _, msg := range fetched {
		r := msg.GetBody(section)
		if r == nil {
			continue
		}
		text, err := PlainText(r)
		if err != nil {
			s.logger.Warn(ctx, "skipping unreadable message", "seq", msg.SeqNum, "error", err)
			continue
		}
		bodies = append(bodies, text)
	}
	return bodies, nil
}

func searchCriteria(q mailbox.Query) *goimap.SearchCriteria {
	criteria := goimap.NewSearchCriteria()
	if q.From != "" {
		criteria.Header.Add("From", q.From)
	}
	if q.Subject != "" {
		criteria.Header.Add("Subject", q.Subject)
	}
	return criteria
}

// mostRecent keeps the last limit sequence numbers; a search returns them
// in ascending order.
func mostRecent(ids []uint32, limit int) []uint32 {
	sorted := append([]uint32(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}
	return sorted
}

// PlainText returns the first text/plain part of an RFC 5322 message with
// transfer encoding and charset decoded.
func PlainText(r io.Reader) (string, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return "", fmt.Errorf("read message: %w", err)
	}
	defer func() { _ = mr.Close() }()

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return "", fmt.Errorf("read part: %w", err)
		}
		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		if ct != "" && !strings.EqualFold(ct, "text/plain") {
			continue
		}
		b, err := io.ReadAll(io.LimitReader(p.Body, maxBodyBytes))
		if err != nil {
			return "", fmt.Errorf("read body: %w", err)
		}
		return string(b), nil
	}
	return "", errors.New("no text/plain part")
}
