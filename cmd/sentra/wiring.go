package main

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/go-core/log"

	sc "github.com/linnemanlabs/sentra/internal/cfg"
	"github.com/linnemanlabs/sentra/internal/eventlog"
	"github.com/linnemanlabs/sentra/internal/eventlog/filelog"
	"github.com/linnemanlabs/sentra/internal/geoip"
	"github.com/linnemanlabs/sentra/internal/knownsource"
	"github.com/linnemanlabs/sentra/internal/knownsource/filestore"
	"github.com/linnemanlabs/sentra/internal/mailbox"
	"github.com/linnemanlabs/sentra/internal/mailbox/imap"
	"github.com/linnemanlabs/sentra/internal/mailbox/natsbridge"
	"github.com/linnemanlabs/sentra/internal/pgstore"
	"github.com/linnemanlabs/sentra/internal/postgres"
)

// pushBufferSize bounds notifications pushed over NATS or HTTP between polls.
const pushBufferSize = 256

type state struct {
	backend string
	known   knownsource.Store
	events  eventlog.Log
	close   func()
}

// openState picks the persistence backend: Postgres when a database URL is
// configured, flat files otherwise.
func openState(ctx context.Context, c *sc.Config, L log.Logger, reg prometheus.Registerer) (*state, error) {
	if c.DatabaseURL == "" {
		L.Info(ctx, "using file storage",
			"known_sources_path", c.KnownSourcesPath,
			"event_log_path", c.EventLogPath,
		)
		return &state{
			backend: "file",
			known:   filestore.New(c.KnownSourcesPath),
			events:  filelog.New(c.EventLogPath),
			close:   func() {},
		}, nil
	}

	queryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentra_db_query_duration_seconds",
		Help:    "Duration of database queries by operation, caller and outcome.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "caller", "outcome"})
	reg.MustRegister(queryDuration)

	pool, err := postgres.NewPool(ctx, c.DatabaseURL, postgres.Options{
		Logger: L,
		Observer: postgres.QueryObserverFunc(func(_ context.Context, operation, caller, outcome string, dur time.Duration) {
			queryDuration.WithLabelValues(operation, caller, outcome).Observe(dur.Seconds())
		}),
		SlowQuery: 250 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	store, err := pgstore.New(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("init database schema: %w", err)
	}
	L.Info(ctx, "using postgres storage")
	return &state{
		backend: "postgres",
		known:   store,
		events:  store,
		close:   pool.Close,
	}, nil
}

// openGeo opens the GeoLite2 country database. Lookups degrade to the
// notification's own location when it is absent or unreadable.
func openGeo(ctx context.Context, path string, L log.Logger) (geoip.Lookup, func()) {
	if path == "" {
		return geoip.Nop{}, func() {}
	}
	r, err := geoip.Open(path)
	if err != nil {
		L.Warn(ctx, "geoip database unavailable, using notification locations only", "path", path, "error", err)
		return geoip.Nop{}, func() {}
	}
	L.Info(ctx, "geoip enabled", "path", path)
	return r, func() { _ = r.Close() }
}

type sources struct {
	source mailbox.Source
	query  mailbox.Query
	buffer *mailbox.Buffer
	close  func()
}

// openSources assembles every configured notification source into one.
func openSources(ctx context.Context, c *sc.Config, L log.Logger) (*sources, error) {
	s := &sources{
		query: mailbox.Query{From: c.MailFrom, Subject: c.MailSubject},
		close: func() {},
	}
	var all mailbox.Multi

	if c.IMAPEnabled() {
		all = append(all, imap.New(imap.Config{
			Addr:     c.IMAPAddr,
			Username: c.IMAPUser,
			Password: c.IMAPPassword,
		}, L))
		L.Info(ctx, "imap source enabled", "addr", c.IMAPAddr, "user", c.IMAPUser)
	}

	if c.NATSURL != "" || c.APIPort > 0 {
		s.buffer = mailbox.NewBuffer(pushBufferSize)
		all = append(all, s.buffer)
	}

	if c.NATSURL != "" {
		nc, err := nats.Connect(c.NATSURL, nats.Name("sentra"))
		if err != nil {
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
		bridge, err := natsbridge.Start(ctx, nc, c.NATSSubject, s.buffer, L)
		if err != nil {
			nc.Close()
			return nil, err
		}
		s.close = func() {
			_ = bridge.Close()
			nc.Close()
		}
		L.Info(ctx, "nats source enabled", "url", c.NATSURL, "subject", c.NATSSubject)
	}

	if len(all) == 1 {
		s.source = all[0]
	} else {
		s.source = all
	}
	return s, nil
}
