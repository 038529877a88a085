// Package inboxapi exposes the HTTP inbox: notification bodies can be pushed
// into the triage loop, and the trusted set and event log can be read.
package inboxapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/sentra/internal/eventlog"
	"github.com/linnemanlabs/sentra/internal/knownsource"
)

// maxNotificationBytes caps a pushed body. The server-wide MaxBody limit
// still applies on top of this.
const maxNotificationBytes = 64 << 10

// Inbox accepts raw notification bodies. *mailbox.Buffer satisfies it.
type Inbox interface {
	Push(body string) (dropped bool)
}

// KnownSources is the read side of the trusted set.
type KnownSources interface {
	Snapshot() knownsource.Set
}

// EventReader is the read side of the event log.
type EventReader interface {
	Entries(ctx context.Context) ([]eventlog.Entry, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	inbox  Inbox
	known  KnownSources
	events EventReader
}

// New creates a new API handler.
func New(logger log.Logger, inbox Inbox, known KnownSources, events EventReader) *API {
	if logger == nil {
		logger = log.Nop()
	}
	switch {
	case inbox == nil:
		panic(xerrors.New("inbox is required"))
	case known == nil:
		panic(xerrors.New("known-source set is required"))
	case events == nil:
		panic(xerrors.New("event log is required"))
	}
	return &API{
		logger: logger,
		inbox:  inbox,
		known:  known,
		events: events,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/notifications", a.handlePushNotification)
		r.Get("/known-sources", a.handleListKnownSources)
		r.Get("/events", a.handleListEvents)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing useful to do with a write error here
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
