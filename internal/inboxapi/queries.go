package inboxapi

import (
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/sentra/internal/eventlog"
)

type knownSourcesResponse struct {
	KnownSources []string `json:"known_sources"`
	Count        int      `json:"count"`
}

type eventsResponse struct {
	Events []eventlog.Entry `json:"events"`
	Count  int              `json:"count"`
}

func (a *API) handleListKnownSources(w http.ResponseWriter, r *http.Request) {
	ips := a.known.Snapshot().Sorted()
	if ips == nil {
		ips = []string{}
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.Int("sentra.known_sources", len(ips)))

	writeJSON(w, http.StatusOK, knownSourcesResponse{KnownSources: ips, Count: len(ips)})
}

// handleListEvents returns the event log oldest first. ?limit=N keeps the
// newest N entries.
func (a *API) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := a.events.Entries(r.Context())
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to read event log")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	if entries == nil {
		entries = []eventlog.Entry{}
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.Int("sentra.events", len(entries)))

	writeJSON(w, http.StatusOK, eventsResponse{Events: entries, Count: len(entries)})
}
