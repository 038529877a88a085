package inboxapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/sentra/internal/notification"
)

type pushResponse struct {
	IP       string `json:"ip"`
	Location string `json:"location"`
	Time     string `json:"time"`
	Dropped  bool   `json:"dropped_oldest"`
}

func (a *API) handlePushNotification(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBytes+1))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if len(body) > maxNotificationBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	text := string(body)
	if strings.TrimSpace(text) == "" {
		writeError(w, http.StatusBadRequest, "empty body")
		return
	}

	// reject early so callers learn about it; the triage loop would only skip it
	n, ok := notification.Parse(text)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "no IPv4 address in body")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("sentra.notification.ip", n.IP))

	dropped := a.inbox.Push(text)
	if dropped {
		a.logger.Warn(r.Context(), "inbox full, dropped oldest notification")
	}
	a.logger.Info(r.Context(), "notification queued", "ip", n.IP)

	writeJSON(w, http.StatusAccepted, pushResponse{
		IP:       n.IP,
		Location: n.Location,
		Time:     n.Time,
		Dropped:  dropped,
	})
}
