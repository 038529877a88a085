// Package slack posts sign-in alerts to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/linnemanlabs/sentra/internal/disposition"
)

const (
	maxSectionLen = 3000
	httpTimeout   = 10 * time.Second
)

// Notifier sends alerts to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	now        func() time.Time
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		now:        time.Now,
	}
}

// Send posts an alert to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, a disposition.Alert) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(a, n.now()))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(a disposition.Alert, at time.Time) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(a),
			{"type": "divider"},
			fieldsBlock(a),
			{"type": "divider"},
			factorsBlock(a),
			{"type": "divider"},
			contextBlock(at),
		},
	}
}

func headerBlock(a disposition.Alert) map[string]any {
	text := fmt.Sprintf("%s Suspicious sign-in from %s", scoreEmoji(a.Assessment.Score), a.Notification.IP)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(a disposition.Alert) map[string]any {
	n := a.Notification
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*IP:* %s", escape(n.IP)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Risk score:* %d", a.Assessment.Score),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Location:* %s", escape(n.Location)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Time:* %s", escape(n.Time)),
		},
	}
	if n.Country != "" {
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*GeoIP country:* %s", escape(n.Country)),
		})
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func factorsBlock(a disposition.Alert) map[string]any {
	var b strings.Builder
	for _, f := range a.Assessment.Factors {
		fmt.Fprintf(&b, "• +%d %s\n", f.Weight, escape(f.Detail))
	}
	text := truncate(strings.TrimSuffix(b.String(), "\n"), maxSectionLen-len("*Risk factors*\n\n"))
	if text == "" {
		text = "_No risk factors._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": "*Risk factors*\n\n" + text,
		},
	}
}

func contextBlock(at time.Time) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("sentra • %s • trust or dismiss at the sentra console", at.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func scoreEmoji(score int) string {
	switch {
	case score >= 8:
		return "\U0001f534" // red circle
	case score >= 5:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

var mrkdwnEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// escape neutralizes Slack's control characters in text taken from email.
func escape(s string) string { return mrkdwnEscaper.Replace(s) }

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
