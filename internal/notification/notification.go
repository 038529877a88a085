// Package notification extracts sign-in signals from the plain-text body of a
// notification mail.
package notification

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// UnknownLocation is used when the body carries no Location line.
	UnknownLocation = "Unknown"

	// DefaultTime is used when the body carries no Time line.
	DefaultTime = "02:00 AM UTC"
)

var (
	ipRe       = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	locationRe = regexp.MustCompile(`Location: (.+)`)
	timeRe     = regexp.MustCompile(`Time: (.+)`)
)

// Notification is a single parsed sign-in event.
type Notification struct {
	IP       string `json:"ip"`
	Location string `json:"location"`
	Time     string `json:"time"`

	// Country is an optional ISO code filled in by GeoIP enrichment. It is
	// informational only and never part of the score.
	Country string `json:"country,omitempty"`
}

// Parse extracts a Notification from body. It reports false when the body
// has no IPv4-shaped substring; missing Location and Time lines fall back to
// UnknownLocation and DefaultTime. A line that is present but blank after
// trimming yields the empty string, not the fallback.
func Parse(body string) (Notification, bool) {
	ip := ipRe.FindString(body)
	if ip == "" {
		return Notification{}, false
	}

	return Notification{
		IP:       ip,
		Location: field(locationRe, body, UnknownLocation),
		Time:     field(timeRe, body, DefaultTime),
	}, true
}

func field(re *regexp.Regexp, body, fallback string) string {
	m := re.FindStringSubmatch(body)
	if m == nil {
		return fallback
	}
	return strings.TrimSpace(m[1])
}

// Key is the dedup identity of the notification.
func (n Notification) Key() string {
	return n.IP
}

// FileKey is the IP with dots replaced so it is safe to use in file names.
func (n Notification) FileKey() string {
	return strings.ReplaceAll(n.IP, ".", "_")
}

// Render returns the IP/Location/Time text form. Parse reads it back to the
// same Notification.
func (n Notification) Render() string {
	return fmt.Sprintf("IP: %s\nLocation: %s\nTime: %s", n.IP, n.Location, n.Time)
}
