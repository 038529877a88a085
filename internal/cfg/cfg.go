package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds sentra's application settings. It follows the shared
// RegisterFlags/Validate convention of the go-core config packages.
type Config struct {
	EnvFile string

	IMAPAddr     string
	IMAPUser     string
	IMAPPassword string
	MailFrom     string
	MailSubject  string
	FetchLimit   int
	PollSeconds  int

	NATSURL     string
	NATSSubject string

	AlertThreshold     int
	HighRiskRegions    string
	SecurityCheckupURL string
	GeoIPDB            string

	KnownSourcesPath string
	EventLogPath     string
	AlertsDir        string
	SlackWebhookURL  string
	DatabaseURL      string

	APIPort  int
	APIToken string

	DrainSeconds          int
	ShutdownBudgetSeconds int
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.EnvFile, "env-file", ".env", "dotenv file loaded before reading SENTRA_ environment variables (missing file is ignored)")

	fs.StringVar(&c.IMAPAddr, "imap-addr", "imap.gmail.com:993", "IMAP server host:port (TLS)")
	fs.StringVar(&c.IMAPUser, "imap-user", "", "IMAP username (empty = IMAP polling disabled)")
	fs.StringVar(&c.IMAPPassword, "imap-password", "", "IMAP password or app password")
	fs.StringVar(&c.MailFrom, "mail-from", "noreply@google.com", "sender of sign-in notifications")
	fs.StringVar(&c.MailSubject, "mail-subject", "New sign-in", "subject of sign-in notifications")
	fs.IntVar(&c.FetchLimit, "fetch-limit", 5, "most recent notifications examined per poll (1..100)")
	fs.IntVar(&c.PollSeconds, "poll-seconds", 10, "seconds between mailbox polls (1..3600)")

	fs.StringVar(&c.NATSURL, "nats-url", "", "NATS server URL for pushed notifications (empty = disabled)")
	fs.StringVar(&c.NATSSubject, "nats-subject", "sentra.notifications", "NATS subject carrying raw notification bodies")

	fs.IntVar(&c.AlertThreshold, "alert-threshold", 5, "risk score at or above which the operator is alerted (1..10)")
	fs.StringVar(&c.HighRiskRegions, "high-risk-regions", "Russia,China", "comma-separated location substrings that add risk")
	fs.StringVar(&c.SecurityCheckupURL, "security-checkup-url", "https://myaccount.google.com/security-checkup", "page opened by the security checkup action")
	fs.StringVar(&c.GeoIPDB, "geoip-db", "", "MaxMind GeoLite2/GeoIP2 database for country display (empty = disabled)")

	fs.StringVar(&c.KnownSourcesPath, "known-sources-path", "known_ips.json", "trusted IP file (used when database-url is empty)")
	fs.StringVar(&c.EventLogPath, "event-log-path", "sentra_log.txt", "event log file (used when database-url is empty)")
	fs.StringVar(&c.AlertsDir, "alerts-dir", "alerts", "directory for alert artifact files (empty = disabled)")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack incoming webhook for alert notifications (empty = disabled)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = local files)")

	fs.IntVar(&c.APIPort, "http-port", 0, "inbox API listen TCP port (0 = disabled, 1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required by the inbox API (empty = no auth)")

	fs.IntVar(&c.DrainSeconds, "drain-seconds", 5, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 15, "total seconds for component shutdown after drain (1..300)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// 0 disables the inbox API
	if c.APIPort < 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 0..65535)", c.APIPort))
	}

	if c.FetchLimit <= 0 || c.FetchLimit > 100 {
		errs = append(errs, fmt.Errorf("invalid FETCH_LIMIT %d (must be 1..100)", c.FetchLimit))
	}
	if c.PollSeconds <= 0 || c.PollSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid POLL_SECONDS %d (must be 1..3600)", c.PollSeconds))
	}
	if c.AlertThreshold <= 0 || c.AlertThreshold > 10 {
		errs = append(errs, fmt.Errorf("invalid ALERT_THRESHOLD %d (must be 1..10)", c.AlertThreshold))
	}

	// at least one way for notifications to arrive
	if !c.IMAPEnabled() && c.NATSURL == "" && c.APIPort == 0 {
		errs = append(errs, errors.New("no notification source: set IMAP_USER, NATS_URL or HTTP_PORT"))
	}
	if c.IMAPEnabled() {
		if c.IMAPPassword == "" {
			errs = append(errs, errors.New("IMAP_PASSWORD is required when IMAP_USER is set"))
		}
		if c.IMAPAddr == "" {
			errs = append(errs, errors.New("IMAP_ADDR is required when IMAP_USER is set"))
		}
	}
	if c.NATSURL != "" && c.NATSSubject == "" {
		errs = append(errs, errors.New("NATS_SUBJECT is required when NATS_URL is set"))
	}

	if u, err := url.Parse(c.SecurityCheckupURL); err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		errs = append(errs, fmt.Errorf("invalid SECURITY_CHECKUP_URL %q (must be an absolute http(s) URL)", c.SecurityCheckupURL))
	}

	if c.SlackWebhookURL != "" {
		if u, err := url.Parse(c.SlackWebhookURL); err != nil || u.Scheme != "https" || u.Host == "" {
			errs = append(errs, errors.New("invalid SLACK_WEBHOOK_URL (must be an https URL)"))
		}
	}

	// file-backed state needs paths
	if c.DatabaseURL == "" {
		if c.KnownSourcesPath == "" {
			errs = append(errs, errors.New("KNOWN_SOURCES_PATH is required without DATABASE_URL"))
		}
		if c.EventLogPath == "" {
			errs = append(errs, errors.New("EVENT_LOG_PATH is required without DATABASE_URL"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// IMAPEnabled reports whether the IMAP mailbox should be polled.
func (c *Config) IMAPEnabled() bool { return c.IMAPUser != "" }

// PollInterval is PollSeconds as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollSeconds) * time.Second
}

// Regions splits HighRiskRegions on commas, dropping blanks.
func (c *Config) Regions() []string {
	var out []string
	for _, r := range strings.Split(c.HighRiskRegions, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
