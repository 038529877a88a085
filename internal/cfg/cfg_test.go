package cfg

import (
	"flag"
	"math"
	"strings"
	"testing"
	"time"
)

// validBase returns a Config with all required fields set to valid values.
func validBase() Config {
	return Config{
		IMAPAddr:              "imap.gmail.com:993",
		IMAPUser:              "user@example.com",
		IMAPPassword:          "app-password",
		MailFrom:              "noreply@google.com",
		MailSubject:           "New sign-in",
		FetchLimit:            5,
		PollSeconds:           10,
		AlertThreshold:        5,
		HighRiskRegions:       "Russia,China",
		SecurityCheckupURL:    "https://myaccount.google.com/security-checkup",
		KnownSourcesPath:      "known_ips.json",
		EventLogPath:          "sentra_log.txt",
		AlertsDir:             "alerts",
		DrainSeconds:          5,
		ShutdownBudgetSeconds: 15,
	}
}

func TestRegisterFlags_Defaults(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse empty args: %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"IMAPAddr", c.IMAPAddr, "imap.gmail.com:993"},
		{"MailFrom", c.MailFrom, "noreply@google.com"},
		{"MailSubject", c.MailSubject, "New sign-in"},
		{"FetchLimit", c.FetchLimit, 5},
		{"PollSeconds", c.PollSeconds, 10},
		{"AlertThreshold", c.AlertThreshold, 5},
		{"HighRiskRegions", c.HighRiskRegions, "Russia,China"},
		{"SecurityCheckupURL", c.SecurityCheckupURL, "https://myaccount.google.com/security-checkup"},
		{"KnownSourcesPath", c.KnownSourcesPath, "known_ips.json"},
		{"EventLogPath", c.EventLogPath, "sentra_log.txt"},
		{"AlertsDir", c.AlertsDir, "alerts"},
		{"EnvFile", c.EnvFile, ".env"},
		{"APIPort", c.APIPort, 0},
		{"DatabaseURL", c.DatabaseURL, ""},
	}
	for _, ck := range checks {
		if ck.got != ck.want {
			t.Errorf("%s = %v, want %v", ck.name, ck.got, ck.want)
		}
	}
}

func TestRegisterFlags_Override(t *testing.T) {
	t.Parallel()

	var c Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)

	args := []string{
		"-imap-user", "me@example.com",
		"-fetch-limit", "20",
		"-poll-seconds", "30",
		"-alert-threshold", "7",
		"-high-risk-regions", "Narnia, Mordor ,",
		"-http-port", "9090",
		"-database-url", "postgres://localhost/sentra",
	}
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse args: %v", err)
	}

	if c.IMAPUser != "me@example.com" || !c.IMAPEnabled() {
		t.Errorf("IMAPUser = %q", c.IMAPUser)
	}
	if c.FetchLimit != 20 {
		t.Errorf("FetchLimit = %d, want 20", c.FetchLimit)
	}
	if c.PollInterval() != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", c.PollInterval())
	}
	if c.AlertThreshold != 7 {
		t.Errorf("AlertThreshold = %d, want 7", c.AlertThreshold)
	}
	if r := c.Regions(); len(r) != 2 || r[0] != "Narnia" || r[1] != "Mordor" {
		t.Errorf("Regions = %q", r)
	}
	if c.APIPort != 9090 {
		t.Errorf("APIPort = %d, want 9090", c.APIPort)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantErr   bool
		errSubstr []string // substrings that must appear in error message
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{
			name:   "nats only",
			mutate: func(c *Config) { c.IMAPUser = ""; c.NATSURL = "nats://localhost:4222"; c.NATSSubject = "s" },
		},
		{
			name:   "http inbox only",
			mutate: func(c *Config) { c.IMAPUser = ""; c.APIPort = 8080 },
		},
		{
			name:   "database replaces file paths",
			mutate: func(c *Config) { c.DatabaseURL = "postgres://x"; c.KnownSourcesPath = ""; c.EventLogPath = "" },
		},
		{
			name:   "empty alerts dir disables artifacts",
			mutate: func(c *Config) { c.AlertsDir = "" },
		},
		{
			name:      "no source",
			mutate:    func(c *Config) { c.IMAPUser = "" },
			wantErr:   true,
			errSubstr: []string{"no notification source"},
		},
		{
			name:      "imap without password",
			mutate:    func(c *Config) { c.IMAPPassword = "" },
			wantErr:   true,
			errSubstr: []string{"IMAP_PASSWORD"},
		},
		{
			name:      "imap without addr",
			mutate:    func(c *Config) { c.IMAPAddr = "" },
			wantErr:   true,
			errSubstr: []string{"IMAP_ADDR"},
		},
		{
			name:      "nats without subject",
			mutate:    func(c *Config) { c.NATSURL = "nats://x"; c.NATSSubject = "" },
			wantErr:   true,
			errSubstr: []string{"NATS_SUBJECT"},
		},
		// numeric boundaries
		{name: "slack webhook", mutate: func(c *Config) { c.SlackWebhookURL = "https://hooks.slack.com/services/T/B/X" }},
		{name: "slack webhook not https", mutate: func(c *Config) { c.SlackWebhookURL = "http://hooks.slack.com/x" }, wantErr: true, errSubstr: []string{"SLACK_WEBHOOK_URL"}},
		{name: "fetch limit zero", mutate: func(c *Config) { c.FetchLimit = 0 }, wantErr: true, errSubstr: []string{"FETCH_LIMIT"}},
		{name: "fetch limit max", mutate: func(c *Config) { c.FetchLimit = 100 }},
		{name: "fetch limit above max", mutate: func(c *Config) { c.FetchLimit = 101 }, wantErr: true, errSubstr: []string{"FETCH_LIMIT"}},
		{name: "poll zero", mutate: func(c *Config) { c.PollSeconds = 0 }, wantErr: true, errSubstr: []string{"POLL_SECONDS"}},
		{name: "threshold zero", mutate: func(c *Config) { c.AlertThreshold = 0 }, wantErr: true, errSubstr: []string{"ALERT_THRESHOLD"}},
		{name: "threshold max", mutate: func(c *Config) { c.AlertThreshold = 10 }},
		{name: "threshold above max", mutate: func(c *Config) { c.AlertThreshold = 11 }, wantErr: true, errSubstr: []string{"ALERT_THRESHOLD"}},
		{name: "port negative", mutate: func(c *Config) { c.APIPort = -1 }, wantErr: true, errSubstr: []string{"HTTP_PORT"}},
		{name: "port above max", mutate: func(c *Config) { c.APIPort = 65536 }, wantErr: true, errSubstr: []string{"HTTP_PORT"}},
		// drain and budget
		{name: "drain zero", mutate: func(c *Config) { c.DrainSeconds = 0 }, wantErr: true, errSubstr: []string{"DRAIN_SECONDS"}},
		{name: "budget above max", mutate: func(c *Config) { c.ShutdownBudgetSeconds = 301 }, wantErr: true, errSubstr: []string{"SHUTDOWN_BUDGET_SECONDS"}},
		{
			name:      "budget equals drain",
			mutate:    func(c *Config) { c.DrainSeconds = 15 },
			wantErr:   true,
			errSubstr: []string{"must be greater than"},
		},
		// urls and paths
		{name: "relative checkup url", mutate: func(c *Config) { c.SecurityCheckupURL = "/security" }, wantErr: true, errSubstr: []string{"SECURITY_CHECKUP_URL"}},
		{name: "non-http checkup url", mutate: func(c *Config) { c.SecurityCheckupURL = "file:///etc/passwd" }, wantErr: true, errSubstr: []string{"SECURITY_CHECKUP_URL"}},
		{name: "missing known sources path", mutate: func(c *Config) { c.KnownSourcesPath = "" }, wantErr: true, errSubstr: []string{"KNOWN_SOURCES_PATH"}},
		{name: "missing event log path", mutate: func(c *Config) { c.EventLogPath = "" }, wantErr: true, errSubstr: []string{"EVENT_LOG_PATH"}},
		// error accumulation
		{
			name:      "zero value",
			mutate:    func(c *Config) { *c = Config{} },
			wantErr:   true,
			errSubstr: []string{"DRAIN_SECONDS", "SHUTDOWN_BUDGET_SECONDS", "FETCH_LIMIT", "POLL_SECONDS", "ALERT_THRESHOLD", "no notification source", "SECURITY_CHECKUP_URL", "KNOWN_SOURCES_PATH"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := validBase()
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				errMsg := err.Error()
				for _, sub := range tt.errSubstr {
					if !strings.Contains(errMsg, sub) {
						t.Errorf("error %q does not contain %q", errMsg, sub)
					}
				}
			}
		})
	}
}

func TestRegions_Empty(t *testing.T) {
	t.Parallel()

	c := Config{HighRiskRegions: " , ,"}
	if r := c.Regions(); len(r) != 0 {
		t.Errorf("Regions = %q, want none", r)
	}
}

func FuzzValidate(f *testing.F) {
	// Seeds: defaults, boundaries, extremes
	seeds := []struct {
		drain, budget, port, limit, poll, threshold int
	}{
		{5, 15, 0, 5, 10, 5},
		{1, 2, 1, 1, 1, 1},
		{299, 300, 65535, 100, 3600, 10},
		{0, 0, 0, 0, 0, 0},
		{-1, -1, -1, -1, -1, -1},
		{300, 300, 65536, 101, 3601, 11},
		{math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32, math.MinInt32},
		{math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32, math.MaxInt32},
	}
	for _, s := range seeds {
		f.Add(s.drain, s.budget, s.port, s.limit, s.poll, s.threshold)
	}

	f.Fuzz(func(t *testing.T, drain, budget, port, limit, poll, threshold int) {
		c := validBase()
		c.DrainSeconds = drain
		c.ShutdownBudgetSeconds = budget
		c.APIPort = port
		c.FetchLimit = limit
		c.PollSeconds = poll
		c.AlertThreshold = threshold
		err := c.Validate()

		allValid := drain >= 1 && drain <= 300 &&
			budget >= 1 && budget <= 300 &&
			budget > drain &&
			port >= 0 && port <= 65535 &&
			limit >= 1 && limit <= 100 &&
			poll >= 1 && poll <= 3600 &&
			threshold >= 1 && threshold <= 10

		if allValid && err != nil {
			t.Errorf("expected no error for valid config %+v, got: %v", c, err)
		}
		if !allValid && err == nil {
			t.Errorf("expected error for invalid config %+v, got nil", c)
		}
	})
}
