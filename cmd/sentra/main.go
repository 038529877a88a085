// Sentra watches a mailbox for account sign-in notifications, scores each
// sign-in for risk and asks the operator to trust or dismiss risky ones.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/pkg/browser"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/health"
	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/otelx"
	"github.com/linnemanlabs/go-core/prof"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/linnemanlabs/sentra/internal/authmw"
	sc "github.com/linnemanlabs/sentra/internal/cfg"
	"github.com/linnemanlabs/sentra/internal/console"
	"github.com/linnemanlabs/sentra/internal/disposition"
	"github.com/linnemanlabs/sentra/internal/inboxapi"
	"github.com/linnemanlabs/sentra/internal/knownsource"
	"github.com/linnemanlabs/sentra/internal/notify/artifact"
	"github.com/linnemanlabs/sentra/internal/notify/slack"
	"github.com/linnemanlabs/sentra/internal/risk"
	"github.com/linnemanlabs/sentra/internal/triage"
)

const appName = "sentra"
const component = "watcher"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v.AppName = appName
	v.Component = component
	vi := v.Get()

	// each package registers its own flags and options struct
	var (
		appCfg    sc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	// cmdline first; .env and environment only fill what flags left unset
	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	if err := loadEnvFile(appCfg.EnvFile); err != nil {
		return err
	}

	cfg.FillFromEnv(flag.CommandLine, "SENTRA_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// cross-cutting checks that only main can validate
	if appCfg.APIPort != 0 && appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"imap_enabled", appCfg.IMAPEnabled(),
		"imap_addr", appCfg.IMAPAddr,
		"nats_url", appCfg.NATSURL,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"alert_threshold", appCfg.AlertThreshold,
		"poll_seconds", appCfg.PollSeconds,
		"high_risk_regions", appCfg.Regions(),
		"database", appCfg.DatabaseURL != "",
		"geoip", appCfg.GeoIPDB != "",
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
	)

	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
	}
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version
	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	// persistent state: known sources and event log
	st, err := openState(ctx, &appCfg, L, m.Registry())
	if err != nil {
		return err
	}
	defer st.close()

	registry := knownsource.Open(ctx, st.known, L)
	L.Info(ctx, "known sources loaded", "count", registry.Len(), "backend", st.backend)

	geo, closeGeo := openGeo(ctx, appCfg.GeoIPDB, L)
	defer closeGeo()

	// notification sources: IMAP poll plus anything pushed over NATS or HTTP
	srcs, err := openSources(ctx, &appCfg, L)
	if err != nil {
		return err
	}
	defer srcs.close()

	triageMetrics := triage.NewMetrics(m.Registry())
	hooks := triageMetrics.Hooks()

	engine := triage.NewEngine(risk.New(risk.DefaultWeights(), appCfg.Regions()), appCfg.AlertThreshold, hooks)

	var notifiers triage.Notifiers
	if appCfg.AlertsDir != "" {
		notifiers = append(notifiers, artifact.New(appCfg.AlertsDir))
		L.Info(ctx, "notifier enabled", "type", "artifact", "dir", appCfg.AlertsDir)
	}
	if appCfg.SlackWebhookURL != "" {
		notifiers = append(notifiers, slack.New(appCfg.SlackWebhookURL))
		L.Info(ctx, "notifier enabled", "type", "slack")
	}
	var notifier triage.Notifier
	if len(notifiers) > 0 {
		notifier = notifiers
	}

	triageSvc := triage.NewService(triage.Config{
		Query:        srcs.query,
		FetchLimit:   appCfg.FetchLimit,
		PollInterval: appCfg.PollInterval(),
		CheckupURL:   appCfg.SecurityCheckupURL,
	}, triage.Deps{
		Source:   srcs.source,
		Known:    registry,
		Events:   st.events,
		Engine:   engine,
		Prompter: console.New(os.Stdin, os.Stdout),
		Opener:   disposition.OpenerFunc(browser.OpenURL),
		Notifier: notifier,
		Geo:      geo,
		Hooks:    hooks,
	}, L)

	// fail readiness during shutdown so the inbox API drains first
	var shutdownGate health.ShutdownGate
	readiness := health.All(
		shutdownGate.Probe(),
	)
	liveness := health.Fixed(true, "")

	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		if err := opsHTTPStop(context.Background()); err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	type stopFn struct {
		name string
		fn   func(context.Context) error
	}
	var stopFns []stopFn

	if appCfg.APIPort > 0 {
		if appCfg.APIToken == "" {
			L.Warn(ctx, "inbox api has no api-token, requests are not authenticated")
		}
		h := newInboxHandler(inboxapi.New(L, srcs.buffer, registry, st.events), inboxHandlerOptions{
			token:     appCfg.APIToken,
			clientIP:  httpmw.ClientIPOptions{TrustedHops: httpmwCfg.TrustedProxyHops},
			logger:    L,
			metricsMW: m.Middleware,
			healthz:   health.HealthzHandler(liveness),
			readyz:    health.ReadyzHandler(readiness),
		})

		inboxOpts, err := httpCfg.ToOptions()
		if err != nil {
			L.Error(ctx, err, "invalid http config")
			return err
		}
		inboxHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, inboxOpts)
		if err != nil {
			L.Error(ctx, err, "failed to start inbox http listener")
			return err
		}
		defer func() {
			if err := inboxHTTPStop(context.Background()); err != nil {
				L.Error(ctx, err, "failed to stop inbox http listener")
			}
		}()
		stopFns = append(stopFns, stopFn{"inbox http server", inboxHTTPStop})
	}
	stopFns = append(stopFns, stopFn{"ops http server", opsHTTPStop})
	if shutdownOtelx != nil {
		stopFns = append(stopFns, stopFn{"otel", shutdownOtelx})
	}

	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// the triage loop owns stdin/stdout from here on
	loopDone := make(chan error, 1)
	go func() { loopDone <- triageSvc.Run(ctx) }()

	var loopErr error
	select {
	case <-ctx.Done():
		L.Info(context.Background(), "shutdown signal received")
		loopErr = <-loopDone
	case loopErr = <-loopDone:
		if loopErr != nil {
			L.Error(context.Background(), loopErr, "triage loop stopped")
		}
		stop()
	}

	shutdownGate.Set("draining")

	if appCfg.APIPort > 0 {
		drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
		L.Info(context.Background(), "sleeping for drain period", "drain_seconds", appCfg.DrainSeconds)
		forceCh := make(chan os.Signal, 1)
		signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-time.After(drainDuration):
			L.Info(context.Background(), "drain period complete")
		case <-forceCh:
			L.Warn(context.Background(), "second signal received, skipping drain")
		}
		signal.Stop(forceCh)
	}

	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	perComponent := budget / time.Duration(len(stopFns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stopFns {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}

	L.Info(context.Background(), "shutdown complete")
	return loopErr
}

type inboxHandlerOptions struct {
	token     string
	clientIP  httpmw.ClientIPOptions
	logger    log.Logger
	metricsMW func(http.Handler) http.Handler
	healthz   http.HandlerFunc
	readyz    http.HandlerFunc
}

// newInboxHandler builds the inbox API router and the outer middleware stack.
func newInboxHandler(api *inboxapi.API, o inboxHandlerOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(httpmw.AnnotateHTTPRoute)
	r.Use(httpmw.AccessLog())
	r.Use(httpmw.MaxBody(1024 * 64))

	r.Get("/-/healthy", o.healthz)
	r.Get("/-/ready", o.readyz)

	r.Group(func(r chi.Router) {
		r.Use(authmw.BearerToken(o.token))
		api.RegisterRoutes(r)
	})

	// order matters: the last wrapper is the first to see the request
	var h http.Handler = r
	h = httpmw.WithLogger(o.logger)(h)
	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)
	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)
	h = o.metricsMW(h)
	h = httpmw.ClientIPWithOptions(o.clientIP)(h)
	h = httpmw.RequestID("X-Request-Id")(h)
	h = httpmw.Recover(o.logger, nil)(h)
	h = httpmw.SecurityHeaders(h)
	return h
}

// loadEnvFile loads KEY=value pairs into the process environment without
// overriding variables that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when the unit is type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // addr comes from systemd; unixgram dial has no context variant
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
