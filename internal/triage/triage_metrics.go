package triage

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/sentra/internal/disposition"
)

// Hooks are optional callbacks fired by the Engine and Service. Nil fields
// are skipped.
type Hooks struct {
	OnNotification func(r Result)
	OnScore        func(score int)
	OnFetchError   func()
	OnPoll         func(duration float64, fetched int)
	OnDisposition  func(out disposition.Outcome)
	OnKnownSources func(n int)
}

func (h Hooks) notification(r Result) {
	if h.OnNotification != nil {
		h.OnNotification(r)
	}
}

func (h Hooks) score(s int) {
	if h.OnScore != nil {
		h.OnScore(s)
	}
}

func (h Hooks) fetchError() {
	if h.OnFetchError != nil {
		h.OnFetchError()
	}
}

func (h Hooks) poll(d float64, fetched int) {
	if h.OnPoll != nil {
		h.OnPoll(d, fetched)
	}
}

func (h Hooks) disposition(out disposition.Outcome) {
	if h.OnDisposition != nil {
		h.OnDisposition(out)
	}
}

func (h Hooks) knownSources(n int) {
	if h.OnKnownSources != nil {
		h.OnKnownSources(n)
	}
}

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	NotificationsTotal *prometheus.CounterVec
	Scores             prometheus.Histogram
	FetchErrorsTotal   prometheus.Counter
	PollDuration       prometheus.Histogram
	FetchedBodies      prometheus.Histogram
	DispositionsTotal  *prometheus.CounterVec
	KnownSources       prometheus.Gauge
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentra_notifications_total",
			Help: "Fetched notification bodies by triage result.",
		}, []string{"result"}),
		Scores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentra_risk_score",
			Help:    "Risk score of evaluated notifications.",
			Buckets: prometheus.LinearBuckets(0, 1, 11), // 0 .. 10
		}),
		FetchErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sentra_fetch_errors_total",
			Help: "Mailbox fetches that failed.",
		}),
		PollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentra_poll_duration_seconds",
			Help:    "Duration of a mailbox poll including evaluation.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}),
		FetchedBodies: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentra_poll_fetched_bodies",
			Help:    "Bodies returned per mailbox poll.",
			Buckets: prometheus.LinearBuckets(0, 1, 11), // 0 .. 10
		}),
		DispositionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentra_dispositions_total",
			Help: "Completed operator dispositions by outcome.",
		}, []string{"outcome"}),
		KnownSources: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentra_known_sources",
			Help: "Number of trusted source IPs.",
		}),
	}

	reg.MustRegister(
		m.NotificationsTotal,
		m.Scores,
		m.FetchErrorsTotal,
		m.PollDuration,
		m.FetchedBodies,
		m.DispositionsTotal,
		m.KnownSources,
	)

	return m
}

// Hooks returns Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnNotification: func(r Result) {
			m.NotificationsTotal.WithLabelValues(string(r)).Inc()
		},
		OnScore: func(score int) {
			m.Scores.Observe(float64(score))
		},
		OnFetchError: func() {
			m.FetchErrorsTotal.Inc()
		},
		OnPoll: func(duration float64, fetched int) {
			m.PollDuration.Observe(duration)
			m.FetchedBodies.Observe(float64(fetched))
		},
		OnDisposition: func(out disposition.Outcome) {
			m.DispositionsTotal.WithLabelValues(string(out)).Inc()
		},
		OnKnownSources: func(n int) {
			m.KnownSources.Set(float64(n))
		},
	}
}
