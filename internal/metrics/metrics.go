package metrics

import (
	"time"

	"github.com/OliverSchlueter/mail-submit/internal/smtp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ResultSuccess  = "success"
	ResultRejected = "rejected"
	ResultFailed   = "failed"
)

// Metrics holds the client's Prometheus metrics on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Submissions        *prometheus.CounterVec
	RejectedRecipients prometheus.Counter
	Errors             *prometheus.CounterVec
	BodyBytes          prometheus.Counter
	SessionDuration    prometheus.Histogram
	ActiveSessions     prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mail_submit_submissions_total",
			Help: "Messages handed to the server, by final result",
		}, []string{"result"}),
		RejectedRecipients: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail_submit_rejected_recipients_total",
			Help: "Recipients refused with a soft RCPT failure",
		}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mail_submit_session_errors_total",
			Help: "Session errors by kind",
		}, []string{"kind"}),
		BodyBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "mail_submit_body_bytes_total",
			Help: "Message bytes streamed after DATA",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mail_submit_session_duration_seconds",
			Help:    "Time from connect until the session closed",
			Buckets: prometheus.DefBuckets,
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mail_submit_sessions_active",
			Help: "Sessions currently open",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Instrument returns Events recording one session. Call it once per session,
// right before Connect.
func (m *Metrics) Instrument() smtp.Events {
	start := time.Now()
	judged := false
	m.ActiveSessions.Inc()

	return smtp.Events{
		OnReady: func(failed []string) {
			m.RejectedRecipients.Add(float64(len(failed)))
		},
		OnDone: func(success bool) {
			judged = true
			if success {
				m.Submissions.WithLabelValues(ResultSuccess).Inc()
				return
			}
			m.Submissions.WithLabelValues(ResultRejected).Inc()
		},
		OnError: func(err error) {
			kind := smtp.KindOf(err)
			if kind == smtp.KindRecipients {
				judged = true
				m.Submissions.WithLabelValues(ResultRejected).Inc()
			}
			m.Errors.WithLabelValues(kind.String()).Inc()
		},
		OnClose: func() {
			if !judged {
				m.Submissions.WithLabelValues(ResultFailed).Inc()
			}
			m.ActiveSessions.Dec()
			m.SessionDuration.Observe(time.Since(start).Seconds())
		},
	}
}

// ObserveBody counts n streamed body bytes.
func (m *Metrics) ObserveBody(n int) {
	m.BodyBytes.Add(float64(n))
}

// WriteTextfile writes all metrics in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
