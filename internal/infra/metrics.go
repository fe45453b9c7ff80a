package infra

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/attaboy/identity/internal/domain"
)

const metricsNamespace = "identity"

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	roleInferences   *prometheus.CounterVec
	riskAssessments  *prometheus.CounterVec
	riskFactors      *prometheus.CounterVec
	assessmentFailed prometheus.Counter
	credentials      *prometheus.CounterVec
	logins           *prometheus.CounterVec
	sessions         *prometheus.CounterVec

	outboxPublished prometheus.Counter
	outboxFailures  prometheus.Counter
	outboxLag       prometheus.Gauge

	httpInFlight        prometheus.Gauge
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewMetrics registers collectors on a fresh registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.NewRegistry())
}

// NewMetricsWithRegistry registers collectors on reg.
func NewMetricsWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		roleInferences: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "role_inferences_total",
			Help:      "Role inferences by suggested role and approval requirement.",
		}, []string{"role", "requires_approval"}),
		riskAssessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "risk_assessments_total",
			Help:      "Login risk assessments by level and decision.",
		}, []string{"level", "allowed"}),
		riskFactors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "risk_factors_total",
			Help:      "Risk factors raised by login assessments.",
		}, []string{"factor"}),
		assessmentFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "risk_assessment_failures_total",
			Help:      "Assessments that fell back to the fail-safe verdict.",
		}),
		credentials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "temporary_credentials_total",
			Help:      "Temporary credential lifecycle events by outcome.",
		}, []string{"outcome"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "logins_total",
			Help:      "Login attempts by outcome.",
		}, []string{"outcome"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_created_total",
			Help:      "Sessions created by risk level.",
		}, []string{"risk_level"}),
		outboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "outbox_published_total",
			Help:      "Audit events relayed from the outbox.",
		}),
		outboxFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "outbox_publish_failures_total",
			Help:      "Relay attempts that stopped on a publish or marshal error.",
		}),
		outboxLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "outbox_oldest_pending_seconds",
			Help:      "Age of the oldest event left in the outbox after the last poll.",
		}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "http_in_flight_requests",
			Help:      "In-flight HTTP requests.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		m.roleInferences, m.riskAssessments, m.riskFactors, m.assessmentFailed,
		m.credentials, m.logins, m.sessions,
		m.outboxPublished, m.outboxFailures, m.outboxLag,
		m.httpInFlight, m.httpRequestsTotal, m.httpRequestDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Credential lifecycle outcomes.
const (
	OutcomeIssued                 = "issued"
	OutcomeActivated              = "activated"
	OutcomeInvalid                = "invalid"
	OutcomeNoCredential           = "no_valid_credential"
	OutcomeRateLimited            = "rate_limited"
	OutcomePasswordChangeRequired = "password_change_required"
	OutcomeConsumeConflict        = "consume_conflict"
	OutcomeSucceeded              = "succeeded"
	OutcomeBlocked                = "blocked"
)

func (m *Metrics) RoleInferred(role domain.Role, requiresApproval bool) {
	if m == nil {
		return
	}
	m.roleInferences.WithLabelValues(string(role), strconv.FormatBool(requiresApproval)).Inc()
}

func (m *Metrics) RiskAssessed(a domain.SecurityAssessment) {
	if m == nil {
		return
	}
	m.riskAssessments.WithLabelValues(string(a.RiskLevel), strconv.FormatBool(a.AllowLogin)).Inc()
	for _, f := range a.RiskFactors {
		m.riskFactors.WithLabelValues(f).Inc()
	}
	if a.HasFactor(domain.FactorAssessmentFailed) {
		m.assessmentFailed.Inc()
	}
}

func (m *Metrics) Credential(outcome string) {
	if m == nil {
		return
	}
	m.credentials.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Login(outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SessionCreated(level domain.RiskLevel) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(string(level)).Inc()
}

// OutboxPolled records one relay pass. lag is zero when the outbox drained.
func (m *Metrics) OutboxPolled(published int, failed bool, lag time.Duration) {
	if m == nil {
		return
	}
	m.outboxPublished.Add(float64(published))
	if failed {
		m.outboxFailures.Inc()
	}
	m.outboxLag.Set(lag.Seconds())
}

// Instrument records request count, latency, and in-flight requests labelled
// by the matched chi route pattern.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := strconv.Itoa(sw.code)
		m.httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
