package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "devsess"

// Login outcomes.
const (
	LoginCreated             = "created"
	LoginRefreshed           = "refreshed"
	LoginDeviceLimit         = "device_limit"
	LoginInvalidCredentials  = "invalid_credentials"
	LoginStorageUnavailable  = "storage_unavailable"
	LoginRegistered          = "registered"
	LoginRegistrationRefused = "registration_refused"
)

// Metrics holds the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	logins         *prometheus.CounterVec
	authRejections *prometheus.CounterVec
	revocations    *prometheus.CounterVec
	reaped         prometheus.Counter
	sweepDuration  prometheus.Histogram
	sweepErrors    prometheus.Counter
}

// New creates the collectors on a private registry together with the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login and registration attempts by outcome.",
		}, []string{"outcome"}),
		authRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authenticate_rejections_total",
			Help:      "Rejected bearer credentials by reason.",
		}, []string{"reason"}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_revoked_total",
			Help:      "Sessions removed by logout, device removal or account deletion.",
		}, []string{"cause"}),
		reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_reaped_total",
			Help:      "Sessions removed for inactivity.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reaper_sweep_duration_seconds",
			Help:      "Duration of stale session sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
		sweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reaper_account_errors_total",
			Help:      "Accounts a sweep failed to reap.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.logins,
		m.authRejections,
		m.revocations,
		m.reaped,
		m.sweepDuration,
		m.sweepErrors,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Login(outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AuthRejected(reason string) {
	if m == nil {
		return
	}
	m.authRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) Revoked(cause string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.revocations.WithLabelValues(cause).Add(float64(n))
}

func (m *Metrics) Reaped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reaped.Add(float64(n))
}

func (m *Metrics) SweepObserved(seconds float64, failedAccounts int) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(seconds)
	if failedAccounts > 0 {
		m.sweepErrors.Add(float64(failedAccounts))
	}
}
