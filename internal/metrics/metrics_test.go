package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-device-sessions/internal/metrics"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	require.NotPanics(t, func() {
		m.Login(metrics.LoginCreated)
		m.AuthRejected("stale_session")
		m.Revoked("logout", 1)
		m.Reaped(3)
		m.SweepObserved(0.1, 1)
	})
}

func TestHandlerExposesCounters(t *testing.T) {
	m := metrics.New()
	m.Login(metrics.LoginDeviceLimit)
	m.Reaped(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.True(t, strings.Contains(body, `devsess_logins_total{outcome="device_limit"} 1`))
	require.True(t, strings.Contains(body, "devsess_sessions_reaped_total 2"))
}
