package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.Registration(ResultSuccess)
	m.Registration(ResultConflict)
	m.Login(ResultFailure)
	m.Enqueued("send_welcome_mail_task", nil)
	m.Enqueued("send_welcome_mail_task", errors.New("down"))
	m.TaskProcessed("send_welcome_mail_task", nil, 10*time.Millisecond)
	m.WelcomeMail(ResultSkipped)
	m.RateLimited("/api/login")
	m.ObserveRequest("POST", "/api/register", 201, 5*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.registrations.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.registrations.WithLabelValues(ResultConflict)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.logins.WithLabelValues(ResultFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.enqueued.WithLabelValues("send_welcome_mail_task", ResultFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasks.WithLabelValues("send_welcome_mail_task", ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.welcomeMails.WithLabelValues(ResultSkipped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimitHits.WithLabelValues("/api/login")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestTotal.WithLabelValues("POST", "/api/register", "201")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Registration(ResultSuccess)
		m.Login(ResultSuccess)
		m.Enqueued("x", nil)
		m.TaskProcessed("x", nil, time.Second)
		m.WelcomeMail(ResultSuccess)
		m.RateLimited("x")
		m.ObserveRequest("GET", "/", 200, time.Second)
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Login(ResultSuccess)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `accounts_logins_total{result="success"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
