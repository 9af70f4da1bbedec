package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Login("success")
	m.Login("success")
	m.Login("already_active")
	m.SessionEnded("logout")
	m.GuardRejected("mismatch")
	m.PartnerNotified("ok", 20*time.Millisecond)
	m.HTTPRequest(201)
	m.HTTPRequest(404)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.logins.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.logins.WithLabelValues("already_active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.logouts.WithLabelValues("logout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.guardRejections.WithLabelValues("mismatch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.partnerNotify.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("4xx")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.Login("success")

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rr.Code)

	body, _ := io.ReadAll(rr.Body)
	assert.True(t, strings.Contains(string(body), `vigil_presence_logins_total{result="success"} 1`))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Login("x")
	m.SessionEnded("x")
	m.GuardRejected("x")
	m.PartnerNotified("x", time.Second)
	m.PartnerInflight(1)
	m.FeedClients(1)
	m.HTTPRequest(200)
	assert.Nil(t, m.Registry())

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rr.Code)
}
