package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetOnline(3)
		m.SetBanned(1)
		m.ConnectionAccepted()
		m.ConnectionRejected("blacklisted")
		m.Handshake("ok", 0.1)
		m.MessageRelayed()
		m.Whisper("delivered")
		m.Kick()
	})
}

func TestMetrics_Record(t *testing.T) {
	m := New(WithRegistry(prometheus.NewRegistry()))

	m.SetOnline(2)
	m.SetBanned(4)
	m.ConnectionAccepted()
	m.ConnectionAccepted()
	m.ConnectionRejected("blacklisted")
	m.Handshake("ok", 0.01)
	m.MessageRelayed()
	m.Whisper("not_found")
	m.Kick()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.online))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.banned))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.accepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejected.WithLabelValues("blacklisted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.handshakes.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messages))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.whispers.WithLabelValues("not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.kicks))
}

func TestMetrics_Handler(t *testing.T) {
	m := New(WithNamespace("relaytest"))
	m.SetOnline(5)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "relaytest_sessions_online 5"))
}
