package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New()
	m.TokenIssued("authorization_code")
	m.TokenIssued("authorization_code")
	m.TokenIssued("refresh_token")
	m.Error("token", "invalid_grant")
	m.SessionResolved("oauth")
	m.RateLimited("token")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.tokensIssued.WithLabelValues("authorization_code")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokensIssued.WithLabelValues("refresh_token")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("token", "invalid_grant")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionResolutions.WithLabelValues("oauth")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimited.WithLabelValues("token")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.TokenIssued("refresh_token")

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `openfront_oauth_tokens_issued_total{grant_type="refresh_token"} 1`)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TokenIssued("x")
		m.Error("x", "y")
		m.SessionResolved("x")
		m.RateLimited("x")
	})

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
