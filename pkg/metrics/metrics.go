// Package metrics holds the prometheus instruments of the OAuth server.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "openfront_oauth"

type Metrics struct {
	gatherer           prometheus.Gatherer
	tokensIssued       *prometheus.CounterVec
	errors             *prometheus.CounterVec
	sessionResolutions *prometheus.CounterVec
	rateLimited        *prometheus.CounterVec
}

// New registers the instruments on a fresh registry
func New() *Metrics {
	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	tokensIssued := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tokens_issued_total",
		Help:      "Access tokens issued by grant type",
	}, []string{"grant_type"})
	errs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "errors_total",
		Help:      "OAuth error responses by endpoint and error code",
	}, []string{"endpoint", "error"})
	sessionResolutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_resolutions_total",
		Help:      "Resolved sessions by credential source",
	}, []string{"source"})
	rateLimited := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the rate limiter",
	}, []string{"endpoint"})
	r.MustRegister(tokensIssued, errs, sessionResolutions, rateLimited)

	return &Metrics{
		gatherer:           r,
		tokensIssued:       tokensIssued,
		errors:             errs,
		sessionResolutions: sessionResolutions,
		rateLimited:        rateLimited,
	}
}

func (m *Metrics) TokenIssued(grantType string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(grantType).Inc()
}

func (m *Metrics) Error(endpoint, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(endpoint, code).Inc()
}

func (m *Metrics) SessionResolved(source string) {
	if m == nil {
		return
	}
	m.sessionResolutions.WithLabelValues(source).Inc()
}

func (m *Metrics) RateLimited(endpoint string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(endpoint).Inc()
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
