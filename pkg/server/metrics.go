package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	sserr "github.com/StricklySoft/stricklysoft-jwtbearer/pkg/errors"
)

// metricsNamespace prefixes every metric the server exports.
const metricsNamespace = "jwtbearer"

// Token request outcomes.
const (
	OutcomeIssued   = "issued"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// unknownGrantType labels requests whose grant_type is not enabled, so
// arbitrary client input never becomes a label value.
const unknownGrantType = "unknown"

// Metrics holds the token endpoint's Prometheus collectors on a private
// registry.
type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them, together with the
// Go runtime and process collectors, on a new registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "token_requests_total",
			Help:      "Token endpoint requests by grant type, outcome and reason code.",
		}, []string{"grant_type", "outcome", "reason"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "token_request_duration_seconds",
			Help:      "Token endpoint request latency by grant type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"grant_type"}),
	}
	m.registry.MustRegister(
		m.requests,
		m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// observe records one token request. err is nil for an issued token.
func (m *Metrics) observe(grantType string, err error, elapsed time.Duration) {
	outcome, reason := OutcomeIssued, ""
	if err != nil {
		reason = sserr.FromError(err).Code.String()
		outcome = OutcomeFailed
		if sserr.IsRejection(err) {
			outcome = OutcomeRejected
		}
	}
	m.requests.WithLabelValues(grantType, outcome, reason).Inc()
	m.duration.WithLabelValues(grantType).Observe(elapsed.Seconds())
}
