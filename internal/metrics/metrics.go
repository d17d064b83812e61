// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "integrationhub"

type Metrics struct {
	JobsSubmitted       *prometheus.CounterVec
	RetriesRequested    *prometheus.CounterVec
	ExecutionsFinished  *prometheus.CounterVec
	AttemptDuration     *prometheus.HistogramVec
	AttemptsInFlight    prometheus.Gauge
	RecoveredExecutions *prometheus.CounterVec
	HTTPRequests        *prometheus.CounterVec
}

// New registers every collector with reg. Pass prometheus.DefaultRegisterer in
// production and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		JobsSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Jobs accepted for execution.",
		}, []string{"connector"}),
		RetriesRequested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retry attempts created.",
		}, []string{"connector"}),
		ExecutionsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_finished_total",
			Help:      "Attempts that reached a terminal status.",
		}, []string{"connector", "status"}),
		AttemptDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "attempt_duration_seconds",
			Help:      "Connector execution time per attempt.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"connector"}),
		AttemptsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "attempts_in_flight",
			Help:      "Attempts currently executing a connector.",
		}),
		RecoveredExecutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovered_executions_total",
			Help:      "Unfinished executions found at startup, by action taken.",
		}, []string{"action"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "status"}),
	}
}

// Handler serves the exposition format for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
