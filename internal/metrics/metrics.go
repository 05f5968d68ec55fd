// README: Prometheus collectors for fares, ranking, assignments and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chauffeur"

// Metrics owns its registry so tests can build independent instances.
type Metrics struct {
	registry *prometheus.Registry

	FareQuotes       *prometheus.CounterVec
	FareWarnings     prometheus.Counter
	RuleLookupErrors *prometheus.CounterVec
	RankDuration     prometheus.Histogram
	RankCandidates   prometheus.Histogram
	Assignments      *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FareQuotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fare_quotes_total",
			Help:      "Fare computations by service type and outcome.",
		}, []string{"service_type", "outcome"}),
		FareWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fare_warnings_total",
			Help:      "Fares returned with an operator warning attached.",
		}),
		RuleLookupErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_rule_lookup_errors_total",
			Help:      "Pricing rule resolution failures by kind.",
		}, []string{"kind"}),
		RankDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "matching_rank_duration_seconds",
			Help:      "Time to snapshot and rank the driver pool.",
			Buckets:   prometheus.DefBuckets,
		}),
		RankCandidates: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "matching_rank_candidates",
			Help:      "Drivers returned per ranking call.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		Assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignments_total",
			Help:      "Assignment attempts by outcome.",
		}, []string{"outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.FareQuotes, m.FareWarnings, m.RuleLookupErrors,
		m.RankDuration, m.RankCandidates,
		m.Assignments,
		m.HTTPRequests, m.HTTPDuration,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// The helpers below accept a nil receiver so services can run without metrics.

func (m *Metrics) ObserveFare(serviceType, outcome string, warned bool) {
	if m == nil {
		return
	}
	m.FareQuotes.WithLabelValues(serviceType, outcome).Inc()
	if warned {
		m.FareWarnings.Inc()
	}
}

func (m *Metrics) ObserveRuleLookupError(kind string) {
	if m == nil {
		return
	}
	m.RuleLookupErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveRank(start time.Time, returned int) {
	if m == nil {
		return
	}
	m.RankDuration.Observe(time.Since(start).Seconds())
	m.RankCandidates.Observe(float64(returned))
}

func (m *Metrics) ObserveAssignment(outcome string) {
	if m == nil {
		return
	}
	m.Assignments.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
