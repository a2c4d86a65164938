package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	Verifications    *prometheus.CounterVec
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	Throttled        *prometheus.CounterVec
	LinksSent        prometheus.Counter
	BulkJobs         *prometheus.CounterVec
	RequestLatency   *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "idcollect_verifications_total",
			Help: "Verification attempts by identity type and outcome",
		}, []string{"type", "outcome"}),
		ProviderRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "idcollect_provider_requests_total",
			Help: "Upstream registry requests by provider and result status",
		}, []string{"provider", "status"}),
		ProviderLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "idcollect_provider_request_seconds",
			Help:    "Upstream registry request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		Throttled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "idcollect_ratelimit_throttled_total",
			Help: "Requests delayed by the provider rate limiter",
		}, []string{"provider"}),
		LinksSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "idcollect_links_sent_total",
			Help: "Verification links handed to the email sender",
		}),
		BulkJobs: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "idcollect_bulk_jobs_total",
			Help: "Bulk verification jobs by terminal status",
		}, []string{"status"}),
		RequestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "idcollect_http_request_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}

// ObserveProvider records one upstream request outcome.
func (m *Metrics) ObserveProvider(provider, status string, elapsed time.Duration) {
	m.ProviderRequests.WithLabelValues(provider, status).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// ObserveVerification records a verification attempt outcome.
func (m *Metrics) ObserveVerification(identityType, outcome string) {
	m.Verifications.WithLabelValues(identityType, outcome).Inc()
}
