// Package metrics exposes Prometheus collectors for the crawler service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerPagesTotal          *prometheus.CounterVec
	crawlerProductsTotal       *prometheus.CounterVec
	crawlerJobsTotal           *prometheus.CounterVec
	crawlerActiveJobs          prometheus.Gauge
	crawlerLeaseRenewalsTotal  *prometheus.CounterVec
	crawlerFetchSeconds        *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of pages fetched, labeled by provider and outcome.",
			},
			[]string{"provider", "status"},
		)

		crawlerProductsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_products_total",
				Help: "Total number of products extracted, labeled by provider.",
			},
			[]string{"provider"},
		)

		crawlerJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_jobs_total",
				Help: "Total number of jobs finished, labeled by final status.",
			},
			[]string{"status"},
		)

		crawlerActiveJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_jobs",
				Help: "Number of jobs currently held under a lease by this process.",
			},
		)

		crawlerLeaseRenewalsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_lease_renewals_total",
				Help: "Total number of lease renewal attempts, labeled by result.",
			},
			[]string{"result"},
		)

		crawlerFetchSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Histogram of per-page fetch latencies, labeled by provider.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"provider"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage increments the page counter and fetch latency histogram.
func ObservePage(provider, status string, duration time.Duration) {
	if crawlerPagesTotal == nil {
		return
	}
	crawlerPagesTotal.WithLabelValues(provider, status).Inc()
	crawlerFetchSeconds.WithLabelValues(provider).Observe(duration.Seconds())
}

// ObserveProducts adds to the extracted products counter.
func ObserveProducts(provider string, count int) {
	if crawlerProductsTotal == nil {
		return
	}
	if count > 0 {
		crawlerProductsTotal.WithLabelValues(provider).Add(float64(count))
	}
}

// ObserveJob increments the finished job counter for the given status.
func ObserveJob(status string) {
	if crawlerJobsTotal == nil {
		return
	}
	crawlerJobsTotal.WithLabelValues(status).Inc()
}

// ObserveLeaseRenewal records one renewal attempt outcome.
func ObserveLeaseRenewal(result string) {
	if crawlerLeaseRenewalsTotal == nil {
		return
	}
	crawlerLeaseRenewalsTotal.WithLabelValues(result).Inc()
}

// IncActiveJobs increments the held jobs gauge.
func IncActiveJobs() {
	if crawlerActiveJobs == nil {
		return
	}
	crawlerActiveJobs.Inc()
}

// DecActiveJobs decrements the held jobs gauge.
func DecActiveJobs() {
	if crawlerActiveJobs == nil {
		return
	}
	crawlerActiveJobs.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
