// Package metrics exposes Prometheus collectors for the ingestion service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesFetchedTotal          *prometheus.CounterVec
	bytesFetchedTotal          *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	robotsFetchTotal           *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	jobRunsTotal               *prometheus.CounterVec
	jobDurationSeconds         *prometheus.HistogramVec
	jobsActive                 prometheus.Gauge
	articlesTotal              *prometheus.CounterVec
	feedFetchTotal             *prometheus.CounterVec
	financialFetchTotal        *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resmihaber_pages_fetched_total",
				Help: "Total number of page fetches, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		bytesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resmihaber_bytes_fetched_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of control surface requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of control surface latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30},
			},
			[]string{"method", "route"},
		)

		robotsFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resmihaber_robots_fetch_total",
				Help: "robots.txt retrievals, labeled by outcome (ok or fallback).",
			},
			[]string{"outcome"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "resmihaber_rate_limit_delay_seconds",
				Help:    "Histogram of per-origin politeness waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"origin"},
		)

		jobRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resmihaber_job_runs_total",
				Help: "Scheduler job executions, labeled by kind and status.",
			},
			[]string{"kind", "status"},
		)

		jobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "resmihaber_job_duration_seconds",
				Help:    "Scheduler job run time, labeled by kind.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900},
			},
			[]string{"kind"},
		)

		jobsActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "resmihaber_jobs_active",
				Help: "Number of scheduler jobs currently executing.",
			},
		)

		articlesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resmihaber_articles_total",
				Help: "Ingested items, labeled by source and outcome (inserted, duplicate, failed).",
			},
			[]string{"source", "outcome"},
		)

		feedFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resmihaber_feed_fetch_total",
				Help: "Feed retrievals, labeled by source and status.",
			},
			[]string{"source", "status"},
		)

		financialFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resmihaber_financial_fetch_total",
				Help: "Financial data requests, labeled by kind and outcome (fetched, cached, stored, unavailable).",
			},
			[]string{"kind", "outcome"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveFetch records one page fetch.
func ObserveFetch(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	pagesFetchedTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		bytesFetchedTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRobotsFetch counts robots.txt retrievals.
func ObserveRobotsFetch(outcome string) {
	Init()
	robotsFetchTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(origin string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(SanitizeSite(origin)).Observe(duration.Seconds())
}

// ObserveJob records a finished scheduler run.
func ObserveJob(kind, status string, duration time.Duration) {
	Init()
	jobRunsTotal.WithLabelValues(kind, status).Inc()
	jobDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// IncActiveJobs increments the active jobs gauge.
func IncActiveJobs() {
	Init()
	jobsActive.Inc()
}

// DecActiveJobs decrements the active jobs gauge.
func DecActiveJobs() {
	Init()
	jobsActive.Dec()
}

// ObserveArticle counts one ingested item.
func ObserveArticle(source, outcome string) {
	Init()
	articlesTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveFeedFetch counts one feed retrieval.
func ObserveFeedFetch(source, status string) {
	Init()
	feedFetchTotal.WithLabelValues(source, status).Inc()
}

// ObserveFinancial counts one financial data request.
func ObserveFinancial(kind, outcome string) {
	Init()
	financialFetchTotal.WithLabelValues(kind, outcome).Inc()
}
