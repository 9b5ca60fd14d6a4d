// Package metrics exposes Prometheus collectors for the crawler service.
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
	crawlerFetchesTotal           *prometheus.CounterVec
	crawlerBytesTotal             *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	crawlerJobsTotal              *prometheus.CounterVec
	crawlerActiveWorkers          prometheus.Gauge
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	sitemapLookupsTotal           *prometheus.CounterVec
	catalogArticlesTotal          *prometheus.CounterVec
	engagementFailuresTotal       *prometheus.CounterVec
	sseStreamsActive              *prometheus.GaugeVec
	sseStreamDurationSeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetches_total",
				Help: "Total number of outbound GETs, labeled by site and status class.",
			},
			[]string{"site", "status"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method, route and code.",
			},
			[]string{"method", "route", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Latency of non-streaming HTTP requests, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)

		crawlerJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_jobs_total",
				Help: "Total number of queued crawl jobs processed, labeled by status.",
			},
			[]string{"status"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		sitemapLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_sitemap_lookups_total",
				Help: "Sitemap cache lookups, labeled by source and outcome (hit, miss, bypass, error).",
			},
			[]string{"source", "outcome"},
		)

		catalogArticlesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_catalog_articles_total",
				Help: "Articles resolved by the catalog, labeled by source and origin (cached, fetched).",
			},
			[]string{"source", "origin"},
		)

		engagementFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_engagement_failures_total",
				Help: "Articles whose engagement measurement failed and was recorded as zero.",
			},
			[]string{"source"},
		)

		sseStreamsActive = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crawler_sse_streams_active",
				Help: "Progress event streams currently open, labeled by route.",
			},
			[]string{"route"},
		)

		sseStreamDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_sse_stream_duration_seconds",
				Help:    "Lifetime of progress event streams, labeled by route.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"route"},
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

// StatusClass buckets an HTTP status code ("2xx", "5xx"); zero means the request never completed.
func StatusClass(code int) string {
	if code <= 0 {
		return "error"
	}
	return strconv.Itoa(code/100) + "xx"
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records one outbound GET.
func ObserveFetch(site string, statusCode int, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlerFetchesTotal.WithLabelValues(sanitizedSite, StatusClass(statusCode)).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest records one finished request. Event streams live as long
// as their crawl, so their duration goes to the stream histogram instead of
// the latency one.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration, streamed bool) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	if streamed {
		sseStreamDurationSeconds.WithLabelValues(route).Observe(duration.Seconds())
		return
	}
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// StreamOpened counts an event stream that started on route.
func StreamOpened(route string) {
	Init()
	sseStreamsActive.WithLabelValues(route).Inc()
}

// StreamClosed undoes StreamOpened.
func StreamClosed(route string) {
	Init()
	sseStreamsActive.WithLabelValues(route).Dec()
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	Init()
	crawlerJobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	crawlerActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveSitemapLookup records the outcome of one sitemap cache resolve.
func ObserveSitemapLookup(source, outcome string) {
	Init()
	sitemapLookupsTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveCatalog records how many articles came from the store versus the adapter.
func ObserveCatalog(source string, cached, fetched int) {
	Init()
	if cached > 0 {
		catalogArticlesTotal.WithLabelValues(source, "cached").Add(float64(cached))
	}
	if fetched > 0 {
		catalogArticlesTotal.WithLabelValues(source, "fetched").Add(float64(fetched))
	}
}

// ObserveEngagementFailure counts one zeroed engagement measurement.
func ObserveEngagementFailure(source string) {
	Init()
	engagementFailuresTotal.WithLabelValues(source).Inc()
}
