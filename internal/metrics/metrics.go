// Package metrics exposes Prometheus collectors for the scraping service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesTotal           *prometheus.CounterVec
	fetchDurationSeconds prometheus.Histogram
	vacanciesTotal       *prometheus.CounterVec
	runsTotal            *prometheus.CounterVec
	runActive            prometheus.Gauge
	httpRequestsTotal    *prometheus.CounterVec
	httpDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_pages_total",
				Help: "Total number of search pages processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)
		fetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scraper_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies including retries.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		)
		vacanciesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_vacancies_total",
				Help: "Total vacancies processed, labeled by outcome (inserted, skipped, updated, failed).",
			},
			[]string{"outcome"},
		)
		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_runs_total",
				Help: "Total search runs, labeled by final status.",
			},
			[]string{"status"},
		)
		runActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_run_active",
				Help: "Whether a search run is currently executing (0 or 1).",
			},
		)
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)
		httpDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of API request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.025, 0.1, 0.25, 1, 2.5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObservePage records one processed search page.
func ObservePage(outcome string) {
	Init()
	pagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetch records the latency of one fetch (including retries).
func ObserveFetch(d time.Duration) {
	Init()
	fetchDurationSeconds.Observe(d.Seconds())
}

// ObserveVacancy records n processed listings by outcome.
func ObserveVacancy(outcome string, n int) {
	Init()
	if n <= 0 {
		return
	}
	vacanciesTotal.WithLabelValues(outcome).Add(float64(n))
}

// ObserveRun records a completed run by final status.
func ObserveRun(status string) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
}

// SetRunActive flips the active-run gauge.
func SetRunActive(active bool) {
	Init()
	if active {
		runActive.Set(1)
		return
	}
	runActive.Set(0)
}

// ObserveHTTP records one API request.
func ObserveHTTP(method, code, route string, d time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, code).Inc()
	httpDurationSeconds.WithLabelValues(method, route).Observe(d.Seconds())
}
