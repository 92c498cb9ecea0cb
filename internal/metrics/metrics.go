// Package metrics defines the Prometheus instruments exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/opensource-finance/simguard/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simguard",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "simguard",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
		[]string{"method", "route"},
	)

	// Analysis metrics
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simguard",
			Subsystem: "analysis",
			Name:      "runs_total",
			Help:      "Total number of batch analyses",
		},
		[]string{"status"},
	)

	analysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "simguard",
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "Batch analysis duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		},
	)

	EventsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "simguard",
			Subsystem: "analysis",
			Name:      "events_total",
			Help:      "Total number of activity events analysed",
		},
	)

	UsersEvaluated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simguard",
			Subsystem: "analysis",
			Name:      "users_total",
			Help:      "Users evaluated, by alert tier",
		},
		[]string{"tier"},
	)

	UsersExcluded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "simguard",
			Subsystem: "analysis",
			Name:      "users_excluded_total",
			Help:      "Users excluded from analysis",
		},
	)

	RuleHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simguard",
			Subsystem: "rules",
			Name:      "hits_total",
			Help:      "Number of times each rule triggered",
		},
		[]string{"rule"},
	)

	// Ingest metrics
	RowsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "simguard",
			Subsystem: "ingest",
			Name:      "rows_total",
			Help:      "CSV rows read, by outcome",
		},
		[]string{"outcome"},
	)

	AlertsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "simguard",
			Subsystem: "bus",
			Name:      "alerts_published_total",
			Help:      "HIGH tier alerts published on the event bus",
		},
	)
)

// ObserveHTTP records one served request.
func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveAnalysis records the outcome of a completed batch analysis.
func ObserveAnalysis(summary *domain.DatasetSummary, elapsed time.Duration) {
	AnalysesTotal.WithLabelValues("ok").Inc()
	analysisDuration.Observe(elapsed.Seconds())
	EventsProcessed.Add(float64(summary.TotalEvents))
	UsersExcluded.Add(float64(summary.ExcludedCount))

	UsersEvaluated.WithLabelValues(string(domain.TierLow)).Add(float64(summary.TierCounts.Low))
	UsersEvaluated.WithLabelValues(string(domain.TierMedium)).Add(float64(summary.TierCounts.Medium))
	UsersEvaluated.WithLabelValues(string(domain.TierHigh)).Add(float64(summary.TierCounts.High))

	for _, e := range summary.Results {
		for _, hit := range e.TriggeredRules {
			RuleHits.WithLabelValues(hit.Rule).Inc()
		}
	}
}

// ObserveAnalysisFailure records a rejected or failed analysis.
func ObserveAnalysisFailure() {
	AnalysesTotal.WithLabelValues("error").Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
