// Package metrics exposes Prometheus collectors for the API and worker.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "postforge"

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "path"},
	)

	// Generation
	LLMCallTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "call_total",
			Help:      "Total number of generation calls by outcome class",
		},
		[]string{"provider", "capability", "class"},
	)

	LLMCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "Generation call duration in seconds",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "capability"},
	)

	LLMTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_used_total",
			Help:      "Total tokens used for generation calls",
		},
		[]string{"provider", "model", "type"}, // type: input/output
	)

	// Quota
	QuotaReservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "reservations_total",
			Help:      "Quota reservations by result",
		},
		[]string{"result"}, // held, rejected
	)

	QuotaUnitsCharged = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quota",
			Name:      "units_charged_total",
			Help:      "Quota units committed to principals",
		},
	)

	// Publishing
	PublishAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "attempts_total",
			Help:      "Destination publish attempts by resulting state",
		},
		[]string{"destination", "state", "class"},
	)

	PublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "attempt_duration_seconds",
			Help:      "Destination publish call duration in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"destination"},
	)

	ItemsFinalizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "items_finalized_total",
			Help:      "Scheduled items that reached a terminal or retrying status",
		},
		[]string{"status"},
	)

	// Scheduler
	SchedulerClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "claims_total",
			Help:      "Scheduler poll results",
		},
		[]string{"result"}, // claimed, empty, error
	)

	SchedulerActiveDispatches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "active_dispatches",
			Help:      "Items currently being dispatched by this process",
		},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTP records one served request.
func ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// ObserveGeneration records one generation call. class is "ok" on success.
func ObserveGeneration(provider, capability, class string, elapsed time.Duration) {
	LLMCallTotal.WithLabelValues(provider, capability, class).Inc()
	LLMCallDuration.WithLabelValues(provider, capability).Observe(elapsed.Seconds())
}

// ObserveTokens adds metered token usage.
func ObserveTokens(provider, model string, input, output int) {
	if input > 0 {
		LLMTokensUsed.WithLabelValues(provider, model, "input").Add(float64(input))
	}
	if output > 0 {
		LLMTokensUsed.WithLabelValues(provider, model, "output").Add(float64(output))
	}
}

// ObservePublish records one destination attempt.
func ObservePublish(destination, state, class string, elapsed time.Duration) {
	PublishAttemptsTotal.WithLabelValues(destination, state, class).Inc()
	PublishDuration.WithLabelValues(destination).Observe(elapsed.Seconds())
}
