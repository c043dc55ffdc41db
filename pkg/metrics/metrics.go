package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triage_messages_total",
			Help: "Total number of messages handled by the triage pipeline (count)",
		},
		[]string{"status"},
	)

	DedupChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_checks_total",
			Help: "Total number of duplicate-guard checks (count)",
		},
		[]string{"status"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_ms",
			Help:    "Duration of a pipeline stage in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"stage", "category", "status"},
	)

	CompletionRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_completion_requests_total",
			Help: "Total number of language-model completion requests (count)",
		},
		[]string{"status"},
	)

	CompletionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_completion_duration_ms",
			Help:    "Duration of language-model completion requests in milliseconds",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"status"},
	)

	DispatchActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_actions_total",
			Help: "Total number of dispatcher side effects performed (count)",
		},
		[]string{"category", "action", "status"},
	)

	OCRImagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ocr_images_total",
			Help: "Total number of message images run through OCR (count)",
		},
		[]string{"status"},
	)

	ScheduledJobsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_jobs_pending",
			Help: "Number of deferred jobs waiting to fire (count)",
		},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of HTTP requests checked by the rate limiter (count)",
		},
		[]string{"status"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failed requests through circuit breaker (count)",
		},
		[]string{"name"},
	)
)

var registered bool

// Register registers every collector with the default registry. Safe to call
// once from app initialization; repeated calls are no-ops.
func Register() {
	if registered {
		return
	}
	registered = true

	prometheus.MustRegister(
		MessagesProcessedTotal,
		DedupChecksTotal,
		StageDuration,
		CompletionRequestsTotal,
		CompletionDuration,
		DispatchActionsTotal,
		OCRImagesTotal,
		ScheduledJobsPending,
		RateLimitRequestsTotal,
		CircuitBreakerState,
		CircuitBreakerRequests,
		CircuitBreakerFailures,
	)
}

func ObserveStage(stage, category, status string, d time.Duration) {
	StageDuration.WithLabelValues(stage, category, status).Observe(float64(d.Milliseconds()))
}

func ObserveCompletion(status string, d time.Duration) {
	CompletionRequestsTotal.WithLabelValues(status).Inc()
	CompletionDuration.WithLabelValues(status).Observe(float64(d.Milliseconds()))
}
