// Package metrics exposes Prometheus collectors for the monitor service.
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
	stepsTotal                 *prometheus.CounterVec
	stepDurationSeconds        prometheus.Histogram
	jobTransitionsTotal        *prometheus.CounterVec
	contestedClaimsTotal       prometheus.Counter
	staleReclaimedTotal        prometheus.Counter
	activeSteps                prometheus.Gauge
	aiCallsTotal               *prometheus.CounterVec
	aiPacingWaitSeconds        prometheus.Histogram
	agentItemsTotal            *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		stepsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_worker_steps_total",
				Help: "Total number of worker steps, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		stepDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "monitor_worker_step_duration_seconds",
				Help:    "Histogram of worker step latencies.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
			},
		)

		jobTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_job_transitions_total",
				Help: "Total number of job state transitions, labeled by resulting status.",
			},
			[]string{"status"},
		)

		contestedClaimsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "monitor_contested_claims_total",
				Help: "Claims lost to a concurrent caller.",
			},
		)

		staleReclaimedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "monitor_stale_jobs_reclaimed_total",
				Help: "Jobs reverted from processing to pending after the staleness window.",
			},
		)

		activeSteps = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "monitor_active_steps",
				Help: "Number of worker steps currently processing a job.",
			},
		)

		aiCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_ai_calls_total",
				Help: "Total number of AI service calls, labeled by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		)

		aiPacingWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "monitor_ai_pacing_wait_seconds",
				Help:    "Histogram of waits imposed between AI service calls.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		agentItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_agent_items_total",
				Help: "Items handled by maintenance agents, labeled by agent and outcome.",
			},
			[]string{"agent", "outcome"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveStep records one worker step outcome and its duration.
func ObserveStep(outcome string, duration time.Duration) {
	Init()
	stepsTotal.WithLabelValues(outcome).Inc()
	stepDurationSeconds.Observe(duration.Seconds())
}

// ObserveJobTransition counts a job entering status.
func ObserveJobTransition(status string) {
	Init()
	jobTransitionsTotal.WithLabelValues(status).Inc()
}

// ObserveContestedClaim counts a claim lost to another caller.
func ObserveContestedClaim() {
	Init()
	contestedClaimsTotal.Inc()
}

// ObserveStaleReclaimed counts jobs returned to the queue by the reclaimer.
func ObserveStaleReclaimed(n int) {
	Init()
	if n > 0 {
		staleReclaimedTotal.Add(float64(n))
	}
}

// IncActiveSteps increments the active steps gauge.
func IncActiveSteps() {
	Init()
	activeSteps.Inc()
}

// DecActiveSteps decrements the active steps gauge.
func DecActiveSteps() {
	Init()
	activeSteps.Dec()
}

// ObserveAICall counts one AI service call.
func ObserveAICall(operation string, err error) {
	Init()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	aiCallsTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveAIPacing records how long a caller waited for the AI pacer.
func ObserveAIPacing(wait time.Duration) {
	Init()
	aiPacingWaitSeconds.Observe(wait.Seconds())
}

// ObserveAgentItems counts items handled by a maintenance agent.
func ObserveAgentItems(agent, outcome string, n int) {
	Init()
	if n > 0 {
		agentItemsTotal.WithLabelValues(agent, outcome).Add(float64(n))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
