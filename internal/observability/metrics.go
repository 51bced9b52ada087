package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	activeSessions prometheus.Gauge
	sessionsTotal  prometheus.Counter
	sessionsSwept  prometheus.Counter

	invocationTotal    *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	retryAttemptsTotal *prometheus.CounterVec

	compactionTotal        *prometheus.CounterVec
	compactionTurnsDropped prometheus.Counter

	chainAdvanceTotal *prometheus.CounterVec
	runCycleDuration  prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current active session count.",
				},
			),
			sessionsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "sessions_created_total",
					Help: "Total sessions created.",
				},
			),
			sessionsSwept: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "sessions_swept_total",
					Help: "Total sessions removed by retention sweeps.",
				},
			),
			invocationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "model_invocation_total",
					Help: "Total model invocations by provider and status.",
				},
				[]string{"provider", "status"},
			),
			invocationDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "model_invocation_duration_seconds",
					Help:    "Model invocation duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			retryAttemptsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "model_retry_attempts_total",
					Help: "Total retry attempts by provider.",
				},
				[]string{"provider"},
			),
			compactionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "context_compaction_total",
					Help: "Total context compactions by strategy.",
				},
				[]string{"strategy"},
			),
			compactionTurnsDropped: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "context_compaction_turns_dropped_total",
					Help: "Total turns dropped or folded by compaction.",
				},
			),
			chainAdvanceTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chain_transition_total",
					Help: "Total chain transitions by outcome (advance, stay, complete, fail).",
				},
				[]string{"outcome"},
			),
			runCycleDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "run_cycle_duration_seconds",
					Help:    "Full runner cycle duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.sessionsTotal,
			m.sessionsSwept,
			m.invocationTotal,
			m.invocationDuration,
			m.retryAttemptsTotal,
			m.compactionTotal,
			m.compactionTurnsDropped,
			m.chainAdvanceTotal,
			m.runCycleDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordSessionCreated() {
	m := getMetrics()
	m.sessionsTotal.Inc()
}

func RecordSessionsSwept(count int) {
	if count <= 0 {
		return
	}
	getMetrics().sessionsSwept.Add(float64(count))
}

func RecordInvocation(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.invocationTotal.WithLabelValues(provider, status).Inc()
	m.invocationDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordRetryAttempt(provider string) {
	getMetrics().retryAttemptsTotal.WithLabelValues(provider).Inc()
}

func RecordCompaction(strategy string, turnsDropped int) {
	m := getMetrics()
	m.compactionTotal.WithLabelValues(strategy).Inc()
	if turnsDropped > 0 {
		m.compactionTurnsDropped.Add(float64(turnsDropped))
	}
}

func RecordChainTransition(outcome string) {
	getMetrics().chainAdvanceTotal.WithLabelValues(outcome).Inc()
}

func RecordRunCycle(duration time.Duration) {
	getMetrics().runCycleDuration.Observe(duration.Seconds())
}
