package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	inferenceAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querygate_inference_attempts_total",
			Help: "Total number of inference endpoint attempts by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)
	inferenceLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "querygate_inference_attempt_latency_ms",
			Help:    "Latency of a single inference attempt in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000, 60000},
		},
		[]string{"provider"},
	)
	extractionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querygate_extractions_total",
			Help: "Total number of extracted candidate queries by classification.",
		},
		[]string{"classification"},
	)
	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querygate_executions_total",
			Help: "Total number of guarded executions by outcome.",
		},
		[]string{"outcome"},
	)
	executionLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "querygate_execution_latency_ms",
			Help:    "Guarded query execution latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000, 30000},
		},
	)
	diagnosticDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querygate_diagnostic_drops_total",
			Help: "Total number of diagnostic events a sink failed to deliver.",
		},
		[]string{"sink"},
	)
	authFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querygate_auth_failures_total",
			Help: "Total number of rejected API requests by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		inferenceAttemptsTotal,
		inferenceLatencyMs,
		extractionsTotal,
		executionsTotal,
		executionLatencyMs,
		diagnosticDropsTotal,
		authFailuresTotal,
	)
}

func ObserveInferenceAttempt(provider, outcome string, elapsed time.Duration) {
	inferenceAttemptsTotal.WithLabelValues(provider, outcome).Inc()
	inferenceLatencyMs.WithLabelValues(provider).Observe(float64(elapsed.Milliseconds()))
}

func ObserveExtraction(classification string) {
	extractionsTotal.WithLabelValues(classification).Inc()
}

func ObserveExecution(outcome string, elapsed time.Duration) {
	executionsTotal.WithLabelValues(outcome).Inc()
	executionLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func IncrementDiagnosticDrop(sink string) {
	diagnosticDropsTotal.WithLabelValues(sink).Inc()
}

func IncrementAuthFailure(reason string) {
	authFailuresTotal.WithLabelValues(reason).Inc()
}
