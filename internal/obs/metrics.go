// Copyright 2025 James Ross
package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mammothbox/mammothbox/internal/config"
)

var (
	JobsEnqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mammothbox_jobs_enqueued_total",
		Help: "Total number of ingestion jobs enqueued",
	})
	JobsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mammothbox_jobs_consumed_total",
		Help: "Total number of jobs dequeued by workers",
	})
	JobsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mammothbox_jobs_completed_total",
		Help: "Total number of jobs that completed successfully",
	})
	JobsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mammothbox_jobs_failed_total",
		Help: "Total number of jobs that failed processing",
	})
	JobsRetried = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mammothbox_jobs_retried_total",
		Help: "Total number of job retry attempts",
	})
	JobsDeadLettered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mammothbox_jobs_dead_lettered_total",
		Help: "Total number of jobs moved to the dead letter queue",
	})
	JobProcessingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mammothbox_job_processing_duration_seconds",
		Help:    "Histogram of job processing durations",
		Buckets: prometheus.DefBuckets,
	})
	QueueLength = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mammothbox_queue_length",
		Help: "Current number of ready/pending jobs",
	}, []string{"queue"})
	SchemaDecisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mammothbox_schema_decisions_total",
		Help: "Count of schema decisions by storage choice",
	}, []string{"storage_choice"})
	ClustersMerged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mammothbox_clusters_merged_total",
		Help: "Total number of cluster merge operations performed",
	})
	CircuitBreakerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mammothbox_circuit_breaker_state",
		Help: "0 Closed, 1 HalfOpen, 2 Open",
	})
	CircuitBreakerTrips = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mammothbox_circuit_breaker_trips_total",
		Help: "Count of times the circuit breaker transitioned to Open",
	})
	WorkerActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mammothbox_worker_active",
		Help: "Number of active worker goroutines",
	})
)

func init() {
	prometheus.MustRegister(
		JobsEnqueued, JobsConsumed, JobsCompleted, JobsFailed, JobsRetried, JobsDeadLettered,
		JobProcessingDuration, QueueLength, SchemaDecisionsTotal, ClustersMerged,
		CircuitBreakerState, CircuitBreakerTrips, WorkerActive,
	)
}

// StartMetricsServer exposes /metrics on its own listener. Most deployments
// should prefer StartHTTPServer, which bundles health endpoints alongside it.
func StartMetricsServer(cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
