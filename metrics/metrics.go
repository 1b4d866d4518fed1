// Package metrics holds the Prometheus collectors of the job system.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ragjobs_jobs_submitted_total", Help: "Jobs accepted by the worker pool"}, []string{"type"})
	JobsRejected  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ragjobs_jobs_rejected_total", Help: "Jobs refused at submission"}, []string{"type"})
	JobsStarted   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ragjobs_jobs_started_total", Help: "Jobs moved to PROCESSING"}, []string{"type"})
	JobsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ragjobs_jobs_completed_total", Help: "Jobs finished successfully"}, []string{"type"})
	JobsFailed    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ragjobs_jobs_failed_total", Help: "Jobs finished in FAILED, by failure origin"}, []string{"type", "kind"})
	JobDuration   = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ragjobs_job_duration_seconds",
		Help:    "Wall time from start to terminal state",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
	}, []string{"type", "status"})
	JobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{Name: "ragjobs_jobs_inflight", Help: "Jobs currently executing"})
	QueueDepth   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "ragjobs_queue_depth", Help: "Submitted jobs waiting for a worker"})

	CleanupDeleted  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ragjobs_cleanup_deleted_total", Help: "Records removed by the cleanup sweep"}, []string{"kind"})
	CleanupFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "ragjobs_cleanup_failures_total", Help: "Cleanup sweeps that returned an error"})
)

// Register adds every collector to the default registry once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			JobsRejected,
			JobsStarted,
			JobsCompleted,
			JobsFailed,
			JobDuration,
			JobsInFlight,
			QueueDepth,
			CleanupDeleted,
			CleanupFailures,
		)
	})
}

// Handler exposes the /metrics HTTP handler with the collectors registered.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}
