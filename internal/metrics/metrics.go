package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	jobsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mlsync",
			Name:      "jobs_enqueued_total",
			Help:      "Sync jobs enqueued by type and priority.",
		},
		[]string{"sync_type", "priority"},
	)

	jobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mlsync",
			Name:      "jobs_finished_total",
			Help:      "Sync jobs finished by type and terminal status.",
		},
		[]string{"sync_type", "status"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mlsync",
			Name:      "job_duration_seconds",
			Help:      "Wall time of sync jobs from claim to terminal state.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800},
		},
		[]string{"sync_type"},
	)

	workersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mlsync",
			Name:      "workers_active",
			Help:      "Workers currently executing a job.",
		},
	)

	mappingsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mlsync",
			Name:      "mappings_created_total",
			Help:      "SKU mappings created by mapping type.",
		},
		[]string{"mapping_type"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mlsync",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			jobsEnqueued,
			jobsFinished,
			jobDuration,
			workersActive,
			mappingsCreated,
			httpRequests,
		)
	})
}

// IncEnqueued counts one enqueued job.
func IncEnqueued(syncType, priority string) {
	jobsEnqueued.WithLabelValues(syncType, priority).Inc()
}

// IncFinished counts one job reaching a terminal status.
func IncFinished(syncType, status string) {
	jobsFinished.WithLabelValues(syncType, status).Inc()
}

// ObserveJobDuration records how long a job ran.
func ObserveJobDuration(syncType string, d time.Duration) {
	jobDuration.WithLabelValues(syncType).Observe(d.Seconds())
}

// WorkerStarted marks one worker as busy.
func WorkerStarted() {
	workersActive.Inc()
}

// WorkerStopped marks one worker as idle again.
func WorkerStopped() {
	workersActive.Dec()
}

// IncMappings counts one created SKU mapping.
func IncMappings(mappingType string) {
	mappingsCreated.WithLabelValues(mappingType).Inc()
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
