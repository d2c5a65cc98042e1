package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker table metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wq_workers_total",
			Help: "Total number of connected workers by state",
		},
		[]string{"state"},
	)

	// Task queue metrics
	TasksReady = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wq_tasks_ready",
			Help: "Number of tasks currently in the ready queue",
		},
	)

	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wq_tasks_total",
			Help: "Total number of tasks submitted, succeeded, and failed, by result label",
		},
		[]string{"result"},
	)

	DispatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wq_dispatch_latency_seconds",
			Help:    "Time taken to run one scheduling pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	TaskWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wq_task_wait_duration_seconds",
			Help:    "Time a task spent Ready before being dispatched",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Cache metrics
	CacheMaterializations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wq_cache_materializations_total",
			Help: "Total number of cache materializations by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	CacheMaterializationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wq_cache_materialization_duration_seconds",
			Help:    "Time taken to materialize a cache object, by kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	CacheWaiters = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wq_cache_waiters",
			Help: "Number of tasks currently blocked waiting on an in-progress materialization",
		},
	)

	// Category / resource engine metrics
	CategoryHistogramObservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wq_category_histogram_observations_total",
			Help: "Total number of resource samples folded into a category histogram",
		},
		[]string{"category", "resource"},
	)

	CategoryOverflows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wq_category_overflows_total",
			Help: "Total number of resource overflow retries by category and label",
		},
		[]string{"category", "label"},
	)

	CategorySteadyState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wq_category_steady_state",
			Help: "Whether a category has reached steady state (1) or not (0)",
		},
		[]string{"category"},
	)

	// Auth chain metrics
	AuthAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wq_auth_attempts_total",
			Help: "Total number of auth chain negotiations by method and outcome",
		},
		[]string{"method", "outcome"},
	)

	// WorkersActive is a periodic resync of the live worker-table size,
	// a cross-check against the incremental WorkersTotal counters.
	WorkersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wq_workers_active",
			Help: "Current number of workers in the manager's worker table",
		},
	)

	TasksWaiting = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wq_tasks_waiting",
			Help: "Current number of tasks in the ready queue",
		},
	)
)

func init() {
	prometheus.MustRegister(WorkersTotal)
	prometheus.MustRegister(TasksReady)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(DispatchLatency)
	prometheus.MustRegister(TaskWaitDuration)
	prometheus.MustRegister(CacheMaterializations)
	prometheus.MustRegister(CacheMaterializationDuration)
	prometheus.MustRegister(CacheWaiters)
	prometheus.MustRegister(CategoryHistogramObservations)
	prometheus.MustRegister(CategoryOverflows)
	prometheus.MustRegister(CategorySteadyState)
	prometheus.MustRegister(AuthAttempts)
	prometheus.MustRegister(WorkersActive)
	prometheus.MustRegister(TasksWaiting)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
