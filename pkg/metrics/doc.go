/*
Package metrics provides Prometheus metrics collection and exposition for the
work queue manager.

All metrics are registered at package init via prometheus.MustRegister and
exposed over HTTP via Handler() for scraping.

# Metrics Catalog

wq_workers_total{state}:
  - Gauge. Connected workers by state (ready/busy/draining/gone).

wq_tasks_ready:
  - Gauge. Depth of the ready queue.

wq_tasks_total{result}:
  - Counter. Tasks by result label (submitted/success/failed).

wq_dispatch_latency_seconds:
  - Histogram. Wall time of one scheduling pass.

wq_task_wait_duration_seconds:
  - Histogram. Time a task spent Ready before dispatch.

wq_cache_materializations_total{kind,outcome}:
  - Counter. Cache builds by kind (url/command/pushed) and outcome.

wq_cache_materialization_duration_seconds{kind}:
  - Histogram. Materialization latency by kind.

wq_cache_waiters:
  - Gauge. Tasks currently blocked on an in-flight materialization.

wq_category_histogram_observations_total{category,resource}:
  - Counter. Resource samples folded into a category's histogram.

wq_category_overflows_total{category,label}:
  - Counter. Resource-overflow retries by category and retry label.

wq_category_steady_state{category}:
  - Gauge. 1 once a category's steady-state condition holds.

wq_auth_attempts_total{method,outcome}:
  - Counter. Auth chain negotiations by method and outcome.

# Usage

	timer := metrics.NewTimer()
	runSchedulingPass()
	timer.ObserveDuration(metrics.DispatchLatency)

	metrics.TasksTotal.WithLabelValues("success").Inc()

	http.Handle("/metrics", metrics.Handler())

# Design Patterns

Package Init Registration:
  - All metrics registered in init(); MustRegister panics on duplicate names.

Label Discipline:
  - Labels are bounded (state, kind, result, category name) — never task IDs
    or timestamps.
*/
package metrics
