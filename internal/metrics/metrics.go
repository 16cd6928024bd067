// Package metrics exposes C11: Prometheus counters and histograms on a
// private registry, served only when the caller explicitly opts in via
// --metrics-addr (see cmd/parallel). Grounded on the teacher's
// github.com/prometheus/client_golang dependency, used in divinesense's own
// ai/metrics package for request counters — rewired here with this
// module's own metric names.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every gauge/counter/histogram this module publishes.
type Metrics struct {
	Registry       *prometheus.Registry
	TasksTotal     *prometheus.CounterVec
	TaskDuration   *prometheus.HistogramVec
	PoolInFlight   *prometheus.GaugeVec
	DagNodeTotal   *prometheus.CounterVec
	ReviewIterations prometheus.Histogram
}

// New constructs and registers every metric on a fresh private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parallel_tasks_total",
			Help: "Total agent tasks executed, by mode and terminal status.",
		}, []string{"mode", "status"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parallel_task_duration_seconds",
			Help:    "Per-task wall-clock duration, by mode.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),
		PoolInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "parallel_pool_inflight",
			Help: "Currently in-flight agent subprocesses, by mode.",
		}, []string{"mode"}),
		DagNodeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parallel_dag_node_total",
			Help: "Team-mode DAG nodes reaching a terminal status.",
		}, []string{"status"}),
		ReviewIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "parallel_review_iterations",
			Help:    "Number of review iterations consumed per reviewed task.",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),
	}
	reg.MustRegister(m.TasksTotal, m.TaskDuration, m.PoolInFlight, m.DagNodeTotal, m.ReviewIterations)
	return m
}

// Serve starts an HTTP server exposing /metrics on addr, stopping when ctx
// is cancelled. It runs in the caller's goroutine — callers invoke it with
// `go metrics.Serve(...)`.
func Serve(ctx context.Context, addr string, m *Metrics) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
