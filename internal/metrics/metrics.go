// Package metrics holds the Prometheus collectors exported by yolocloud.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Task results.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultTimeout = "timeout"
	ResultPanic   = "panic"
)

// Metrics groups the collectors. A nil *Metrics records nothing.
type Metrics struct {
	tasks      *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	vmsCreated prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "yolocloud",
			Name:      "tasks_total",
			Help:      "Lifecycle tasks executed, by task name and result.",
		}, []string{"task", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "yolocloud",
			Name:      "task_duration_seconds",
			Help:      "Lifecycle task execution time.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"task"}),
		vmsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "yolocloud",
			Name:      "vms_created_total",
			Help:      "VM records created by admission.",
		}),
	}
	reg.MustRegister(m.tasks, m.duration, m.vmsCreated)
	return m
}

// ObserveTask records one finished task.
func (m *Metrics) ObserveTask(task, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(task, result).Inc()
	m.duration.WithLabelValues(task).Observe(elapsed.Seconds())
}

// VMCreated counts one admitted VM.
func (m *Metrics) VMCreated() {
	if m == nil {
		return
	}
	m.vmsCreated.Inc()
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
