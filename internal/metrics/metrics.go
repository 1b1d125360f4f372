package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace for all bills metrics
const namespace = "bills"

// Registry is the Prometheus registry for all metrics
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

var (
	// WorkerTasksTotal counts tasks handled by the worker by outcome (ok, failed, dropped)
	WorkerTasksTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_tasks_total",
			Help:      "Total number of queue tasks handled by the worker",
		},
		[]string{"task_type", "outcome"},
	)

	// WorkerTaskDuration records how long one task took end to end
	WorkerTaskDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "worker_task_duration_seconds",
			Help:      "Worker task duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"task_type"},
	)

	// PipelineFilesTotal counts processed input files by outcome (ok, error, timeout)
	PipelineFilesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_files_total",
			Help:      "Total number of input files processed",
		},
		[]string{"category", "outcome"},
	)

	// PipelineFileDuration records per-file processing time
	PipelineFileDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_file_duration_seconds",
			Help:      "Per-file processing duration in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 180},
		},
		[]string{"category"},
	)

	// QueueDepth is the number of tasks waiting in the queue
	QueueDepth = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of tasks waiting to be dequeued",
		},
	)

	// BatchTransitions counts batch status changes
	BatchTransitions = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_transitions_total",
			Help:      "Total number of batch status transitions",
		},
		[]string{"from", "to"},
	)
)

// ObserveTask records one worker task.
func ObserveTask(taskType, outcome string, elapsed time.Duration) {
	WorkerTasksTotal.WithLabelValues(taskType, outcome).Inc()
	WorkerTaskDuration.WithLabelValues(taskType).Observe(elapsed.Seconds())
}

// ObserveFile records one per-file unit of a PROCESS_BATCH run.
func ObserveFile(category, outcome string, elapsed time.Duration) {
	PipelineFilesTotal.WithLabelValues(category, outcome).Inc()
	PipelineFileDuration.WithLabelValues(category).Observe(elapsed.Seconds())
}

// Handler exposes Registry over HTTP.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
