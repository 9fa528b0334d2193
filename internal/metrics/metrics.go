// Package metrics provides Prometheus metrics for monitoring batch and item processing.
package metrics

import (
	"time"

	"github.com/nadmax/autocourse/internal/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ItemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autocourse_items_processed_total",
			Help: "Total number of items handed to a completion handler, by outcome",
		},
		[]string{"type", "outcome"},
	)
	ItemsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autocourse_items_skipped_total",
			Help: "Total number of classified items that were not dispatched",
		},
		[]string{"type"},
	)
	ItemDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autocourse_item_duration_seconds",
			Help:    "Time spent completing one item",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"type", "outcome"},
	)
	BatchesFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autocourse_batches_finished_total",
			Help: "Total number of batches that reached a final status",
		},
		[]string{"type", "status"},
	)
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autocourse_batch_duration_seconds",
			Help:    "Batch wall-clock duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"type", "status"},
	)
	TasksTracked = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "autocourse_tasks_tracked",
			Help: "Current number of tasks held by the registry, by status and type",
		},
		[]string{"status", "type"},
	)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autocourse_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autocourse_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

func RecordItem(itemType string, err error, duration time.Duration) {
	outcome := OutcomeSucceeded
	if err != nil {
		outcome = OutcomeFailed
	}
	ItemsProcessed.WithLabelValues(itemType, outcome).Inc()
	ItemDuration.WithLabelValues(itemType, outcome).Observe(duration.Seconds())
}

func RecordItemSkipped(itemType string, n int) {
	if n <= 0 {
		return
	}
	ItemsSkipped.WithLabelValues(itemType).Add(float64(n))
}

func RecordBatchFinished(taskType task.TaskType, status task.TaskStatus, duration time.Duration) {
	BatchesFinished.WithLabelValues(string(taskType), string(status)).Inc()
	BatchDuration.WithLabelValues(string(taskType), string(status)).Observe(duration.Seconds())
}

func UpdateTaskGauges(tasks []task.Task) {
	TasksTracked.Reset()
	for _, t := range tasks {
		TasksTracked.WithLabelValues(string(t.Status), string(t.Type)).Inc()
	}
}

func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}
