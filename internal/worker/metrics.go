package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsTasksReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storybook_worker_tasks_received_total",
		Help: "Total number of generation tasks received from the queue.",
	})
	metricsTasksCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storybook_worker_tasks_completed_total",
		Help: "Total number of generation tasks completed successfully.",
	})
	metricsTasksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storybook_worker_tasks_failed_total",
		Help: "Total number of generation tasks that failed, by reason.",
	}, []string{"reason"})
	metricsTaskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "storybook_worker_task_duration_seconds",
		Help:    "Histogram of generation task processing durations.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s ... ~4m
	})
)

func metricsTaskFailed(reason string) {
	metricsTasksFailed.With(prometheus.Labels{"reason": reason}).Inc()
}
