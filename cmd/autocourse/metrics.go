package main

import (
	"context"
	"time"

	"github.com/nadmax/autocourse/internal/metrics"
	"github.com/nadmax/autocourse/internal/task"
)

const metricsInterval = 10 * time.Second

type taskLister interface {
	List() []task.Task
}

func startMetricsCollector(ctx context.Context, tasks taskLister, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	updateTaskMetrics(tasks)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateTaskMetrics(tasks)
		}
	}
}

func updateTaskMetrics(tasks taskLister) {
	metrics.UpdateTaskGauges(tasks.List())
}
