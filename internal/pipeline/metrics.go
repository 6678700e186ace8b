package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepthMetric = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_queue_depth",
			Help: "Tasks queued per category",
		},
		[]string{"category"},
	)

	queueRejectedMetric = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_queue_rejected_total",
			Help: "Pushes refused at the hard limit, per category",
		},
		[]string{"category"},
	)

	queueBackedUpMetric = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_queue_backed_up",
			Help: "1 while a category sits above its soft limit",
		},
		[]string{"category"},
	)

	tasksDoneMetric = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_tasks_done_total",
			Help: "Tasks processed to completion, per category",
		},
		[]string{"category"},
	)

	tasksFailedMetric = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_tasks_failed_total",
			Help: "Tasks abandoned after a processor or handler error",
		},
		[]string{"category"},
	)

	categorySwitchMetric = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_category_switches_total",
			Help: "Resource swaps caused by a worker changing category",
		},
		[]string{"worker"},
	)

	workerHeartbeatMetric = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_worker_heartbeat",
			Help: "Unix timestamp of each worker's last heartbeat",
		},
		[]string{"worker"},
	)
)
