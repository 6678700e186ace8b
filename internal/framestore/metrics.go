package framestore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesStoredMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "framestore_frames",
		Help: "Number of frames currently held by the frame store",
	})

	framesBytesMetric = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "framestore_bytes",
		Help: "Bytes of frame data currently held by the frame store",
	})

	framesEvictedMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "framestore_evicted_total",
		Help: "Frames evicted after their reference count reached zero",
	})
)
