package matmul

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gemm_dispatches_total",
		Help: "Total number of matrix multiply dispatches by label and status",
	}, []string{"label", "status"})

	dispatchSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gemm_dispatch_duration_seconds",
		Help:    "Wall clock time from submission to completion of a dispatch",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 12),
	}, []string{"label"})

	hostBufferBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gemm_host_buffer_bytes",
		Help: "Bytes currently held by in-flight matrix buffers",
	})
)
