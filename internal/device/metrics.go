package device

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gemm_device_submissions_total",
		Help: "Total number of kernels submitted to a device queue",
	}, []string{"kind", "status"})

	kernelSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gemm_device_kernel_seconds",
		Help:    "Device-side kernel execution time, submission to completion",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 12),
	}, []string{"kind"})

	workItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gemm_device_work_items_total",
		Help: "Total number of output coordinates computed",
	}, []string{"kind"})

	deviceBufferBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gemm_device_buffer_bytes",
		Help: "Bytes currently allocated in device-resident buffers",
	}, []string{"kind"})
)

func recordSubmission(kind Kind, n int, seconds float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	submissions.WithLabelValues(kind.String(), status).Inc()
	if err == nil {
		kernelSeconds.WithLabelValues(kind.String()).Observe(seconds)
		workItems.WithLabelValues(kind.String()).Add(float64(n) * float64(n))
	}
}
