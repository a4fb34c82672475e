package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EndpointResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gpurt_endpoint_responses_total",
		Help: "The total number of introspection API responses",
	}, []string{"endpoint", "status_code"})

	// Device memory accounting, per engine
	DeviceMemoryUsed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gpurt_device_memory_used_bytes",
		Help: "Device memory currently allocated through the engine in bytes",
	}, []string{"engine"})

	DeviceMemoryPeak = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gpurt_device_memory_peak_bytes",
		Help: "Highest device memory usage observed by the engine in bytes",
	}, []string{"engine"})

	PoolRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gpurt_pool_requests_total",
		Help: "Memory pool requests by result (hit, miss, bypass)",
	}, []string{"engine", "result"})

	Allocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gpurt_allocations_total",
		Help: "Device allocations by backend and allocation type",
	}, []string{"backend", "alloc_type"})

	// Dispatch
	KernelDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gpurt_kernel_dispatch_total",
		Help: "Kernels enqueued by backend",
	}, []string{"backend"})

	KernelExecutionSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gpurt_kernel_execution_seconds",
		Help:    "Execution time of profiled output kernels",
		Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12), // 1us to ~4s
	}, []string{"backend", "kernel"})
)
