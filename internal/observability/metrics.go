// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the notebook server.
package observability

import "github.com/prometheus/client_golang/prometheus"

// ExecutionBuckets spans quick cells up to the five minute execution ceiling.
var ExecutionBuckets = []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300}

var (
	// ExecutionsTotal counts executions by final status (ok, error, timeout).
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notebook_executions_total",
			Help: "Code executions by final status",
		},
		[]string{"status"},
	)

	// ExecutionDuration records execution wall time in seconds, including
	// time spent waiting for the kernel.
	ExecutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notebook_execution_duration_seconds",
			Help:    "Code execution duration",
			Buckets: ExecutionBuckets,
		},
	)

	// KernelRestartsTotal counts restarts by trigger (explicit, implicit) and result (ok, error).
	KernelRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notebook_kernel_restarts_total",
			Help: "Kernel restarts",
		},
		[]string{"trigger", "result"},
	)

	// KernelUp is 1 while an interpreter is running.
	KernelUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notebook_kernel_up",
			Help: "Whether the kernel is running",
		},
	)

	// RequestsTotal counts HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notebook_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by method.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notebook_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: ExecutionBuckets,
		},
		[]string{"method"},
	)

	// ChatStreamsActive tracks chat completions currently being relayed.
	ChatStreamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notebook_chat_streams_active",
			Help: "Active chat completion streams",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ExecutionsTotal,
		ExecutionDuration,
		KernelRestartsTotal,
		KernelUp,
		RequestsTotal,
		RequestDuration,
		ChatStreamsActive,
	)
}
