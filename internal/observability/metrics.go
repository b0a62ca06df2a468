package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shellpool",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shellpool",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	poolSpawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shellpool",
			Subsystem: "pool",
			Name:      "spawns_total",
			Help:      "Shell subprocesses spawned.",
		},
		[]string{"kind"},
	)
	poolResets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shellpool",
			Subsystem: "pool",
			Name:      "killed_total",
			Help:      "Shell subprocesses killed by pool reset.",
		},
		[]string{"kind"},
	)
	poolLive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "shellpool",
			Subsystem: "pool",
			Name:      "processes",
			Help:      "Live shell subprocesses tracked by the pool.",
		},
		[]string{"kind"},
	)
	executions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shellpool",
			Subsystem: "exec",
			Name:      "batches_total",
			Help:      "Command batches executed.",
		},
		[]string{"kind", "outcome"},
	)
	executionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shellpool",
			Subsystem: "exec",
			Name:      "batch_duration_seconds",
			Help:      "Command batch duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind", "outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			poolSpawns,
			poolResets,
			poolLive,
			executions,
			executionDuration,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordSpawn(kind string) {
	RegisterMetrics()
	poolSpawns.WithLabelValues(kind).Inc()
}

func RecordReset(kind string, killed int) {
	RegisterMetrics()
	poolResets.WithLabelValues(kind).Add(float64(killed))
}

func SetLiveProcesses(kind string, n int) {
	RegisterMetrics()
	poolLive.WithLabelValues(kind).Set(float64(n))
}

func RecordExecution(kind, outcome string, duration time.Duration) {
	RegisterMetrics()
	executions.WithLabelValues(kind, outcome).Inc()
	executionDuration.WithLabelValues(kind, outcome).Observe(duration.Seconds())
}
