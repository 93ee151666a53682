// Package metrics provides Prometheus metrics for PiWardrive: counters,
// gauges, and histograms for the task queue, poll scheduler, health
// collector, tile cache, remote sync, and API surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Task Queue ─────────────────────────────────────────────────────────────

// QueueLatency tracks enqueue→start latency in seconds.
var QueueLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "piwardrive",
	Name:      "queue_latency_seconds",
	Help:      "Time from task enqueue to execution start.",
	Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
})

// TaskDuration tracks start→end run duration in seconds.
var TaskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "piwardrive",
	Name:      "task_duration_seconds",
	Help:      "Task body execution duration.",
	Buckets:   prometheus.DefBuckets,
})

// QueueDepth tracks the current per-state task counts.
var QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "piwardrive",
	Name:      "queue_depth",
	Help:      "Current number of tasks by state (pending, running).",
}, []string{"state"})

// TasksTotal tracks terminal outcomes by state (completed, failed,
// cancelled, dropped, expired).
var TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "piwardrive",
	Name:      "tasks_total",
	Help:      "Total tasks reaching a terminal state, by outcome.",
}, []string{"outcome"})

// ─── Poll Scheduler ─────────────────────────────────────────────────────────

// JobDuration tracks per-job body execution duration.
var JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "piwardrive",
	Name:      "job_duration_seconds",
	Help:      "Scheduled job body execution duration.",
	Buckets:   prometheus.DefBuckets,
}, []string{"job"})

// JobFailures counts every failed job invocation.
var JobFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "piwardrive",
	Name:      "job_failures_total",
	Help:      "Total job body failures.",
}, []string{"job"})

// JobDisabled tracks current enabled/disabled state (1=disabled).
var JobDisabled = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "piwardrive",
	Name:      "job_disabled",
	Help:      "1 if job is disabled after consecutive failures, else 0.",
}, []string{"job"})

// ─── Health Collector ───────────────────────────────────────────────────────

// CPUTemperature tracks CPU temperature in Celsius.
var CPUTemperature = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "piwardrive",
	Name:      "cpu_temperature_celsius",
	Help:      "Current CPU temperature in Celsius.",
})

// CPUUsage tracks CPU usage percentage.
var CPUUsage = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "piwardrive",
	Name:      "cpu_usage_percent",
	Help:      "Current CPU usage percentage.",
})

// MemoryUsage tracks memory usage percentage.
var MemoryUsage = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "piwardrive",
	Name:      "memory_usage_percent",
	Help:      "Current memory usage percentage.",
})

// DiskUsage tracks disk usage percentage.
var DiskUsage = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "piwardrive",
	Name:      "disk_usage_percent",
	Help:      "Current disk usage percentage.",
})

// InterfaceThroughput tracks bytes/sec per interface and direction.
var InterfaceThroughput = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "piwardrive",
	Name:      "interface_throughput_bytes_per_second",
	Help:      "Current network throughput per interface and direction.",
}, []string{"interface", "direction"})

// ServiceStatus tracks external scanner service liveness (1=up, 0=down).
var ServiceStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "piwardrive",
	Name:      "service_status",
	Help:      "External scanner service liveness (1=up, 0=down).",
}, []string{"service"})

// ServiceCircuitState tracks circuit breaker state per service
// (0=closed, 1=half-open, 2=open).
var ServiceCircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "piwardrive",
	Name:      "service_circuit_state",
	Help:      "Circuit breaker state per service (0=closed, 1=half-open, 2=open).",
}, []string{"service"})

// AlertsTotal tracks anomaly alerts raised, by category.
var AlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "piwardrive",
	Name:      "alerts_total",
	Help:      "Total anomaly alerts raised, by category.",
}, []string{"category"})

// ─── Tile Cache ─────────────────────────────────────────────────────────────

// TilesFetched tracks tile fetch outcomes.
var TilesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "piwardrive",
	Name:      "tiles_fetched_total",
	Help:      "Total tile fetch attempts, by outcome.",
}, []string{"outcome"})

// TileCacheBytes tracks current on-disk cache size.
var TileCacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "piwardrive",
	Name:      "tile_cache_bytes",
	Help:      "Current total size of the on-disk tile cache.",
})

// ─── Remote Sync ────────────────────────────────────────────────────────────

// SyncUploads tracks upload attempts, by outcome.
var SyncUploads = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "piwardrive",
	Name:      "sync_uploads_total",
	Help:      "Total remote sync upload attempts, by outcome.",
}, []string{"outcome"})

// SyncLagRows tracks how many unsynced rows remain per destination.
var SyncLagRows = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "piwardrive",
	Name:      "sync_lag_rows",
	Help:      "Rows not yet synced to destination.",
}, []string{"destination"})

// ─── API Surface ────────────────────────────────────────────────────────────

// HTTPRequests tracks HTTP requests by route and status code.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "piwardrive",
	Name:      "http_requests_total",
	Help:      "Total HTTP requests, by route and status code.",
}, []string{"route", "status"})

// HTTPLatency tracks HTTP handler latency by route.
var HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "piwardrive",
	Name:      "http_request_duration_seconds",
	Help:      "HTTP handler duration, by route.",
	Buckets:   prometheus.DefBuckets,
}, []string{"route"})

// WSConnections tracks current active WebSocket and SSE subscribers.
var WSConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "piwardrive",
	Name:      "ws_connections",
	Help:      "Current active WebSocket and SSE subscribers, by topic.",
}, []string{"topic"})
