// Package metrics registers the Prometheus series this system exports,
// adapted from the teacher's internal/metrics/metrics.go: same
// counter/gauge/histogram shapes, registered once at package init via
// promauto on the default registry, with every series renamed from the teacher's log_capturer_* prefix to
// structlog_* and trimmed to what pkg/structlog, pkg/sinklog,
// pkg/circuit, and pkg/backpressure actually emit.
package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

var (
	// SinkDropsTotal counts drop reports from sinks whose buffered
	// channel was full, labeled by sink name (spec §5's
	// structlog_sink_drops_total). A sink reports at most once per second,
	// so this counts reports, not individual dropped records.
	SinkDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "structlog_sink_drops_total",
			Help: "Total number of records dropped due to a full sink buffer",
		},
		[]string{"sink"},
	)

	// RecordsEmittedTotal counts records that completed the pipeline and
	// reached at least one sink, labeled by level.
	RecordsEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "structlog_records_emitted_total",
			Help: "Total number of log records emitted by level",
		},
		[]string{"level"},
	)

	// SerializerFailuresTotal counts keys whose serializer render failed
	// (panic or deadline) and were replaced with a placeholder.
	SerializerFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "structlog_serializer_failures_total",
			Help: "Total number of serializer render failures",
		},
		[]string{"key"},
	)

	// CircuitBreakerState exports a breaker's current state (0=closed,
	// 1=open, 2=half-open, matching pkg/circuit.State's iota order),
	// labeled by breaker name.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "structlog_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"name"},
	)

	// BackpressureLevel exports the current backpressure.Level (0-4).
	BackpressureLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "structlog_backpressure_level",
		Help: "Current backpressure level (0=none .. 4=critical)",
	})

	// DLQEntriesTotal counts entries written to the dead-letter queue.
	DLQEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "structlog_dlq_entries_total",
			Help: "Total number of entries written to the dead-letter queue",
		},
		[]string{"failed_sink"},
	)

	// GoroutinesGauge tracks runtime.NumGoroutine(), refreshed by
	// Collector.Run.
	GoroutinesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "structlog_goroutines",
		Help: "Current number of goroutines",
	})

	// MemoryUsageBytes tracks process memory, labeled by the
	// runtime.MemStats field it reflects.
	MemoryUsageBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "structlog_memory_usage_bytes",
			Help: "Current process memory usage",
		},
		[]string{"kind"},
	)

	// CPUUsagePercent tracks host CPU utilization sampled via gopsutil.
	CPUUsagePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "structlog_cpu_usage_percent",
		Help: "Current host CPU utilization percentage",
	})
)

// Collector periodically refreshes the runtime/host gauges
// (Goroutines, MemoryUsageBytes, CPUUsagePercent), adapted from the
// teacher's EnhancedMetrics.UpdateSystemMetrics/systemMetricsLoop.
type Collector struct {
	Interval time.Duration
}

// NewCollector constructs a Collector. A zero Interval defaults to 15s.
func NewCollector(interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{Interval: interval}
}

// Sample refreshes every runtime/host gauge once.
func (c *Collector) Sample() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsageBytes.WithLabelValues("heap_alloc").Set(float64(m.HeapAlloc))
	MemoryUsageBytes.WithLabelValues("heap_sys").Set(float64(m.HeapSys))
	MemoryUsageBytes.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
	GoroutinesGauge.Set(float64(runtime.NumGoroutine()))

	if vm, err := mem.VirtualMemory(); err == nil {
		MemoryUsageBytes.WithLabelValues("host_used").Set(float64(vm.Used))
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		CPUUsagePercent.Set(percents[0])
	}
}

// Run samples on Interval until done is closed.
func (c *Collector) Run(done <-chan struct{}) {
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Sample()
		case <-done:
			return
		}
	}
}

// SinkDropCounter adapts SinkDropsTotal to the structlog.DropCounter
// interface without pkg/structlog importing this package directly (it
// receives an implementation of the interface instead).
type SinkDropCounter struct{}

func (SinkDropCounter) IncSinkDrops(sinkName string) {
	SinkDropsTotal.WithLabelValues(sinkName).Inc()
}

// SerializerFailureCounter adapts SerializerFailuresTotal to
// pkg/serializer's FailureCounter interface.
type SerializerFailureCounter struct{}

func (SerializerFailureCounter) IncSerializerFailures(key string) {
	SerializerFailuresTotal.WithLabelValues(key).Inc()
}

// RecordEmitCounter adapts RecordsEmittedTotal to pkg/structlog's
// RecordCounter interface.
type RecordEmitCounter struct{}

func (RecordEmitCounter) IncRecordsEmitted(level string) {
	RecordsEmittedTotal.WithLabelValues(level).Inc()
}

// DLQEntryCounter adapts DLQEntriesTotal to pkg/dlq's EntryCounter
// interface.
type DLQEntryCounter struct{}

func (DLQEntryCounter) IncDLQEntries(failedSink string) {
	DLQEntriesTotal.WithLabelValues(failedSink).Inc()
}
