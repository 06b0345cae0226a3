package infrastructure

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// DefaultProcessMetricsInterval is how often the serve process samples itself
const DefaultProcessMetricsInterval = 15 * time.Second

// ProcessMetrics records runtime gauges for the long-running license service
type ProcessMetrics struct {
	goroutines    metric.Int64Gauge
	heapAlloc     metric.Int64Gauge
	memorySystem  metric.Int64Gauge
	gcCount       metric.Int64Gauge
	processUptime metric.Float64Gauge
}

// ProcessStats is one sample of the process
type ProcessStats struct {
	Goroutines   int
	HeapAlloc    uint64
	MemorySystem uint64
	NumGC        uint32
	Uptime       time.Duration
}

// NewProcessMetrics creates the runtime instruments on meter
func NewProcessMetrics(meter metric.Meter) (*ProcessMetrics, error) {
	goroutines, err := meter.Int64Gauge(
		"process_goroutines",
		metric.WithDescription("Number of active goroutines"),
	)
	if err != nil {
		return nil, err
	}

	heapAlloc, err := meter.Int64Gauge(
		"process_heap_alloc_bytes",
		metric.WithDescription("Heap bytes allocated and still in use"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	memorySystem, err := meter.Int64Gauge(
		"process_memory_system_bytes",
		metric.WithDescription("Memory obtained from the OS in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	gcCount, err := meter.Int64Gauge(
		"process_gc_cycles",
		metric.WithDescription("Completed garbage collection cycles"),
	)
	if err != nil {
		return nil, err
	}

	processUptime, err := meter.Float64Gauge(
		"process_uptime_seconds",
		metric.WithDescription("Process uptime in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &ProcessMetrics{
		goroutines:    goroutines,
		heapAlloc:     heapAlloc,
		memorySystem:  memorySystem,
		gcCount:       gcCount,
		processUptime: processUptime,
	}, nil
}

// Collect samples the runtime and records the gauges
func (pm *ProcessMetrics) Collect(ctx context.Context, startTime time.Time) ProcessStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	stats := ProcessStats{
		Goroutines:   runtime.NumGoroutine(),
		HeapAlloc:    mem.HeapAlloc,
		MemorySystem: mem.Sys,
		NumGC:        mem.NumGC,
		Uptime:       time.Since(startTime),
	}

	pm.goroutines.Record(ctx, int64(stats.Goroutines))
	pm.heapAlloc.Record(ctx, int64(stats.HeapAlloc))
	pm.memorySystem.Record(ctx, int64(stats.MemorySystem))
	pm.gcCount.Record(ctx, int64(stats.NumGC))
	pm.processUptime.Record(ctx, stats.Uptime.Seconds())
	return stats
}

// ProcessMetricsCollector samples ProcessMetrics on an interval
type ProcessMetricsCollector struct {
	metrics   *ProcessMetrics
	startTime time.Time
	interval  time.Duration
}

// NewProcessMetricsCollector creates a collector on meter
func NewProcessMetricsCollector(meter metric.Meter, interval time.Duration) (*ProcessMetricsCollector, error) {
	metrics, err := NewProcessMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create process metrics: %w", err)
	}
	if interval <= 0 {
		interval = DefaultProcessMetricsInterval
	}

	return &ProcessMetricsCollector{
		metrics:   metrics,
		startTime: time.Now(),
		interval:  interval,
	}, nil
}

// Run collects immediately and then on every tick until ctx is done
func (c *ProcessMetricsCollector) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.metrics.Collect(ctx, c.startTime)
	for {
		select {
		case <-ticker.C:
			c.metrics.Collect(ctx, c.startTime)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Sample records and returns the current stats
func (c *ProcessMetricsCollector) Sample(ctx context.Context) ProcessStats {
	return c.metrics.Collect(ctx, c.startTime)
}
