package infrastructure

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Gauge is a sampled value outside the Go runtime, such as open database
// connections or connected dashboard clients.
type Gauge func() int64

// SystemMetrics samples process health on an interval
type SystemMetrics struct {
	goroutines metric.Int64Gauge
	heapBytes  metric.Int64Gauge
	uptime     metric.Float64Gauge
	probes     metric.Int64Gauge

	gauges    map[string]Gauge
	startTime time.Time
	interval  time.Duration

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// SystemStats is one sample
type SystemStats struct {
	Goroutines int64            `json:"goroutines"`
	HeapBytes  int64            `json:"heap_bytes"`
	Uptime     time.Duration    `json:"uptime"`
	Gauges     map[string]int64 `json:"gauges"`
	Timestamp  time.Time        `json:"timestamp"`
}

// NewSystemMetrics registers the process gauges. Each entry of gauges is
// reported under system_resource{resource=name}.
func NewSystemMetrics(meter metric.Meter, interval time.Duration, gauges map[string]Gauge) (*SystemMetrics, error) {
	goroutines, err := meter.Int64Gauge(
		"system_goroutines",
		metric.WithDescription("Number of active goroutines"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create goroutine gauge: %w", err)
	}

	heapBytes, err := meter.Int64Gauge(
		"system_heap_bytes",
		metric.WithDescription("Heap bytes in use"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create heap gauge: %w", err)
	}

	uptime, err := meter.Float64Gauge(
		"system_process_uptime_seconds",
		metric.WithDescription("Process uptime in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create uptime gauge: %w", err)
	}

	probes, err := meter.Int64Gauge(
		"system_resource",
		metric.WithDescription("Sampled resource counts by name"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource gauge: %w", err)
	}

	if interval <= 0 {
		interval = 15 * time.Second
	}
	if gauges == nil {
		gauges = map[string]Gauge{}
	}

	return &SystemMetrics{
		goroutines: goroutines,
		heapBytes:  heapBytes,
		uptime:     uptime,
		probes:     probes,
		gauges:     gauges,
		startTime:  time.Now(),
		interval:   interval,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// Collect takes one sample and records it
func (sm *SystemMetrics) Collect(ctx context.Context) *SystemStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	stats := &SystemStats{
		Goroutines: int64(runtime.NumGoroutine()),
		HeapBytes:  int64(mem.HeapInuse),
		Uptime:     time.Since(sm.startTime),
		Gauges:     make(map[string]int64, len(sm.gauges)),
		Timestamp:  time.Now(),
	}

	sm.goroutines.Record(ctx, stats.Goroutines)
	sm.heapBytes.Record(ctx, stats.HeapBytes)
	sm.uptime.Record(ctx, stats.Uptime.Seconds())

	for name, g := range sm.gauges {
		v := g()
		stats.Gauges[name] = v
		sm.probes.Record(ctx, v, metric.WithAttributes(attribute.String("resource", name)))
	}

	return stats
}

// Start samples until Stop is called or ctx ends
func (sm *SystemMetrics) Start(ctx context.Context) {
	if !sm.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(sm.done)

		ticker := time.NewTicker(sm.interval)
		defer ticker.Stop()

		sm.Collect(ctx)
		for {
			select {
			case <-ticker.C:
				sm.Collect(ctx)
			case <-sm.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends sampling and waits for the loop to exit. Safe to call more than once.
func (sm *SystemMetrics) Stop() {
	sm.stopOnce.Do(func() {
		close(sm.stopCh)
	})
	if sm.started.Load() {
		<-sm.done
	}
}
