package metrics

import (
	"context"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// RuntimeMetrics samples the Go runtime on every collection.
type RuntimeMetrics struct {
	started time.Time
}

func NewRuntimeMetrics(ctx context.Context, meter metric.Meter) (*RuntimeMetrics, error) {
	rm := &RuntimeMetrics{started: time.Now()}

	goroutines, err := meter.Int64ObservableGauge("process.goroutines",
		metric.WithDescription("Live goroutines"), metric.WithUnit("{goroutine}"))
	if err != nil {
		return nil, err
	}
	heap, err := meter.Int64ObservableGauge("process.memory.heap",
		metric.WithDescription("Heap bytes in use"), metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}
	gcCycles, err := meter.Int64ObservableCounter("process.gc.cycles",
		metric.WithDescription("Completed GC cycles"), metric.WithUnit("{cycle}"))
	if err != nil {
		return nil, err
	}
	gcPause, err := meter.Float64ObservableCounter("process.gc.pause",
		metric.WithDescription("Cumulative stop-the-world pause"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	uptime, err := meter.Float64ObservableCounter("greenmarket.uptime",
		metric.WithDescription("Seconds since the service started"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		o.ObserveInt64(goroutines, int64(runtime.NumGoroutine()))
		o.ObserveInt64(heap, int64(ms.HeapInuse))
		o.ObserveInt64(gcCycles, int64(ms.NumGC))
		o.ObserveFloat64(gcPause, time.Duration(ms.PauseTotalNs).Seconds())
		o.ObserveFloat64(uptime, time.Since(rm.started).Seconds())
		return nil
	}, goroutines, heap, gcCycles, gcPause, uptime)
	if err != nil {
		return nil, err
	}
	return rm, nil
}

