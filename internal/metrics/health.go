package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var dependencyKey = attribute.Key("dependency")

// HealthMetrics tracks readiness probes of storage and the session store.
type HealthMetrics struct {
	up          metric.Int64ObservableGauge
	probeTime   metric.Float64Histogram
	serviceInfo metric.Int64ObservableGauge

	mu    sync.Mutex
	state map[string]bool
}

func NewHealthMetrics(meter metric.Meter) (*HealthMetrics, error) {
	hm := &HealthMetrics{state: make(map[string]bool)}

	var err error
	hm.up, err = meter.Int64ObservableGauge("greenmarket.dependency.up",
		metric.WithDescription("1 when the last readiness probe of a dependency succeeded"),
		metric.WithUnit("{status}"))
	if err != nil {
		return nil, err
	}

	hm.probeTime, err = meter.Float64Histogram("greenmarket.dependency.probe.duration",
		metric.WithDescription("Readiness probe latency per dependency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2))
	if err != nil {
		return nil, err
	}

	hm.serviceInfo, err = meter.Int64ObservableGauge("greenmarket.info",
		metric.WithDescription("Constant 1 labelled with build metadata"),
		metric.WithUnit("{info}"))
	if err != nil {
		return nil, err
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for name, up := range hm.Snapshot() {
			var v int64
			if up {
				v = 1
			}
			o.ObserveInt64(hm.up, v, metric.WithAttributes(dependencyKey.String(name)))
		}
		return nil
	}, hm.up)
	if err != nil {
		return nil, err
	}
	return hm, nil
}

func (hm *HealthMetrics) RegisterServiceInfo(ctx context.Context, meter metric.Meter, serviceName, version, env string) error {
	attrs := metric.WithAttributes(
		attribute.String("service_name", serviceName),
		attribute.String("version", version),
		attribute.String("environment", env),
	)
	_, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(hm.serviceInfo, 1, attrs)
		return nil
	}, hm.serviceInfo)
	return err
}

// RecordDependencyCheck stores the outcome of one probe.
func (hm *HealthMetrics) RecordDependencyCheck(ctx context.Context, dependency string, duration time.Duration, err error) {
	if hm == nil {
		return
	}
	hm.mu.Lock()
	if hm.state == nil {
		hm.state = make(map[string]bool)
	}
	hm.state[dependency] = err == nil
	hm.mu.Unlock()

	if hm.probeTime != nil {
		hm.probeTime.Record(ctx, duration.Seconds(), metric.WithAttributes(dependencyKey.String(dependency)))
	}
}

// Snapshot copies the last known status of every probed dependency.
func (hm *HealthMetrics) Snapshot() map[string]bool {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	out := make(map[string]bool, len(hm.state))
	for k, v := range hm.state {
		out[k] = v
	}
	return out
}
