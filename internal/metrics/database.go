package metrics

import (
	"context"
	"database/sql"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DatabaseMetrics times storage operations of every backend. SQL backends
// additionally report their connection pool.
type DatabaseMetrics struct {
	opDuration metric.Float64Histogram
	opErrors   metric.Int64Counter
	pool       metric.Int64ObservableGauge
	poolWaits  metric.Int64ObservableCounter
}

func NewDatabaseMetrics(meter metric.Meter) (*DatabaseMetrics, error) {
	dm := &DatabaseMetrics{}

	var err error
	// 0.1ms .. 5s: badger and memory answer in microseconds, Postgres in ms.
	dm.opDuration, err = meter.Float64Histogram("greenmarket.storage.duration",
		metric.WithDescription("Storage operation latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5))
	if err != nil {
		return nil, err
	}

	dm.opErrors, err = meter.Int64Counter("greenmarket.storage.errors",
		metric.WithDescription("Failed storage operations"),
		metric.WithUnit("{error}"))
	if err != nil {
		return nil, err
	}

	dm.pool, err = meter.Int64ObservableGauge("greenmarket.storage.pool.connections",
		metric.WithDescription("SQL pool connections by state"),
		metric.WithUnit("{connection}"))
	if err != nil {
		return nil, err
	}

	dm.poolWaits, err = meter.Int64ObservableCounter("greenmarket.storage.pool.waits",
		metric.WithDescription("Times a caller waited for a free connection"),
		metric.WithUnit("{wait}"))
	if err != nil {
		return nil, err
	}
	return dm, nil
}

var (
	poolOpen  = metric.WithAttributes(attribute.String("state", "open"))
	poolInUse = metric.WithAttributes(attribute.String("state", "in_use"))
	poolIdle  = metric.WithAttributes(attribute.String("state", "idle"))
)

// RegisterDB observes the pool of db on every collection.
func (dm *DatabaseMetrics) RegisterDB(db *sql.DB, meter metric.Meter) error {
	if dm == nil || dm.pool == nil || db == nil {
		return nil
	}
	_, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := db.Stats()
		o.ObserveInt64(dm.pool, int64(s.OpenConnections), poolOpen)
		o.ObserveInt64(dm.pool, int64(s.InUse), poolInUse)
		o.ObserveInt64(dm.pool, int64(s.Idle), poolIdle)
		o.ObserveInt64(dm.poolWaits, s.WaitCount)
		return nil
	}, dm.pool, dm.poolWaits)
	return err
}

// RecordQuery records one storage operation, e.g. ("insert", "transactions").
func (dm *DatabaseMetrics) RecordQuery(ctx context.Context, operation string, table string, duration time.Duration, err error) {
	if dm == nil || dm.opDuration == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("collection", table),
	)
	dm.opDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		dm.opErrors.Add(ctx, 1, attrs)
	}
}
