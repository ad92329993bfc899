package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(t *testing.T, data metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "not an int64 sum: %T", data)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestRewardAndStorageMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")
	ctx := context.Background()

	rewards, err := NewRewardMetrics(meter)
	require.NoError(t, err)
	db, err := NewDatabaseMetrics(meter)
	require.NoError(t, err)

	rewards.RecordTransaction(ctx, "plastic", 10)
	rewards.RecordTransaction(ctx, "paper", 5)
	rewards.RecordStudentRegistration(ctx)
	db.RecordQuery(ctx, "insert", "transactions", time.Millisecond, nil)
	db.RecordQuery(ctx, "select", "students", time.Millisecond, errors.New("boom"))

	got := collect(t, reader)
	assert.EqualValues(t, 2, sumOf(t, got["greenmarket.transactions.created"]))
	assert.EqualValues(t, 15, sumOf(t, got["greenmarket.points.awarded"]))
	assert.EqualValues(t, 1, sumOf(t, got["greenmarket.students.registered"]))
	assert.EqualValues(t, 1, sumOf(t, got["greenmarket.storage.errors"]))

	hist, ok := got["greenmarket.storage.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	assert.Len(t, hist.DataPoints, 2, "one series per operation and collection")
}

func TestHealthMetrics_TracksLastProbe(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")
	ctx := context.Background()

	hm, err := NewHealthMetrics(meter)
	require.NoError(t, err)

	hm.RecordDependencyCheck(ctx, "storage", time.Millisecond, nil)
	hm.RecordDependencyCheck(ctx, "sessions", time.Millisecond, errors.New("refused"))
	hm.RecordDependencyCheck(ctx, "sessions", time.Millisecond, nil)

	assert.Equal(t, map[string]bool{"storage": true, "sessions": true}, hm.Snapshot())

	gauge, ok := collect(t, reader)["greenmarket.dependency.up"].(metricdata.Gauge[int64])
	require.True(t, ok)
	assert.Len(t, gauge.DataPoints, 2)
}

func TestNewMock_IgnoresRecords(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.Database.RecordQuery(ctx, "insert", "students", time.Millisecond, errors.New("x"))
		m.Rewards.RecordLogin(ctx, "admin", true)
		m.Events.RecordPublish(ctx, "none", "student.registered", time.Millisecond, nil)
		m.Health.RecordDependencyCheck(ctx, "storage", time.Millisecond, nil)
	})
	assert.NoError(t, m.Database.RegisterDB(nil, nil))
}
