package metrics

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
)

type Metrics struct {
	Runtime  *RuntimeMetrics
	Database *DatabaseMetrics
	Health   *HealthMetrics
	Events   *EventMetrics
	Rewards  *RewardMetrics
}

func New(ctx context.Context, serviceName string, logger *slog.Logger) (*Metrics, error) {
	meter := otel.Meter(serviceName)

	runtime, err := NewRuntimeMetrics(ctx, meter)
	if err != nil {
		return nil, err
	}

	database, err := NewDatabaseMetrics(meter)
	if err != nil {
		return nil, err
	}

	health, err := NewHealthMetrics(meter)
	if err != nil {
		return nil, err
	}

	events, err := NewEventMetrics(meter)
	if err != nil {
		return nil, err
	}

	rewards, err := NewRewardMetrics(meter)
	if err != nil {
		return nil, err
	}

	logger.Info("metrics collectors initialized successfully")

	return &Metrics{
		Runtime:  runtime,
		Database: database,
		Health:   health,
		Events:   events,
		Rewards:  rewards,
	}, nil
}

// NewMock creates a no-op Metrics instance for testing
// The returned Metrics will safely ignore all Record* calls
func NewMock() *Metrics {
	return &Metrics{
		Runtime:  &RuntimeMetrics{},
		Database: &DatabaseMetrics{},
		Health:   &HealthMetrics{},
		Events:   &EventMetrics{},
		Rewards:  &RewardMetrics{},
	}
}
