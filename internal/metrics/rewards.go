package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RewardMetrics counts the business events of the rewards program.
type RewardMetrics struct {
	studentsRegistered  metric.Int64Counter
	logins              metric.Int64Counter
	transactionsCreated metric.Int64Counter
	pointsAwarded       metric.Int64Counter
	dashboardsViewed    metric.Int64Counter
}

func NewRewardMetrics(meter metric.Meter) (*RewardMetrics, error) {
	m := &RewardMetrics{}

	var err error

	m.studentsRegistered, err = meter.Int64Counter(
		"greenmarket.students.registered",
		metric.WithDescription("Total number of students registered"),
		metric.WithUnit("{student}"),
	)
	if err != nil {
		return nil, err
	}

	m.logins, err = meter.Int64Counter(
		"greenmarket.logins",
		metric.WithDescription("Login attempts by outcome"),
		metric.WithUnit("{login}"),
	)
	if err != nil {
		return nil, err
	}

	m.transactionsCreated, err = meter.Int64Counter(
		"greenmarket.transactions.created",
		metric.WithDescription("Waste exchange transactions recorded"),
		metric.WithUnit("{transaction}"),
	)
	if err != nil {
		return nil, err
	}

	m.pointsAwarded, err = meter.Int64Counter(
		"greenmarket.points.awarded",
		metric.WithDescription("Points credited to student balances"),
		metric.WithUnit("{point}"),
	)
	if err != nil {
		return nil, err
	}

	m.dashboardsViewed, err = meter.Int64Counter(
		"greenmarket.dashboards.viewed",
		metric.WithDescription("Student dashboard views"),
		metric.WithUnit("{view}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *RewardMetrics) RecordStudentRegistration(ctx context.Context) {
	if m != nil && m.studentsRegistered != nil {
		m.studentsRegistered.Add(ctx, 1)
	}
}

func (m *RewardMetrics) RecordLogin(ctx context.Context, role string, success bool) {
	if m != nil && m.logins != nil {
		m.logins.Add(ctx, 1, metric.WithAttributes(
			attribute.String("role", role),
			attribute.Bool("success", success),
		))
	}
}

func (m *RewardMetrics) RecordTransaction(ctx context.Context, wasteType string, points int) {
	if m == nil || m.transactionsCreated == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("waste_type", wasteType))
	m.transactionsCreated.Add(ctx, 1, attrs)
	if points > 0 {
		m.pointsAwarded.Add(ctx, int64(points), attrs)
	}
}

func (m *RewardMetrics) RecordDashboardViewed(ctx context.Context) {
	if m != nil && m.dashboardsViewed != nil {
		m.dashboardsViewed.Add(ctx, 1)
	}
}
