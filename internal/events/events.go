// Package events publishes domain events to a message broker. Publishing is
// best effort: a failure is logged and counted, never returned to the caller
// of Emit.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"greenmarket/internal/config"
	"greenmarket/internal/metrics"

	"github.com/google/uuid"
)

const (
	TypeStudentRegistered    = "student.registered"
	TypeStudentUpdated       = "student.updated"
	TypeStudentDeleted       = "student.deleted"
	TypeTransactionCreated   = "transaction.created"
	TypeMarketSessionCreated = "market_session.created"
	TypeMarketSessionUpdated = "market_session.updated"
	TypeMarketSessionDeleted = "market_session.deleted"
	TypeBackupImported       = "backup.imported"
	TypeBackupCleared        = "backup.cleared"
)

const (
	BackendNone  = "none"
	BackendNATS  = "nats"
	BackendKafka = "kafka"
)

type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

type Bus struct {
	publisher Publisher
	backend   string
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func NewBus(publisher Publisher, backend string, logger *slog.Logger, m *metrics.Metrics) *Bus {
	return &Bus{publisher: publisher, backend: backend, logger: logger, metrics: m}
}

// New connects the configured backend.
func New(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*Bus, error) {
	var (
		publisher Publisher
		err       error
	)
	switch cfg.Events.Backend {
	case BackendNATS:
		publisher, err = NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
	case BackendKafka:
		publisher, err = DialKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
	case BackendNone, "":
		publisher = NewLogPublisher(logger)
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Events.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s events backend: %w", cfg.Events.Backend, err)
	}
	return NewBus(publisher, cfg.Events.Backend, logger, m), nil
}

// Emit wraps payload in an Event and publishes it.
func (b *Bus) Emit(ctx context.Context, eventType string, payload any) {
	if b == nil {
		return
	}
	e := Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}

	start := time.Now()
	err := b.publisher.Publish(ctx, e)
	if b.metrics != nil {
		b.metrics.Events.RecordPublish(ctx, b.backend, eventType, time.Since(start), err)
	}
	if err != nil {
		b.logger.WarnContext(ctx, "failed to publish event", "type", eventType, "id", e.ID, "error", err)
	}
}

func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	return b.publisher.Close()
}

// LogPublisher only writes events to the log.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	p.logger.DebugContext(ctx, "event", "type", e.Type, "id", e.ID)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
