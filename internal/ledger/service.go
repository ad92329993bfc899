// Package ledger records waste exchange transactions and credits their points
// to the owning student.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"greenmarket/internal/apperr"
	"greenmarket/internal/domain"
	"greenmarket/internal/events"
	"greenmarket/internal/metrics"
	"greenmarket/internal/points"
	"greenmarket/internal/storage"
	"greenmarket/internal/validation"
)

// NewTransaction is the admin input for one exchange.
type NewTransaction struct {
	StudentID int64
	WasteType string
	Weight    string
	Points    int
	Gift      *string
}

// TransactionCreated is the payload of the transaction.created event.
type TransactionCreated struct {
	Transaction domain.Transaction `json:"transaction"`
	TotalPoints int                `json:"totalPoints"`
}

type Service struct {
	store       storage.Storage
	accumulator *points.Accumulator
	bus         *events.Bus
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(store storage.Storage, accumulator *points.Accumulator, bus *events.Bus, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		store:       store,
		accumulator: accumulator,
		bus:         bus,
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

// Create appends a transaction and adds its points to the student's balance
// as one unit of work.
func (s *Service) Create(ctx context.Context, in NewTransaction) (*domain.Transaction, error) {
	weight, err := validation.ParseWeight(in.Weight)
	if err != nil {
		return nil, apperr.Validation(apperr.FieldError{Field: "weight", Message: err.Error()})
	}
	if in.Points < 0 {
		return nil, apperr.Validation(apperr.FieldError{Field: "points", Message: "points must not be negative"})
	}

	t := &domain.Transaction{
		StudentID: in.StudentID,
		WasteType: strings.TrimSpace(in.WasteType),
		Weight:    weight.StringFixed(2),
		Points:    in.Points,
		Gift:      normalizeGift(in.Gift),
		Date:      s.now().UTC(),
	}

	unlock := s.accumulator.Lock(in.StudentID)
	defer unlock()

	var total int
	err = s.store.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		student, err := tx.GetStudent(ctx, in.StudentID)
		if err != nil {
			return err
		}
		if student == nil {
			return apperr.ErrStudentNotFound
		}
		if err := tx.CreateTransaction(ctx, t); err != nil {
			return err
		}
		total, err = s.accumulator.Apply(ctx, tx, in.StudentID, t.Points)
		return err
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.ErrStudentNotFound
		}
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	s.logger.InfoContext(ctx, "transaction recorded",
		"transaction_id", t.ID,
		"student_id", t.StudentID,
		"points", t.Points,
		"total_points", total,
	)
	s.metrics.Rewards.RecordTransaction(ctx, t.WasteType, t.Points)
	s.bus.Emit(ctx, events.TypeTransactionCreated, TransactionCreated{Transaction: *t, TotalPoints: total})

	return t, nil
}

// ListByStudent returns a student's transactions, newest first.
func (s *Service) ListByStudent(ctx context.Context, studentID int64) ([]domain.Transaction, error) {
	list, err := s.store.ListTransactionsByStudent(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("list transactions of student %d: %w", studentID, err)
	}
	if list == nil {
		list = []domain.Transaction{}
	}
	return list, nil
}

// ListAll returns every transaction, newest first.
func (s *Service) ListAll(ctx context.Context) ([]domain.Transaction, error) {
	list, err := s.store.ListTransactions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	if list == nil {
		list = []domain.Transaction{}
	}
	return list, nil
}

func normalizeGift(gift *string) *string {
	if gift == nil {
		return nil
	}
	g := strings.TrimSpace(*gift)
	if g == "" {
		return nil
	}
	return &g
}
