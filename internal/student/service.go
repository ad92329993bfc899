// Package student manages student accounts: registration, the student
// dashboard and admin maintenance of the roster.
package student

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"greenmarket/internal/apperr"
	"greenmarket/internal/credential"
	"greenmarket/internal/domain"
	"greenmarket/internal/events"
	"greenmarket/internal/metrics"
	"greenmarket/internal/points"
	"greenmarket/internal/storage"

	"github.com/shopspring/decimal"
)

// Registration is the self-service sign-up input.
type Registration struct {
	FullName  string `json:"fullName" validate:"required,max=100"`
	StudentID string `json:"studentId" validate:"required,max=20"`
	Email     string `json:"email" validate:"required,email,max=254"`
	Major     string `json:"major" validate:"required,max=100"`
	Phone     string `json:"phone" validate:"required,max=20"`
	Password  string `json:"password" validate:"required,max=72"`
}

// TrimSpace strips surrounding whitespace from every field except the
// password, so blank values fail the required rules.
func (r *Registration) TrimSpace() {
	for _, f := range []*string{&r.FullName, &r.StudentID, &r.Email, &r.Major, &r.Phone} {
		*f = strings.TrimSpace(*f)
	}
}

// Update is an admin edit; nil fields are left unchanged.
type Update struct {
	FullName    *string `json:"fullName" validate:"omitnil,min=1,max=100"`
	StudentID   *string `json:"studentId" validate:"omitnil,min=1,max=20"`
	Email       *string `json:"email" validate:"omitnil,email,max=254"`
	Major       *string `json:"major" validate:"omitnil,min=1,max=100"`
	Phone       *string `json:"phone" validate:"omitnil,min=1,max=20"`
	Password    *string `json:"password" validate:"omitnil,min=1,max=72"`
	TotalPoints *int    `json:"totalPoints"`
}

// TrimSpace strips surrounding whitespace from the present fields except the
// password, so blank values fail the min=1 rules.
func (u *Update) TrimSpace() {
	for _, f := range []*string{u.FullName, u.StudentID, u.Email, u.Major, u.Phone} {
		if f != nil {
			*f = strings.TrimSpace(*f)
		}
	}
}

type Stats struct {
	TotalWeight   string `json:"totalWeight"`
	GiftsReceived int    `json:"giftsReceived"`
}

type Dashboard struct {
	Student      *domain.Student      `json:"student"`
	Transactions []domain.Transaction `json:"transactions"`
	Stats        Stats                `json:"stats"`
}

type Service struct {
	store       storage.Storage
	verifier    *credential.Verifier
	accumulator *points.Accumulator
	bus         *events.Bus
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func NewService(store storage.Storage, verifier *credential.Verifier, accumulator *points.Accumulator, bus *events.Bus, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		store:       store,
		verifier:    verifier,
		accumulator: accumulator,
		bus:         bus,
		metrics:     m,
		logger:      logger,
	}
}

// Register creates a student with a hashed password. A taken studentId or
// email yields a DuplicateKey error; the storage unique check decides races.
func (s *Service) Register(ctx context.Context, reg Registration) (*domain.Student, error) {
	reg.StudentID = strings.TrimSpace(reg.StudentID)
	reg.Email = strings.ToLower(strings.TrimSpace(reg.Email))

	existing, err := s.store.GetStudentByStudentID(ctx, reg.StudentID)
	if err != nil {
		return nil, fmt.Errorf("check student id: %w", err)
	}
	if existing != nil {
		return nil, apperr.ErrDuplicateStudentID
	}
	existing, err = s.store.GetStudentByEmail(ctx, reg.Email)
	if err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if existing != nil {
		return nil, apperr.ErrDuplicateEmail
	}

	hashed, err := s.verifier.Hash(reg.Password)
	if err != nil {
		return nil, err
	}

	st := &domain.Student{
		FullName:  strings.TrimSpace(reg.FullName),
		StudentID: reg.StudentID,
		Email:     reg.Email,
		Major:     strings.TrimSpace(reg.Major),
		Phone:     strings.TrimSpace(reg.Phone),
		Password:  hashed,
	}
	if err := s.store.CreateStudent(ctx, st); err != nil {
		return nil, duplicateOr(err, "create student")
	}

	s.logger.InfoContext(ctx, "student registered", "id", st.ID, "student_id", st.StudentID)
	s.metrics.Rewards.RecordStudentRegistration(ctx)
	s.bus.Emit(ctx, events.TypeStudentRegistered, st)

	return st, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*domain.Student, error) {
	st, err := s.store.GetStudent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get student %d: %w", id, err)
	}
	if st == nil {
		return nil, apperr.ErrStudentNotFound
	}
	return st, nil
}

func (s *Service) List(ctx context.Context) ([]domain.Student, error) {
	list, err := s.store.ListStudents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	if list == nil {
		list = []domain.Student{}
	}
	return list, nil
}

// Update applies an admin edit. Setting totalPoints overrides the balance
// and is serialized with transaction creation for the same student.
func (s *Service) Update(ctx context.Context, id int64, u Update) (*domain.Student, error) {
	patch := domain.StudentPatch{
		FullName:    trimmed(u.FullName),
		StudentID:   trimmed(u.StudentID),
		Major:       trimmed(u.Major),
		Phone:       trimmed(u.Phone),
		TotalPoints: u.TotalPoints,
	}
	if u.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*u.Email))
		patch.Email = &email
	}
	if u.Password != nil {
		hashed, err := s.verifier.Hash(*u.Password)
		if err != nil {
			return nil, err
		}
		patch.Password = &hashed
	}

	unlock := s.accumulator.Lock(id)
	defer unlock()

	st, err := s.store.UpdateStudent(ctx, id, patch)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.ErrStudentNotFound
		}
		return nil, duplicateOr(err, fmt.Sprintf("update student %d", id))
	}

	s.logger.InfoContext(ctx, "student updated", "id", id, "points_override", u.TotalPoints != nil)
	s.bus.Emit(ctx, events.TypeStudentUpdated, st)
	return st, nil
}

// Delete removes a student together with their transactions.
func (s *Service) Delete(ctx context.Context, id int64) error {
	unlock := s.accumulator.Lock(id)
	defer unlock()

	if err := s.store.DeleteStudent(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.ErrStudentNotFound
		}
		return fmt.Errorf("delete student %d: %w", id, err)
	}

	s.logger.InfoContext(ctx, "student deleted", "id", id)
	s.bus.Emit(ctx, events.TypeStudentDeleted, map[string]int64{"id": id})
	return nil
}

// Dashboard returns the student with their transactions, newest first, and
// totals over them.
func (s *Service) Dashboard(ctx context.Context, id int64) (*Dashboard, error) {
	st, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	txs, err := s.store.ListTransactionsByStudent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list transactions of student %d: %w", id, err)
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}

	s.metrics.Rewards.RecordDashboardViewed(ctx)

	return &Dashboard{
		Student:      st,
		Transactions: txs,
		Stats:        ComputeStats(txs),
	}, nil
}

// ComputeStats sums weights exactly and renders the total with one decimal.
func ComputeStats(txs []domain.Transaction) Stats {
	total := decimal.Zero
	gifts := 0
	for _, t := range txs {
		if w, err := decimal.NewFromString(t.Weight); err == nil {
			total = total.Add(w)
		}
		if t.Gift != nil && *t.Gift != "" {
			gifts++
		}
	}
	return Stats{TotalWeight: total.StringFixed(1), GiftsReceived: gifts}
}

func duplicateOr(err error, op string) error {
	if field, ok := storage.IsDuplicate(err); ok {
		switch field {
		case storage.FieldStudentID:
			return apperr.ErrDuplicateStudentID
		case storage.FieldEmail:
			return apperr.ErrDuplicateEmail
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	return &t
}
