// Package storage defines the contract every primary-store backend satisfies.
// Backends live in the memory, relational and document subpackages and are
// selected at startup from configuration; nothing above this package knows
// which one is running.
package storage

import (
	"context"
	"errors"
	"fmt"

	"greenmarket/internal/domain"
)

// ErrNotFound is returned by mutations that target a missing record.
// Lookups report absence as a nil record with a nil error instead.
var ErrNotFound = errors.New("record not found")

// DuplicateKeyError reports a unique-key violation detected by the backend.
type DuplicateKeyError struct {
	Field string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate value for unique field %q", e.Field)
}

// Duplicate field names as reported in DuplicateKeyError.Field.
const (
	FieldStudentID = "studentId"
	FieldEmail     = "email"
	FieldUsername  = "username"
)

type Students interface {
	CreateStudent(ctx context.Context, s *domain.Student) error
	GetStudent(ctx context.Context, id int64) (*domain.Student, error)
	GetStudentByStudentID(ctx context.Context, studentID string) (*domain.Student, error)
	GetStudentByEmail(ctx context.Context, email string) (*domain.Student, error)
	UpdateStudent(ctx context.Context, id int64, patch domain.StudentPatch) (*domain.Student, error)
	DeleteStudent(ctx context.Context, id int64) error
	ListStudents(ctx context.Context) ([]domain.Student, error)
	// AddPoints increments total_points in a single storage operation and
	// returns the new total.
	AddPoints(ctx context.Context, id int64, delta int) (int, error)
}

type Admins interface {
	CreateAdmin(ctx context.Context, a *domain.Admin) error
	GetAdminByUsername(ctx context.Context, username string) (*domain.Admin, error)
	UpdateAdminPassword(ctx context.Context, id int64, password string) error
}

type Transactions interface {
	CreateTransaction(ctx context.Context, t *domain.Transaction) error
	ListTransactionsByStudent(ctx context.Context, studentID int64) ([]domain.Transaction, error)
	ListTransactions(ctx context.Context) ([]domain.Transaction, error)
}

type MarketSessions interface {
	CreateMarketSession(ctx context.Context, m *domain.MarketSession) error
	GetMarketSession(ctx context.Context, id int64) (*domain.MarketSession, error)
	UpdateMarketSession(ctx context.Context, id int64, patch domain.MarketSessionPatch) (*domain.MarketSession, error)
	DeleteMarketSession(ctx context.Context, id int64) error
	ListMarketSessions(ctx context.Context) ([]domain.MarketSession, error)
}

// Tx is the view of the store inside a unit of work.
type Tx interface {
	Students
	Admins
	Transactions
	MarketSessions

	// Import replaces every collection with the snapshot, keeping ids.
	Import(ctx context.Context, snap *domain.Snapshot) error
}

type Storage interface {
	Tx

	// Atomic runs fn as one unit: either every write fn makes is applied or none is.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Export(ctx context.Context) (*domain.Snapshot, error)
	Ping(ctx context.Context) error
	Close() error
}

// IsDuplicate reports whether err is a unique-key violation and on which field.
func IsDuplicate(err error) (string, bool) {
	var dup *DuplicateKeyError
	if errors.As(err, &dup) {
		return dup.Field, true
	}
	return "", false
}
