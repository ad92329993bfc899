package relational

import (
	"errors"
	"strings"

	"greenmarket/internal/storage"

	"github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/driver/pgdriver"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// mapError turns driver constraint failures into storage errors.
func mapError(err error) error {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		switch pgErr.Field('C') {
		case pgUniqueViolation:
			return &storage.DuplicateKeyError{Field: duplicateField(pgErr.Field('n') + " " + pgErr.Field('D'))}
		case pgForeignKeyViolation:
			return storage.ErrNotFound
		}
		return err
	}

	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		switch sqErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique:
			return &storage.DuplicateKeyError{Field: duplicateField(sqErr.Error())}
		case sqlite3.ErrConstraintForeignKey:
			return storage.ErrNotFound
		}
	}
	return err
}

// duplicateField reads the column out of a constraint name such as
// "students_email_key" or a message like "UNIQUE constraint failed: students.email".
func duplicateField(detail string) string {
	switch {
	case strings.Contains(detail, "student_id"):
		return storage.FieldStudentID
	case strings.Contains(detail, "email"):
		return storage.FieldEmail
	case strings.Contains(detail, "username"):
		return storage.FieldUsername
	}
	return detail
}
