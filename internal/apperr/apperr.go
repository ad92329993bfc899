// Package apperr is the error vocabulary services hand to the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindDuplicateKey
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindDuplicateKey:
		return "duplicate_key"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// Status is the HTTP status code a kind is rendered with.
func (k Kind) Status() int {
	switch k {
	case KindValidation, KindDuplicateKey:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Error struct {
	Kind   Kind
	Code   string
	Fields []FieldError
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Code, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s (%s)", e.Code, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind and code, so sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

func New(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

func Validation(fields ...FieldError) *Error {
	return &Error{Kind: KindValidation, Code: CodeInvalidData, Fields: fields}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Err: err}
}

// Wrap attaches a cause to a copy of e.
func (e *Error) Wrap(err error) *Error {
	c := *e
	c.Err = err
	return &c
}

// From converts any error into an *Error; unknown errors become internal.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

var (
	ErrDuplicateStudentID    = New(KindDuplicateKey, CodeDuplicateStudentID)
	ErrDuplicateEmail        = New(KindDuplicateKey, CodeDuplicateEmail)
	ErrInvalidCredentials    = New(KindUnauthenticated, CodeInvalidCredentials)
	ErrUnauthenticated       = New(KindUnauthenticated, CodeUnauthenticated)
	ErrForbidden             = New(KindForbidden, CodeForbidden)
	ErrStudentNotFound       = New(KindNotFound, CodeStudentNotFound)
	ErrMarketSessionNotFound = New(KindNotFound, CodeMarketSessionNotFound)
	ErrInvalidBackup         = New(KindValidation, CodeInvalidBackup)
	ErrTooManyRequests       = New(KindRateLimited, CodeTooManyRequests)
)
