// Package auth logs students and the admin in and out over opaque session
// tokens.
package auth

import (
	"context"
	"fmt"
	"log/slog"

	"greenmarket/internal/apperr"
	"greenmarket/internal/credential"
	"greenmarket/internal/domain"
	"greenmarket/internal/metrics"
	"greenmarket/internal/session"
	"greenmarket/internal/storage"
	"greenmarket/internal/student"
)

const (
	roleStudent = "student"
	roleAdmin   = "admin"
	roleUnknown = "unknown"
)

// Result is returned by register and login. Exactly one of Student and
// IsAdmin is set.
type Result struct {
	Student *domain.Student `json:"student,omitempty"`
	IsAdmin bool            `json:"isAdmin,omitempty"`
	Token   string          `json:"token"`
}

// Me describes the identity behind a token.
type Me struct {
	Student *domain.Student `json:"student,omitempty"`
	IsAdmin bool            `json:"isAdmin,omitempty"`
}

type Service struct {
	store    storage.Storage
	students *student.Service
	verifier *credential.Verifier
	sessions *session.Manager
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewService(store storage.Storage, students *student.Service, verifier *credential.Verifier, sessions *session.Manager, m *metrics.Metrics, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		students: students,
		verifier: verifier,
		sessions: sessions,
		metrics:  m,
		logger:   logger,
	}
}

// Register creates the student and logs them in.
func (s *Service) Register(ctx context.Context, reg student.Registration) (*Result, error) {
	st, err := s.students.Register(ctx, reg)
	if err != nil {
		return nil, err
	}

	token, err := s.sessions.Issue(ctx, domain.Identity{StudentID: st.ID})
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}
	return &Result{Student: st, Token: token}, nil
}

// Login matches identifier against student IDs first and admin usernames
// second. A known student ID with a wrong password fails without trying the
// admin account.
func (s *Service) Login(ctx context.Context, identifier, password string) (*Result, error) {
	st, err := s.store.GetStudentByStudentID(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("find student: %w", err)
	}
	if st != nil {
		return s.loginStudent(ctx, st, password)
	}

	admin, err := s.store.GetAdminByUsername(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("find admin: %w", err)
	}
	if admin != nil {
		return s.loginAdmin(ctx, admin, password)
	}

	s.metrics.Rewards.RecordLogin(ctx, roleUnknown, false)
	s.logger.InfoContext(ctx, "login failed", "reason", "unknown identifier")
	return nil, apperr.ErrInvalidCredentials
}

func (s *Service) loginStudent(ctx context.Context, st *domain.Student, password string) (*Result, error) {
	ok, rehash := s.verifier.Verify(st.Password, password)
	if !ok {
		s.metrics.Rewards.RecordLogin(ctx, roleStudent, false)
		s.logger.InfoContext(ctx, "login failed", "student_id", st.StudentID)
		return nil, apperr.ErrInvalidCredentials
	}

	if rehash {
		if hashed, err := s.verifier.Hash(password); err == nil {
			if _, err := s.store.UpdateStudent(ctx, st.ID, domain.StudentPatch{Password: &hashed}); err != nil {
				s.logger.WarnContext(ctx, "failed to upgrade password hash", "id", st.ID, "error", err)
			} else {
				st.Password = hashed
			}
		}
	}

	token, err := s.sessions.Issue(ctx, domain.Identity{StudentID: st.ID})
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}

	s.metrics.Rewards.RecordLogin(ctx, roleStudent, true)
	s.logger.InfoContext(ctx, "student logged in", "id", st.ID)
	return &Result{Student: st, Token: token}, nil
}

func (s *Service) loginAdmin(ctx context.Context, admin *domain.Admin, password string) (*Result, error) {
	ok, rehash := s.verifier.Verify(admin.Password, password)
	if !ok {
		s.metrics.Rewards.RecordLogin(ctx, roleAdmin, false)
		s.logger.WarnContext(ctx, "admin login failed", "username", admin.Username)
		return nil, apperr.ErrInvalidCredentials
	}

	if rehash {
		if hashed, err := s.verifier.Hash(password); err == nil {
			if err := s.store.UpdateAdminPassword(ctx, admin.ID, hashed); err != nil {
				s.logger.WarnContext(ctx, "failed to upgrade admin password hash", "error", err)
			}
		}
	}

	token, err := s.sessions.Issue(ctx, domain.Identity{IsAdmin: true})
	if err != nil {
		return nil, fmt.Errorf("issue session: %w", err)
	}

	s.metrics.Rewards.RecordLogin(ctx, roleAdmin, true)
	s.logger.InfoContext(ctx, "admin logged in", "username", admin.Username)
	return &Result{IsAdmin: true, Token: token}, nil
}

// Logout revokes token. Failures are logged; logging out always succeeds
// from the caller's point of view.
func (s *Service) Logout(ctx context.Context, token string) {
	if err := s.sessions.Revoke(ctx, token); err != nil {
		s.logger.WarnContext(ctx, "failed to revoke session", "error", err)
	}
}

func (s *Service) Me(ctx context.Context, identity domain.Identity) (*Me, error) {
	if identity.IsAdmin {
		return &Me{IsAdmin: true}, nil
	}
	st, err := s.students.Get(ctx, identity.StudentID)
	if err != nil {
		return nil, err
	}
	return &Me{Student: st}, nil
}
