// Package backup exports the whole store as one JSON snapshot and restores
// it.
package backup

import (
	"context"
	"fmt"
	"log/slog"

	"greenmarket/internal/apperr"
	"greenmarket/internal/domain"
	"greenmarket/internal/events"
	"greenmarket/internal/storage"
	"greenmarket/internal/validation"
)

// Counts summarizes an imported snapshot.
type Counts struct {
	Students       int `json:"students"`
	Transactions   int `json:"transactions"`
	MarketSessions int `json:"marketSessions"`
	Admins         int `json:"admins"`
}

// Revoker ends every login session. Sessions hold numeric ids, which point at
// other people once the data behind them is replaced.
type Revoker interface {
	RevokeAll(ctx context.Context) error
}

// Seeder recreates the startup defaults inside a cleared store.
type Seeder func(ctx context.Context, tx storage.Tx) error

type Service struct {
	store    storage.Storage
	sessions Revoker
	reseed   Seeder
	bus      *events.Bus
	logger   *slog.Logger
}

// NewService wires the backup service. sessions and reseed may be nil.
func NewService(store storage.Storage, sessions Revoker, reseed Seeder, bus *events.Bus, logger *slog.Logger) *Service {
	return &Service{store: store, sessions: sessions, reseed: reseed, bus: bus, logger: logger}
}

func (s *Service) Export(ctx context.Context) (*domain.Snapshot, error) {
	snap, err := s.store.Export(ctx)
	if err != nil {
		return nil, fmt.Errorf("export snapshot: %w", err)
	}
	s.logger.InfoContext(ctx, "backup exported",
		"students", len(snap.Students),
		"transactions", len(snap.Transactions),
	)
	return snap, nil
}

// Import replaces all data with snap in one unit of work. Every collection
// must be present, even if empty.
func (s *Service) Import(ctx context.Context, snap *domain.Snapshot) (*Counts, error) {
	if err := Check(snap); err != nil {
		return nil, err
	}

	err := s.store.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.Import(ctx, snap)
	})
	if err != nil {
		if _, dup := storage.IsDuplicate(err); dup {
			return nil, apperr.ErrInvalidBackup.Wrap(err)
		}
		return nil, fmt.Errorf("import snapshot: %w", err)
	}
	if err := s.revokeSessions(ctx); err != nil {
		return nil, err
	}

	counts := &Counts{
		Students:       len(snap.Students),
		Transactions:   len(snap.Transactions),
		MarketSessions: len(snap.MarketSessions),
		Admins:         len(snap.Admins),
	}
	s.logger.InfoContext(ctx, "backup imported",
		"students", counts.Students,
		"transactions", counts.Transactions,
		"market_sessions", counts.MarketSessions,
		"admins", counts.Admins,
	)
	s.bus.Emit(ctx, events.TypeBackupImported, counts)
	return counts, nil
}

// Clear empties every collection and seeds the defaults again, in one unit
// of work. All sessions end, the caller's included.
func (s *Service) Clear(ctx context.Context) error {
	err := s.store.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.Import(ctx, emptySnapshot()); err != nil {
			return err
		}
		if s.reseed == nil {
			return nil
		}
		return s.reseed(ctx, tx)
	})
	if err != nil {
		return fmt.Errorf("clear store: %w", err)
	}
	if err := s.revokeSessions(ctx); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "store cleared")
	s.bus.Emit(ctx, events.TypeBackupCleared, map[string]bool{"reseeded": s.reseed != nil})
	return nil
}

func (s *Service) revokeSessions(ctx context.Context) error {
	if s.sessions == nil {
		return nil
	}
	if err := s.sessions.RevokeAll(ctx); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	return nil
}

func emptySnapshot() *domain.Snapshot {
	return &domain.Snapshot{
		Students:       []domain.StudentRecord{},
		Transactions:   []domain.Transaction{},
		MarketSessions: []domain.MarketSession{},
		Admins:         []domain.AdminRecord{},
	}
}

// Check validates a snapshot before anything is replaced: all collections
// present, unique ids and keys, and transactions that reference a student in
// the snapshot with a valid weight and non-negative points.
func Check(snap *domain.Snapshot) error {
	if snap == nil || snap.Students == nil || snap.Transactions == nil || snap.MarketSessions == nil || snap.Admins == nil {
		return apperr.ErrInvalidBackup
	}

	students := make(map[int64]bool, len(snap.Students))
	keys := make(map[string]bool, 2*len(snap.Students))
	for _, st := range snap.Students {
		if st.ID <= 0 || students[st.ID] {
			return invalid("students", "student ids must be positive and unique")
		}
		students[st.ID] = true
		if keys["id:"+st.StudentID] || keys["email:"+st.Email] {
			return invalid("students", fmt.Sprintf("student %d repeats a studentId or email", st.ID))
		}
		keys["id:"+st.StudentID] = true
		keys["email:"+st.Email] = true
	}

	seen := make(map[int64]bool, len(snap.Transactions))
	for _, t := range snap.Transactions {
		if t.ID <= 0 || seen[t.ID] {
			return invalid("transactions", "transaction ids must be positive and unique")
		}
		seen[t.ID] = true
		if !students[t.StudentID] {
			return invalid("transactions", fmt.Sprintf("transaction %d references unknown student %d", t.ID, t.StudentID))
		}
		if _, err := validation.ParseWeight(t.Weight); err != nil {
			return invalid("transactions", fmt.Sprintf("transaction %d has invalid weight %q", t.ID, t.Weight))
		}
		if t.Points < 0 {
			return invalid("transactions", fmt.Sprintf("transaction %d has negative points", t.ID))
		}
	}

	clear(seen)
	for _, m := range snap.MarketSessions {
		if m.ID <= 0 || seen[m.ID] {
			return invalid("marketSessions", "market session ids must be positive and unique")
		}
		seen[m.ID] = true
	}

	clear(seen)
	clear(keys)
	for _, a := range snap.Admins {
		if a.ID <= 0 || seen[a.ID] || keys[a.Username] {
			return invalid("admins", "admin ids and usernames must be unique")
		}
		seen[a.ID] = true
		keys[a.Username] = true
	}
	return nil
}

func invalid(field, msg string) error {
	e := *apperr.ErrInvalidBackup
	e.Fields = []apperr.FieldError{{Field: field, Message: msg}}
	return &e
}
