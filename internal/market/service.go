// Package market manages the schedule of green market sessions.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"greenmarket/internal/apperr"
	"greenmarket/internal/domain"
	"greenmarket/internal/events"
	"greenmarket/internal/storage"
)

// SelectUpcoming returns the session with the earliest date strictly after
// now, or nil. Sessions on the same date are ordered by id.
func SelectUpcoming(sessions []domain.MarketSession, now time.Time) *domain.MarketSession {
	var best *domain.MarketSession
	for i := range sessions {
		m := &sessions[i]
		if !m.Date.After(now) {
			continue
		}
		if best == nil || m.Date.Before(best.Date) || (m.Date.Equal(best.Date) && m.ID < best.ID) {
			best = m
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}

type Service struct {
	store  storage.Storage
	bus    *events.Bus
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store storage.Storage, bus *events.Bus, logger *slog.Logger) *Service {
	return &Service{store: store, bus: bus, logger: logger, now: time.Now}
}

// List returns every session ordered by date, then id.
func (s *Service) List(ctx context.Context) ([]domain.MarketSession, error) {
	list, err := s.store.ListMarketSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list market sessions: %w", err)
	}
	if list == nil {
		list = []domain.MarketSession{}
	}
	return list, nil
}

// Upcoming returns the next session after the current time, or nil.
func (s *Service) Upcoming(ctx context.Context) (*domain.MarketSession, error) {
	list, err := s.store.ListMarketSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list market sessions: %w", err)
	}
	return SelectUpcoming(list, s.now()), nil
}

func (s *Service) Create(ctx context.Context, m *domain.MarketSession) error {
	m.Date = m.Date.UTC()
	if err := s.store.CreateMarketSession(ctx, m); err != nil {
		return fmt.Errorf("create market session: %w", err)
	}

	s.logger.InfoContext(ctx, "market session created", "market_session_id", m.ID, "date", m.Date)
	s.bus.Emit(ctx, events.TypeMarketSessionCreated, m)
	return nil
}

func (s *Service) Update(ctx context.Context, id int64, patch domain.MarketSessionPatch) (*domain.MarketSession, error) {
	if patch.Date != nil {
		d := patch.Date.UTC()
		patch.Date = &d
	}

	m, err := s.store.UpdateMarketSession(ctx, id, patch)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.ErrMarketSessionNotFound
		}
		return nil, fmt.Errorf("update market session %d: %w", id, err)
	}

	s.logger.InfoContext(ctx, "market session updated", "market_session_id", id)
	s.bus.Emit(ctx, events.TypeMarketSessionUpdated, m)
	return m, nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.store.DeleteMarketSession(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.ErrMarketSessionNotFound
		}
		return fmt.Errorf("delete market session %d: %w", id, err)
	}

	s.logger.InfoContext(ctx, "market session deleted", "market_session_id", id)
	s.bus.Emit(ctx, events.TypeMarketSessionDeleted, map[string]int64{"id": id})
	return nil
}
