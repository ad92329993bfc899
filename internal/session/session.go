// Package session issues opaque login tokens and resolves them back to the
// identity they were issued for. Tokens live only in the session store.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"greenmarket/internal/domain"
)

// tokenBytes gives 256 bits of entropy.
const tokenBytes = 32

type Session struct {
	Identity  domain.Identity `json:"identity"`
	IssuedAt  time.Time       `json:"issuedAt"`
	ExpiresAt time.Time       `json:"expiresAt,omitzero"`
}

// Expired reports whether s has an expiry that lies at or before now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

type Store interface {
	// Save stores s under token. A zero ttl keeps it until deleted.
	Save(ctx context.Context, token string, s Session, ttl time.Duration) error
	// Get returns nil when the token is unknown or expired.
	Get(ctx context.Context, token string) (*Session, error)
	Delete(ctx context.Context, token string) error
	// Clear deletes every session in the store.
	Clear(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

type Manager struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewManager returns a manager whose tokens live for ttl; zero means forever.
func NewManager(store Store, ttl time.Duration) *Manager {
	return &Manager{store: store, ttl: ttl, now: time.Now}
}

func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (m *Manager) Issue(ctx context.Context, identity domain.Identity) (string, error) {
	token, err := NewToken()
	if err != nil {
		return "", err
	}

	now := m.now().UTC()
	s := Session{Identity: identity, IssuedAt: now}
	if m.ttl > 0 {
		s.ExpiresAt = now.Add(m.ttl)
	}

	if err := m.store.Save(ctx, token, s, m.ttl); err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}
	return token, nil
}

// Resolve returns the identity behind token, or nil if the token is unknown,
// revoked or expired.
func (m *Manager) Resolve(ctx context.Context, token string) (*domain.Identity, error) {
	if token == "" {
		return nil, nil
	}
	s, err := m.store.Get(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if s == nil || s.Expired(m.now()) {
		return nil, nil
	}
	identity := s.Identity
	return &identity, nil
}

// Revoke deletes token. Unknown tokens are not an error.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return m.store.Delete(ctx, token)
}

// RevokeAll logs everybody out. Used when stored identities may now point at
// different people, e.g. after a backup import.
func (m *Manager) RevokeAll(ctx context.Context) error {
	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear sessions: %w", err)
	}
	return nil
}

func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

func (m *Manager) Close() error {
	return m.store.Close()
}
