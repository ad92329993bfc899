package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"greenmarket/internal/domain"
	"greenmarket/internal/httputil"
	"greenmarket/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func TestAuthenticator_Guards(t *testing.T) {
	sessions := session.NewManager(session.NewMemoryStore(), time.Hour)
	auth := NewAuthenticator(sessions, "X-Session-ID", discard, "en")

	ctx := context.Background()
	studentToken, err := sessions.Issue(ctx, domain.Identity{StudentID: 7})
	require.NoError(t, err)
	adminToken, err := sessions.Issue(ctx, domain.Identity{IsAdmin: true})
	require.NoError(t, err)

	guards := map[string]func(http.Handler) http.Handler{
		"auth":    auth.RequireAuth,
		"admin":   auth.RequireAdmin,
		"student": auth.RequireStudent,
	}

	tests := []struct {
		name  string
		guard string
		token string
		want  int
	}{
		{"anonymous auth", "auth", "", http.StatusUnauthorized},
		{"unknown token", "auth", "bogus", http.StatusUnauthorized},
		{"student auth", "auth", studentToken, http.StatusNoContent},
		{"admin auth", "auth", adminToken, http.StatusNoContent},
		{"anonymous admin route", "admin", "", http.StatusUnauthorized},
		{"student on admin route", "admin", studentToken, http.StatusForbidden},
		{"admin on admin route", "admin", adminToken, http.StatusNoContent},
		{"admin on student route", "student", adminToken, http.StatusForbidden},
		{"student on student route", "student", studentToken, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := auth.Authenticate(guards[tt.guard](http.HandlerFunc(okHandler)))

			req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
			if tt.token != "" {
				req.Header.Set("X-Session-ID", tt.token)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
			if w.Code >= 400 {
				var body httputil.ErrorBody
				require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
				assert.NotEmpty(t, body.Message)
				assert.NotEmpty(t, body.Code)
			}
		})
	}
}

// brokenStore fails every call, like an unreachable Redis.
type brokenStore struct{}

var errStoreDown = errors.New("connection refused")

func (brokenStore) Save(context.Context, string, session.Session, time.Duration) error {
	return errStoreDown
}
func (brokenStore) Get(context.Context, string) (*session.Session, error) { return nil, errStoreDown }
func (brokenStore) Delete(context.Context, string) error { return errStoreDown }
func (brokenStore) Clear(context.Context) error { return errStoreDown }
func (brokenStore) Ping(context.Context) error { return errStoreDown }
func (brokenStore) Close() error { return nil }

func TestAuthenticator_StoreFailureIsAnonymous(t *testing.T) {
	auth := NewAuthenticator(session.NewManager(brokenStore{}, time.Hour), "X-Session-ID", discard, "en")

	var (
		reached  bool
		gotOK    bool
		gotToken string
	)
	open := auth.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		_, gotOK = IdentityFrom(r.Context())
		gotToken = TokenFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/logout", nil)
	req.Header.Set("X-Session-ID", "some-token")
	w := httptest.NewRecorder()
	open.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, reached)
	assert.False(t, gotOK)
	assert.Equal(t, "some-token", gotToken, "the token stays available to logout")

	for name, guard := range map[string]func(http.Handler) http.Handler{
		"auth":    auth.RequireAuth,
		"admin":   auth.RequireAdmin,
		"student": auth.RequireStudent,
	} {
		t.Run(name, func(t *testing.T) {
			h := auth.Authenticate(guard(http.HandlerFunc(okHandler)))
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			req.Header.Set("X-Session-ID", "some-token")
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			var body httputil.ErrorBody
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, "unauthenticated", body.Code)
		})
	}
}

func TestAuthenticator_ContextValues(t *testing.T) {
	sessions := session.NewManager(session.NewMemoryStore(), 0)
	auth := NewAuthenticator(sessions, "X-Session-ID", discard, "en")

	token, err := sessions.Issue(context.Background(), domain.Identity{StudentID: 3})
	require.NoError(t, err)

	var (
		gotIdentity domain.Identity
		gotOK       bool
		gotToken    string
	)
	h := auth.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity, gotOK = IdentityFrom(r.Context())
		gotToken = TokenFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Session-ID", token)
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.True(t, gotOK)
	assert.Equal(t, int64(3), gotIdentity.StudentID)
	assert.Equal(t, token, gotToken)

	// A revoked token still reaches the handler, anonymously.
	require.NoError(t, sessions.Revoke(context.Background(), token))
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.False(t, gotOK)
	assert.Equal(t, token, gotToken)
}

func TestCORS(t *testing.T) {
	t.Run("configured origin", func(t *testing.T) {
		h := CORS([]string{"http://localhost:3000"}, "X-Session-ID")(http.HandlerFunc(okHandler))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Session-ID")
	})

	t.Run("unknown origin", func(t *testing.T) {
		h := CORS([]string{"http://localhost:3000"}, "X-Session-ID")(http.HandlerFunc(okHandler))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "http://evil.example")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("any origin and preflight", func(t *testing.T) {
		h := CORS(nil, "X-Session-ID")(http.HandlerFunc(okHandler))

		req := httptest.NewRequest(http.MethodOptions, "/api/login", nil)
		req.Header.Set("Origin", "http://anywhere.example")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
	})
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(2, discard, "vi")(http.HandlerFunc(okHandler))

	send := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	for i := range 2 {
		w := send("10.0.0.1:5555")
		assert.Equal(t, http.StatusNoContent, w.Code, "request %d", i)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}

	w := send("10.0.0.1:6666")
	assert.Equal(t, http.StatusTooManyRequests, w.Code, "the port is not part of the key")

	var body httputil.ErrorBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "too_many_requests", body.Code)
	assert.Contains(t, body.Message, "Đăng nhập")

	assert.Equal(t, http.StatusNoContent, send("10.0.0.2:5555").Code, "other clients keep their own window")
}
