package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"greenmarket/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:     "test",
		Locale:  "en",
		Server:  config.ServerConfig{Port: "0"},
		Storage: config.StorageConfig{Driver: config.DriverMemory},
		Session: config.SessionConfig{Store: "memory", TTL: time.Hour, Header: "X-Session-ID"},
		Auth: config.AuthConfig{
			BcryptCost:    4,
			AdminUsername: "admin",
			AdminPassword: "NoAdmin123",
		},
		Events:    config.EventsConfig{Backend: "none"},
		Telemetry: config.TelemetryConfig{Exporter: "none"},
	}
}

type client struct {
	t       *testing.T
	handler http.Handler
}

func (c client) do(method, path, token string, body any) (int, []byte) {
	c.t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-Session-ID", token)
	}
	w := httptest.NewRecorder()
	c.handler.ServeHTTP(w, req)
	return w.Code, w.Body.Bytes()
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func newTestApp(t *testing.T, cfg *config.Config) client {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return client{t: t, handler: a.Handler()}
}

func TestRecyclingFlow(t *testing.T) {
	c := newTestApp(t, testConfig())

	code, raw := c.do(http.MethodPost, "/api/register", "", map[string]string{
		"fullName":  "Nguyen Van A",
		"studentId": "S1",
		"email":     "A@Uni.edu",
		"major":     "CS",
		"phone":     "0900000000",
		"password":  "secret1",
	})
	require.Equal(t, http.StatusOK, code, string(raw))
	reg := decode[struct {
		Student struct {
			ID          int64  `json:"id"`
			Email       string `json:"email"`
			TotalPoints int    `json:"totalPoints"`
		} `json:"student"`
		Token string `json:"token"`
	}](t, raw)
	assert.NotEmpty(t, reg.Token)
	assert.Equal(t, "a@uni.edu", reg.Student.Email)
	assert.Zero(t, reg.Student.TotalPoints)
	assert.NotContains(t, string(raw), "secret1")

	code, raw = c.do(http.MethodPost, "/api/login", "", map[string]string{"identifier": "admin", "password": "NoAdmin123"})
	require.Equal(t, http.StatusOK, code, string(raw))
	admin := decode[struct {
		IsAdmin bool   `json:"isAdmin"`
		Token   string `json:"token"`
	}](t, raw)
	require.True(t, admin.IsAdmin)

	// Students cannot reach admin routes, and admins have no dashboard.
	code, _ = c.do(http.MethodGet, "/api/admin/students", reg.Token, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = c.do(http.MethodGet, "/api/student/dashboard", admin.Token, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = c.do(http.MethodGet, "/api/admin/transactions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, raw = c.do(http.MethodPost, "/api/admin/transactions", admin.Token, map[string]any{
		"studentId": reg.Student.ID,
		"wasteType": "plastic",
		"weight":    "2.50",
		"points":    10,
	})
	require.Equal(t, http.StatusOK, code, string(raw))

	code, raw = c.do(http.MethodGet, "/api/student/dashboard", reg.Token, nil)
	require.Equal(t, http.StatusOK, code, string(raw))
	dash := decode[struct {
		Student struct {
			TotalPoints int `json:"totalPoints"`
		} `json:"student"`
		Transactions []struct {
			Weight string `json:"weight"`
			Points int    `json:"points"`
		} `json:"transactions"`
		Stats struct {
			TotalWeight   string `json:"totalWeight"`
			GiftsReceived int    `json:"giftsReceived"`
		} `json:"stats"`
	}](t, raw)
	assert.Equal(t, 10, dash.Student.TotalPoints)
	require.Len(t, dash.Transactions, 1)
	assert.Equal(t, "2.50", dash.Transactions[0].Weight)
	assert.Equal(t, "2.5", dash.Stats.TotalWeight)
	assert.Zero(t, dash.Stats.GiftsReceived)

	code, raw = c.do(http.MethodGet, "/api/me", reg.Token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(raw), `"studentId":"S1"`)

	code, raw = c.do(http.MethodPost, "/api/logout", reg.Token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"success":true}`, string(raw))

	code, _ = c.do(http.MethodGet, "/api/student/dashboard", reg.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, code, "revoked token")

	code, raw = c.do(http.MethodPost, "/api/logout", reg.Token, nil)
	assert.Equal(t, http.StatusOK, code, "logout is idempotent")
	assert.JSONEq(t, `{"success":true}`, string(raw))
}

func TestUpcomingSession(t *testing.T) {
	cfg := testConfig()
	cfg.Seed.MarketSession = true
	c := newTestApp(t, cfg)

	code, raw := c.do(http.MethodGet, "/api/upcoming-session", "", nil)
	require.Equal(t, http.StatusOK, code)
	seeded := decode[struct {
		ID    int64     `json:"id"`
		Date  time.Time `json:"date"`
		Title string    `json:"title"`
	}](t, raw)
	assert.NotZero(t, seeded.ID)
	assert.True(t, seeded.Date.After(time.Now()))

	code, raw = c.do(http.MethodPost, "/api/login", "", map[string]string{"identifier": "admin", "password": "NoAdmin123"})
	require.Equal(t, http.StatusOK, code)
	token := decode[struct {
		Token string `json:"token"`
	}](t, raw).Token

	sooner := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)
	code, raw = c.do(http.MethodPost, "/api/admin/market-sessions", token, map[string]string{
		"title":      "Sooner",
		"date":       sooner,
		"location":   "Hall B",
		"timeSlot":   "9:00 - 11:00",
		"wasteTypes": "paper",
		"gifts":      "seeds",
	})
	require.Equal(t, http.StatusOK, code, string(raw))

	code, raw = c.do(http.MethodGet, "/api/upcoming-session", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(raw), `"title":"Sooner"`)

	code, raw = c.do(http.MethodGet, "/api/market-sessions", "", nil)
	require.Equal(t, http.StatusOK, code)
	list := decode[[]struct {
		Title string `json:"title"`
	}](t, raw)
	require.Len(t, list, 2)
	assert.Equal(t, "Sooner", list[0].Title)
}

func loginAdmin(t *testing.T, c client) string {
	t.Helper()
	code, raw := c.do(http.MethodPost, "/api/login", "", map[string]string{"identifier": "admin", "password": "NoAdmin123"})
	require.Equal(t, http.StatusOK, code, string(raw))
	return decode[struct {
		Token string `json:"token"`
	}](t, raw).Token
}

func TestImportEndsExistingSessions(t *testing.T) {
	c := newTestApp(t, testConfig())

	code, raw := c.do(http.MethodPost, "/api/register", "", map[string]string{
		"fullName":  "Alice",
		"studentId": "S1",
		"email":     "alice@uni.edu",
		"major":     "CS",
		"phone":     "0900000000",
		"password":  "secret1",
	})
	require.Equal(t, http.StatusOK, code, string(raw))
	alice := decode[struct {
		Student struct {
			ID int64 `json:"id"`
		} `json:"student"`
		Token string `json:"token"`
	}](t, raw)
	require.Equal(t, int64(1), alice.Student.ID)

	admin := loginAdmin(t, c)

	// Student id 1 now belongs to somebody else.
	code, raw = c.do(http.MethodPost, "/api/admin/backup", admin, map[string]any{
		"students": []map[string]any{{
			"id": 1, "fullName": "Bob", "studentId": "S2", "email": "bob@uni.edu",
			"major": "Math", "phone": "0911111111", "password": "hash", "totalPoints": 50,
		}},
		"transactions":   []any{},
		"marketSessions": []any{},
		"admins":         []map[string]any{{"id": 1, "username": "admin", "password": "hash"}},
	})
	require.Equal(t, http.StatusOK, code, string(raw))

	code, raw = c.do(http.MethodGet, "/api/me", alice.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, code, string(raw))
	assert.NotContains(t, string(raw), "Bob")

	code, _ = c.do(http.MethodGet, "/api/student/dashboard", alice.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = c.do(http.MethodGet, "/api/admin/students", admin, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestClearStore(t *testing.T) {
	cfg := testConfig()
	cfg.Seed.MarketSession = true
	c := newTestApp(t, cfg)

	code, raw := c.do(http.MethodPost, "/api/register", "", map[string]string{
		"fullName":  "Nguyen Van A",
		"studentId": "S1",
		"email":     "a@uni.edu",
		"major":     "CS",
		"phone":     "0900000000",
		"password":  "secret1",
	})
	require.Equal(t, http.StatusOK, code, string(raw))
	student := decode[struct {
		Token string `json:"token"`
	}](t, raw).Token

	admin := loginAdmin(t, c)
	code, raw = c.do(http.MethodPost, "/api/admin/market-sessions", admin, map[string]string{
		"title":      "Extra",
		"date":       time.Now().Add(72 * time.Hour).UTC().Format(time.RFC3339),
		"location":   "Hall B",
		"timeSlot":   "9:00 - 11:00",
		"wasteTypes": "paper",
		"gifts":      "seeds",
	})
	require.Equal(t, http.StatusOK, code, string(raw))

	code, _ = c.do(http.MethodDelete, "/api/admin/backup", student, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, raw = c.do(http.MethodDelete, "/api/admin/backup", admin, nil)
	require.Equal(t, http.StatusOK, code, string(raw))
	assert.JSONEq(t, `{"success":true}`, string(raw))

	code, _ = c.do(http.MethodGet, "/api/me", student, nil)
	assert.Equal(t, http.StatusUnauthorized, code, "sessions end with the data")
	code, _ = c.do(http.MethodGet, "/api/admin/students", admin, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	// The seeded admin and market session come back.
	admin = loginAdmin(t, c)
	code, raw = c.do(http.MethodGet, "/api/admin/students", admin, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(raw))

	code, raw = c.do(http.MethodGet, "/api/market-sessions", "", nil)
	require.Equal(t, http.StatusOK, code)
	list := decode[[]struct {
		Title string `json:"title"`
	}](t, raw)
	require.Len(t, list, 1)
	assert.Equal(t, defaultMarketSession(time.Now()).Title, list[0].Title)
}

func TestRoutingAndHealth(t *testing.T) {
	c := newTestApp(t, testConfig())

	code, raw := c.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, string(raw))

	code, raw = c.do(http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, code, string(raw))

	code, raw = c.do(http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, string(raw), "route_not_found")

	code, _ = c.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusNotFound, code, "no exporter, no /metrics")
}

func TestLoginRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.LoginRatePerMinute = 2
	c := newTestApp(t, cfg)

	creds := map[string]string{"identifier": "admin", "password": "wrong"}
	for range 2 {
		code, _ := c.do(http.MethodPost, "/api/login", "", creds)
		assert.Equal(t, http.StatusUnauthorized, code)
	}
	code, _ := c.do(http.MethodPost, "/api/login", "", creds)
	assert.Equal(t, http.StatusTooManyRequests, code)
}

func TestNew_UnknownDriver(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Driver = "mongo"
	_, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}
