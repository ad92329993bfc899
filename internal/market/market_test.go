package market

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

	"greenmarket/internal/apperr"
	"greenmarket/internal/domain"
	"greenmarket/internal/httputil"
	"greenmarket/internal/storage/memory"
	"greenmarket/internal/validation"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestSelectUpcoming(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	at := func(id int64, d time.Duration) domain.MarketSession {
		return domain.MarketSession{ID: id, Title: "S", Date: now.Add(d)}
	}

	tests := []struct {
		name     string
		sessions []domain.MarketSession
		wantID   int64
	}{
		{"empty registry", nil, 0},
		{"all in the past", []domain.MarketSession{at(1, -time.Hour), at(2, -48 * time.Hour)}, 0},
		{"exactly now is not upcoming", []domain.MarketSession{at(1, 0)}, 0},
		{"earliest future wins", []domain.MarketSession{at(1, 48 * time.Hour), at(2, time.Hour), at(3, -time.Hour)}, 2},
		{"tie broken by id", []domain.MarketSession{at(5, time.Hour), at(3, time.Hour), at(4, 2 * time.Hour)}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectUpcoming(tt.sessions, now)
			if tt.wantID == 0 {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}
}

func TestService_UpcomingFollowsClock(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	svc := NewService(memory.New(), nil, discard)
	svc.now = func() time.Time { return now }

	got, err := svc.Upcoming(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	m := &domain.MarketSession{Title: "Chợ Xanh", Date: now.Add(time.Hour), Location: "Sảnh A", TimeSlot: "8h-11h", WasteTypes: "Giấy", Gifts: "Cây"}
	require.NoError(t, svc.Create(ctx, m))

	got, err = svc.Upcoming(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, m.ID, got.ID)

	now = now.Add(2 * time.Hour)
	got, err = svc.Upcoming(ctx)
	require.NoError(t, err)
	assert.Nil(t, got, "a session in the past is never upcoming")
}

func TestService_UpdateDelete(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.New(), nil, discard)

	_, err := svc.Update(ctx, 42, domain.MarketSessionPatch{})
	assert.ErrorIs(t, err, apperr.ErrMarketSessionNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, 42), apperr.ErrMarketSessionNotFound)

	m := &domain.MarketSession{Title: "A", Date: time.Now().Add(time.Hour), Location: "L", TimeSlot: "T", WasteTypes: "W", Gifts: "G"}
	require.NoError(t, svc.Create(ctx, m))

	title := "B"
	updated, err := svc.Update(ctx, m.ID, domain.MarketSessionPatch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "B", updated.Title)
	assert.Equal(t, "L", updated.Location)

	require.NoError(t, svc.Delete(ctx, m.ID))
	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func newTestRouter(t *testing.T) (chi.Router, *Service) {
	t.Helper()
	v, err := validation.New()
	require.NoError(t, err)
	svc := NewService(memory.New(), nil, discard)
	h := NewHandler(svc, v, discard, "en")

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		h.RegisterRoutes(r)
		r.Route("/admin", h.RegisterAdminRoutes)
	})
	return r, svc
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandler_MarketSessions(t *testing.T) {
	router, _ := newTestRouter(t)
	future := time.Now().Add(72 * time.Hour).UTC().Truncate(time.Second)

	w := do(t, router, http.MethodGet, "/api/upcoming-session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "null", string(bytes.TrimSpace(w.Body.Bytes())), "no session yields JSON null")

	var created domain.MarketSession
	t.Run("create", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/api/admin/market-sessions", map[string]string{
			"title":      "Chợ Xanh tháng 6",
			"date":       future.Format("2006-01-02T15:04:05.000Z07:00"),
			"location":   "Sảnh tòa nhà A",
			"timeSlot":   "8:00 - 11:00",
			"wasteTypes": "Giấy, nhựa",
			"gifts":      "Cây xanh",
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		require.NoError(t, json.NewDecoder(w.Body).Decode(&created))
		assert.NotZero(t, created.ID)
		assert.True(t, future.Equal(created.Date))
	})

	t.Run("create invalid", func(t *testing.T) {
		w := do(t, router, http.MethodPost, "/api/admin/market-sessions", map[string]string{
			"title": "  ",
			"date":  "next tuesday",
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
		var resp httputil.ErrorBody
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		fields := map[string]bool{}
		for _, fe := range resp.Errors {
			fields[fe.Field] = true
		}
		assert.True(t, fields["title"])
		assert.True(t, fields["date"])
		assert.True(t, fields["location"])
	})

	t.Run("upcoming", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/api/upcoming-session", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var got domain.MarketSession
		require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
		assert.Equal(t, created.ID, got.ID)
	})

	t.Run("partial update", func(t *testing.T) {
		w := do(t, router, http.MethodPut, "/api/admin/market-sessions/"+itoa(created.ID), map[string]string{"location": "Sân trường"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var got domain.MarketSession
		require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
		assert.Equal(t, "Sân trường", got.Location)
		assert.Equal(t, created.Title, got.Title)

		w = do(t, router, http.MethodPut, "/api/admin/market-sessions/"+itoa(created.ID), map[string]string{"title": ""})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = do(t, router, http.MethodPut, "/api/admin/market-sessions/"+itoa(created.ID), map[string]string{"gifts": " \t "})
		assert.Equal(t, http.StatusBadRequest, w.Code, "blank after trimming")
	})

	t.Run("delete", func(t *testing.T) {
		w := do(t, router, http.MethodDelete, "/api/admin/market-sessions/"+itoa(created.ID), nil)
		require.Equal(t, http.StatusOK, w.Code)

		w = do(t, router, http.MethodDelete, "/api/admin/market-sessions/"+itoa(created.ID), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = do(t, router, http.MethodDelete, "/api/admin/market-sessions/abc", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("list", func(t *testing.T) {
		w := do(t, router, http.MethodGet, "/api/market-sessions", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "[]", string(bytes.TrimSpace(w.Body.Bytes())))
	})
}

func itoa(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
