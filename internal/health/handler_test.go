package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"greenmarket/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHandler(t *testing.T) {
	up := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	serve := func(checks map[string]Pinger, path string) (*httptest.ResponseRecorder, HealthResponse) {
		r := chi.NewRouter()
		NewHandler(checks, metrics.NewMock(), logger).RegisterRoutes(r)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		var resp HealthResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		return w, resp
	}

	w, resp := serve(map[string]Pinger{"storage": down}, "/health")
	assert.Equal(t, http.StatusOK, w.Code, "liveness ignores dependencies")
	assert.Equal(t, "ok", resp.Status)

	w, resp = serve(map[string]Pinger{"storage": up, "sessions": up}, "/ready")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, map[string]string{"storage": "up", "sessions": "up"}, resp.Checks)

	w, resp = serve(map[string]Pinger{"storage": up, "sessions": down}, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unavailable", resp.Status)
	assert.Equal(t, "down", resp.Checks["sessions"])
}
