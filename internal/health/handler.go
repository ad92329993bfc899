package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"greenmarket/internal/httputil"
	"greenmarket/internal/metrics"

	"github.com/go-chi/chi/v5"
)

// Pinger is a dependency whose reachability decides readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

const checkTimeout = 2 * time.Second

type Handler struct {
	checks  map[string]Pinger
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewHandler(checks map[string]Pinger, m *metrics.Metrics, logger *slog.Logger) *Handler {
	return &Handler{checks: checks, metrics: m, logger: logger}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/ready", h.Ready)
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.RespondWithJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Ready pings every dependency and answers 503 if any is down.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ready", Checks: make(map[string]string, len(h.checks))}
	code := http.StatusOK

	for name, dep := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		start := time.Now()
		err := dep.Ping(ctx)
		cancel()

		h.metrics.Health.RecordDependencyCheck(r.Context(), name, time.Since(start), err)
		if err != nil {
			h.logger.WarnContext(r.Context(), "readiness check failed", "dependency", name, "error", err)
			resp.Checks[name] = "down"
			resp.Status = "unavailable"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "up"
	}

	httputil.RespondWithJSON(w, code, resp)
}
