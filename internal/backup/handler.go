package backup

import (
	"fmt"
	"log/slog"
	"net/http"

	"greenmarket/internal/domain"
	"greenmarket/internal/httputil"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
	locale  string
}

func NewHandler(service *Service, logger *slog.Logger, locale string) *Handler {
	return &Handler{service: service, logger: logger, locale: locale}
}

// RegisterRoutes mounts the backup routes; r must be guarded for admins.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/backup", h.ExportBackup)
	r.Post("/backup", h.ImportBackup)
	r.Delete("/backup", h.ClearBackup)
}

func (h *Handler) ExportBackup(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Export(r.Context())
	if err != nil {
		httputil.RespondWithAppError(w, r, h.logger, h.locale, err)
		return
	}

	filename := fmt.Sprintf("greenmarket-backup-%s.json", snap.ExportDate.Format("2006-01-02"))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	httputil.RespondWithJSON(w, http.StatusOK, snap)
}

func (h *Handler) ImportBackup(w http.ResponseWriter, r *http.Request) {
	var snap domain.Snapshot
	if err := httputil.DecodeJSON(r, &snap); err != nil {
		httputil.RespondWithAppError(w, r, h.logger, h.locale, err)
		return
	}

	counts, err := h.service.Import(r.Context(), &snap)
	if err != nil {
		httputil.RespondWithAppError(w, r, h.logger, h.locale, err)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, map[string]any{"success": true, "imported": counts})
}

// ClearBackup wipes every collection and restores the seeded defaults.
func (h *Handler) ClearBackup(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Clear(r.Context()); err != nil {
		httputil.RespondWithAppError(w, r, h.logger, h.locale, err)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, map[string]bool{"success": true})
}
