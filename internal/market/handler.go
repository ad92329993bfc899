package market

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"greenmarket/internal/apperr"
	"greenmarket/internal/domain"
	"greenmarket/internal/httputil"
	"greenmarket/internal/validation"

	"github.com/go-chi/chi/v5"
)

const dateLayout = time.RFC3339

type CreateRequest struct {
	Title      string `json:"title" validate:"required,max=200"`
	Date       string `json:"date" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	Location   string `json:"location" validate:"required,max=200"`
	TimeSlot   string `json:"timeSlot" validate:"required,max=100"`
	WasteTypes string `json:"wasteTypes" validate:"required"`
	Gifts      string `json:"gifts" validate:"required"`
}

// UpdateRequest fields are optional; present ones must not be empty.
type UpdateRequest struct {
	Title      *string `json:"title" validate:"omitnil,min=1,max=200"`
	Date       *string `json:"date" validate:"omitnil,datetime=2006-01-02T15:04:05Z07:00"`
	Location   *string `json:"location" validate:"omitnil,min=1,max=200"`
	TimeSlot   *string `json:"timeSlot" validate:"omitnil,min=1,max=100"`
	WasteTypes *string `json:"wasteTypes" validate:"omitnil,min=1"`
	Gifts      *string `json:"gifts" validate:"omitnil,min=1"`
}

type Handler struct {
	service  *Service
	validate *validation.Validator
	logger   *slog.Logger
	locale   string
}

func NewHandler(service *Service, validate *validation.Validator, logger *slog.Logger, locale string) *Handler {
	return &Handler{
		service:  service,
		validate: validate,
		logger:   logger,
		locale:   locale,
	}
}

// RegisterRoutes mounts the public read routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/market-sessions", h.ListSessions)
	r.Get("/upcoming-session", h.UpcomingSession)
}

// RegisterAdminRoutes mounts the write routes; r must be guarded for admins.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/market-sessions", h.CreateSession)
	r.Put("/market-sessions/{id}", h.UpdateSession)
	r.Delete("/market-sessions/{id}", h.DeleteSession)
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		httputil.RespondWithAppError(w, r, h.logger, h.locale, err)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, list)
}

// UpcomingSession responds with the next session or JSON null.
func (h *Handler) UpcomingSession(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.Upcoming(r.Context())
	if err != nil {
		httputil.RespondWithAppError(w, r, h.logger, h.locale, err)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, m)
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.RespondWithAppError(w, r, h.logger, h.locale, err)
		return
	}
	trimAll(&req.Title, &req.Location, &req.TimeSlot, &req.WasteTypes, &req.Gifts)
	if err := h.validate.Struct(h.locale, req); err != nil {
		httputil.RespondWithAppError(w, r, h.logger, h.locale, err)
		return
	}

	date, _ := time.Parse(dateLayout, req.Date)
	m := &domain.MarketSession{
		Title:      req.Title,
		Date:       date,
		Location:   req.Location,
		TimeSlot:   req.TimeSlot,
		WasteTypes: req.WasteTypes,
		Gifts:      req.Gifts,
	}
	if err := h.service.Create(r.Context(), m); err != nil {
		httputil.RespondWithAppError(w, r, h.logger, h.locale, err)
		return
	}

	httputil.RespondWithJSON(w, http.StatusOK, m)
}

func (h *Handler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var req UpdateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.RespondWithAppError(w, r, h.logger, h.locale, err)
		return
	}
	trimAll(req.Title, req.Location, req.TimeSlot, req.WasteTypes, req.Gifts)
	if err := h.validate.Struct(h.locale, req); err != nil {
		httputil.RespondWithAppError(w, r, h.logger, h.locale, err)
		return
	}

	patch := domain.MarketSessionPatch{
		Title:      req.Title,
		Location:   req.Location,
		TimeSlot:   req.TimeSlot,
		WasteTypes: req.WasteTypes,
		Gifts:      req.Gifts,
	}
	if req.Date != nil {
		date, _ := time.Parse(dateLayout, *req.Date)
		patch.Date = &date
	}

	m, err := h.service.Update(r.Context(), id, patch)
	if err != nil {
		httputil.RespondWithAppError(w, r, h.logger, h.locale, err)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, m)
}

func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		httputil.RespondWithAppError(w, r, h.logger, h.locale, err)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httputil.RespondWithAppError(w, r, h.logger, h.locale,
			apperr.Validation(apperr.FieldError{Field: "id", Message: "invalid market session id"}))
		return 0, false
	}
	return id, true
}

func trimAll(fields ...*string) {
	for _, f := range fields {
		if f != nil {
			*f = strings.TrimSpace(*f)
		}
	}
}
