package student

import (
	"log/slog"
	"net/http"
	"strconv"

	"greenmarket/internal/apperr"
	"greenmarket/internal/httputil"
	"greenmarket/internal/middleware"
	"greenmarket/internal/validation"

	"github.com/go-chi/chi/v5"
)

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

// RegisterStudentRoutes mounts routes for the logged-in student; r must be
// guarded for students.
func (h *Handler) RegisterStudentRoutes(r chi.Router) {
	r.Get("/student/dashboard", h.GetDashboard)
}

// RegisterAdminRoutes mounts roster maintenance; r must be guarded for admins.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/students", h.ListStudents)
	r.Get("/students/{id}", h.GetStudent)
	r.Put("/students/{id}", h.UpdateStudent)
	r.Delete("/students/{id}", h.DeleteStudent)
}

func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok || identity.StudentID == 0 {
		httputil.RespondWithAppError(w, r, h.logger, h.locale, apperr.ErrUnauthenticated)
		return
	}

	dashboard, err := h.service.Dashboard(r.Context(), identity.StudentID)
	if err != nil {
		httputil.RespondWithAppError(w, r, h.logger, h.locale, err)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, dashboard)
}

func (h *Handler) ListStudents(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "fetching all students")

	list, err := h.service.List(r.Context())
	if err != nil {
		httputil.RespondWithAppError(w, r, h.logger, h.locale, err)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, list)
}

func (h *Handler) GetStudent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	st, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.RespondWithAppError(w, r, h.logger, h.locale, err)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, st)
}

func (h *Handler) UpdateStudent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	var req Update
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.RespondWithAppError(w, r, h.logger, h.locale, err)
		return
	}
	req.TrimSpace()
	if err := h.validate.Struct(h.locale, req); err != nil {
		httputil.RespondWithAppError(w, r, h.logger, h.locale, err)
		return
	}

	h.logger.InfoContext(r.Context(), "updating student", "id", id)
	st, err := h.service.Update(r.Context(), id, req)
	if err != nil {
		httputil.RespondWithAppError(w, r, h.logger, h.locale, err)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, st)
}

func (h *Handler) DeleteStudent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseID(w, r)
	if !ok {
		return
	}

	h.logger.InfoContext(r.Context(), "deleting student", "id", id)
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
			apperr.Validation(apperr.FieldError{Field: "id", Message: "invalid student id"}))
		return 0, false
	}
	return id, true
}
