package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"greenmarket/internal/apperr"
	"greenmarket/internal/httputil"
	"greenmarket/internal/middleware"
	"greenmarket/internal/student"
	"greenmarket/internal/validation"

	"github.com/go-chi/chi/v5"
)

type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
}

type Handler struct {
	service   *Service
	validate  *validation.Validator
	guard     *middleware.Authenticator
	loginRate func(http.Handler) http.Handler
	logger    *slog.Logger
	locale    string
}

// NewHandler returns the auth handler; loginRate may be nil to disable login
// rate limiting. See middleware.RateLimit.
func NewHandler(service *Service, validate *validation.Validator, guard *middleware.Authenticator, loginRate func(http.Handler) http.Handler, logger *slog.Logger, locale string) *Handler {
	return &Handler{
		service:   service,
		validate:  validate,
		guard:     guard,
		loginRate: loginRate,
		logger:    logger,
		locale:    locale,
	}
}

// RegisterRoutes mounts the auth routes; r must run guard.Authenticate.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/register", h.Register)
	if h.loginRate != nil {
		r.With(h.loginRate).Post("/login", h.Login)
	} else {
		r.Post("/login", h.Login)
	}
	r.Post("/logout", h.Logout)
	r.With(h.guard.RequireAuth).Get("/me", h.Me)
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req student.Registration
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.RespondWithAppError(w, r, h.logger, h.locale, err)
		return
	}
	req.TrimSpace()
	if err := h.validate.Struct(h.locale, req); err != nil {
		httputil.RespondWithAppError(w, r, h.logger, h.locale, err)
		return
	}

	res, err := h.service.Register(r.Context(), req)
	if err != nil {
		httputil.RespondWithAppError(w, r, h.logger, h.locale, err)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, res)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.RespondWithAppError(w, r, h.logger, h.locale, err)
		return
	}
	req.Identifier = strings.TrimSpace(req.Identifier)
	if err := h.validate.Struct(h.locale, req); err != nil {
		httputil.RespondWithAppError(w, r, h.logger, h.locale, err)
		return
	}

	res, err := h.service.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		httputil.RespondWithAppError(w, r, h.logger, h.locale, err)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, res)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := middleware.TokenFrom(r.Context()); token != "" {
		h.service.Logout(r.Context(), token)
	}
	httputil.RespondWithJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		httputil.RespondWithAppError(w, r, h.logger, h.locale, apperr.ErrUnauthenticated)
		return
	}

	me, err := h.service.Me(r.Context(), identity)
	if err != nil {
		httputil.RespondWithAppError(w, r, h.logger, h.locale, err)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, me)
}
