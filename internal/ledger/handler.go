package ledger

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"greenmarket/internal/httputil"
	"greenmarket/internal/validation"

	"github.com/go-chi/chi/v5"
)

// CreateRequest accepts weight either as a JSON number or a numeric string.
type CreateRequest struct {
	StudentID int64       `json:"studentId" validate:"required,min=1"`
	WasteType string      `json:"wasteType" validate:"required,max=100"`
	Weight    json.Number `json:"weight" validate:"required,weight"`
	Points    *int        `json:"points" validate:"required,min=0"`
	Gift      *string     `json:"gift" validate:"omitempty,max=200"`
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

// RegisterRoutes mounts the admin transaction routes; r must already be
// guarded for admins.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/transactions", h.ListTransactions)
	r.Post("/transactions", h.CreateTransaction)
}

func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.RespondWithAppError(w, r, h.logger, h.locale, err)
		return
	}
	if err := h.validate.Struct(h.locale, req); err != nil {
		httputil.RespondWithAppError(w, r, h.logger, h.locale, err)
		return
	}

	t, err := h.service.Create(r.Context(), NewTransaction{
		StudentID: req.StudentID,
		WasteType: req.WasteType,
		Weight:    req.Weight.String(),
		Points:    *req.Points,
		Gift:      req.Gift,
	})
	if err != nil {
		httputil.RespondWithAppError(w, r, h.logger, h.locale, err)
		return
	}

	httputil.RespondWithJSON(w, http.StatusOK, t)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListAll(r.Context())
	if err != nil {
		httputil.RespondWithAppError(w, r, h.logger, h.locale, err)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, list)
}
