package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"greenmarket/internal/apperr"
)

// ErrorBody is the envelope every error response uses.
type ErrorBody struct {
	Message string              `json:"message"`
	Code    string              `json:"code,omitempty"`
	Errors  []apperr.FieldError `json:"errors,omitempty"`
}

// RespondWithError writes an error response in JSON format
func RespondWithError(w http.ResponseWriter, code int, message string) {
	RespondWithJSON(w, code, ErrorBody{Message: message})
}

// RespondWithJSON writes a JSON response
func RespondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// RespondWithAppError renders err with its localized message. Internal errors
// are logged with their cause and rendered without it.
func RespondWithAppError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, locale string, err error) {
	appErr := apperr.From(err)

	if appErr.Kind == apperr.KindInternal {
		logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}

	RespondWithJSON(w, appErr.Kind.Status(), ErrorBody{
		Message: apperr.Message(locale, appErr.Code),
		Code:    appErr.Code,
		Errors:  appErr.Fields,
	})
}

// maxBodyBytes bounds request bodies; backups are the largest payload.
const maxBodyBytes = 16 << 20

// DecodeJSON decodes the request body into dst. Malformed JSON is reported as
// a validation error.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation(apperr.FieldError{Field: "body", Message: "request body is empty"})
		}
		return apperr.Validation(apperr.FieldError{Field: "body", Message: "malformed JSON"}).Wrap(err)
	}
	return nil
}
