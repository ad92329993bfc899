package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"greenmarket/internal/apperr"
	"greenmarket/internal/httputil"

	"github.com/go-chi/httprate"
)

// RateLimit allows perMinute requests per client IP over a sliding one-minute
// window. The IP comes from RemoteAddr, which chi's RealIP middleware may
// already have rewritten. Rejected requests get the too_many_requests error.
func RateLimit(perMinute int, logger *slog.Logger, locale string) func(http.Handler) http.Handler {
	return httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			logger.WarnContext(r.Context(), "rate limit exceeded", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			httputil.RespondWithAppError(w, r, logger, locale, apperr.ErrTooManyRequests)
		}),
	)
}
