// Package middleware holds the net/http middleware shared by every handler:
// session authentication and route guards, CORS and rate limiting.
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"greenmarket/internal/apperr"
	"greenmarket/internal/domain"
	"greenmarket/internal/httputil"
	"greenmarket/internal/session"
)

type contextKey string

const (
	identityKey contextKey = "identity"
	tokenKey    contextKey = "session_token"
)

// Authenticator resolves the session header into an identity on the request
// context and guards routes on it.
type Authenticator struct {
	sessions *session.Manager
	header   string
	logger   *slog.Logger
	locale   string
}

func NewAuthenticator(sessions *session.Manager, header string, logger *slog.Logger, locale string) *Authenticator {
	return &Authenticator{sessions: sessions, header: header, logger: logger, locale: locale}
}

// Header is the request header carrying the session token.
func (a *Authenticator) Header() string {
	return a.header
}

// Authenticate attaches the identity behind the session header, if any.
// Requests without a valid token pass through anonymously, and so do requests
// whose token cannot be looked up because the session store failed.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(a.header)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), tokenKey, token)

		identity, err := a.sessions.Resolve(ctx, token)
		if err != nil {
			a.logger.WarnContext(ctx, "session lookup failed, continuing anonymously", "error", err, "path", r.URL.Path)
		}
		if identity != nil {
			ctx = context.WithValue(ctx, identityKey, *identity)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth rejects anonymous requests with 401.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return a.require(func(domain.Identity) bool { return true }, next)
}

// RequireAdmin rejects anonymous requests with 401 and non-admins with 403.
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return a.require(func(id domain.Identity) bool { return id.IsAdmin }, next)
}

// RequireStudent rejects anonymous requests with 401 and identities without a
// student record with 403.
func (a *Authenticator) RequireStudent(next http.Handler) http.Handler {
	return a.require(func(id domain.Identity) bool { return id.StudentID > 0 }, next)
}

func (a *Authenticator) require(allowed func(domain.Identity) bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFrom(r.Context())
		if !ok {
			a.logger.InfoContext(r.Context(), "unauthenticated request", "path", r.URL.Path)
			httputil.RespondWithAppError(w, r, a.logger, a.locale, apperr.ErrUnauthenticated)
			return
		}
		if !allowed(identity) {
			a.logger.WarnContext(r.Context(), "forbidden request",
				"path", r.URL.Path,
				"student_id", identity.StudentID,
				"is_admin", identity.IsAdmin,
			)
			httputil.RespondWithAppError(w, r, a.logger, a.locale, apperr.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IdentityFrom returns the identity Authenticate attached to ctx.
func IdentityFrom(ctx context.Context) (domain.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(domain.Identity)
	return identity, ok
}

// TokenFrom returns the raw session token of the request, even when it did
// not resolve to an identity.
func TokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey).(string)
	return token
}

// WithIdentity returns ctx carrying identity, as Authenticate would.
func WithIdentity(ctx context.Context, identity domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}
