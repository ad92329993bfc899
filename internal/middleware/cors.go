package middleware

import (
	"net/http"
	"strings"
)

// CORS allows cross-origin calls from allowedOrigins. An empty list, or one
// containing "*", allows any origin.
func CORS(allowedOrigins []string, sessionHeader string) func(http.Handler) http.Handler {
	anyOrigin := len(allowedOrigins) == 0
	originSet := make(map[string]bool)
	for _, origin := range allowedOrigins {
		if origin == "*" {
			anyOrigin = true
		}
		originSet[origin] = true
	}

	allowHeaders := strings.Join([]string{"Content-Type", "Authorization", sessionHeader}, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" && (anyOrigin || originSet[origin]) {
				h := w.Header()
				if anyOrigin {
					h.Set("Access-Control-Allow-Origin", "*")
				} else {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Access-Control-Allow-Credentials", "true")
					h.Add("Vary", "Origin")
				}
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", allowHeaders)
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
