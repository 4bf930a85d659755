package middleware

import (
	"net/http"
	"strings"
)

// CORS allows the configured origin plus preview deployments of the
// dashboard. The API is read-only.
func CORS(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqOrigin := r.Header.Get("Origin")
			allowed := origin

			if reqOrigin != "" && isAllowed(reqOrigin, origin) {
				allowed = reqOrigin
			}

			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Add("Vary", "Origin")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isAllowed(reqOrigin, configured string) bool {
	if configured == "*" || reqOrigin == configured {
		return true
	}
	// Vercel preview deployments of the dashboard
	return strings.HasPrefix(reqOrigin, "https://tvl-dashboard-") &&
		strings.HasSuffix(reqOrigin, ".vercel.app")
}
