package middleware

import (
	"net/http"
	"strings"

	"auction-engine/pkg/logger"
)

const (
	allowedMethods = "GET, POST, OPTIONS"
	allowedHeaders = "Accept, Content-Type, Content-Length, Authorization, X-Requested-With, X-User-ID"
)

// CORS lets browser bidders open the websocket and health endpoints from any
// origin. An empty allowOrigins list means "*".
func CORS(log logger.Logger, allowOrigins ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if allowed := allowOrigin(origin, allowOrigins); allowed != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowed)
				w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
				w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				log.Debug("Handling CORS preflight", "path", r.URL.Path, "origin", origin)
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func allowOrigin(origin string, allowOrigins []string) string {
	if len(allowOrigins) == 0 {
		return "*"
	}
	for _, o := range allowOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return o
		}
	}
	return ""
}
