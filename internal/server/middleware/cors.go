package middleware

import (
	"log/slog"
	"net/http"
	"slices"

	"github.com/iudanet/authgate/internal/server/httperr"
)

// NewCORSMiddleware возвращает CORS middleware для списка разрешенных origin.
// "*" в списке разрешает любой origin. Preflight запросы OPTIONS получают 204,
// preflight с чужого origin получает 403.
func NewCORSMiddleware(allowedOrigins []string, logger *slog.Logger) func(next http.Handler) http.Handler {
	allowAny := slices.Contains(allowedOrigins, "*")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Не cross-origin запрос
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Add("Vary", "Origin")

			allowed := allowAny || slices.Contains(allowedOrigins, origin)
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

			if !allowed {
				if preflight {
					logger.WarnContext(r.Context(), "cors origin rejected", slog.String("origin", origin))
					httperr.WriteError(w, logger, http.StatusForbidden, "origin_not_allowed", "origin not allowed")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Expose-Headers", "Retry-After, X-RateLimit-Limit, X-RateLimit-Remaining, X-Request-Id")

			// OPTIONS preflight отвечаем 204
			if preflight {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
