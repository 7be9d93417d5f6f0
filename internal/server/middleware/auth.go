package middleware

import (
	"log/slog"
	"net/http"

	"github.com/iudanet/authgate/internal/server/handlers"
	"github.com/iudanet/authgate/internal/server/httperr"
	"github.com/iudanet/authgate/internal/server/metrics"
	"github.com/iudanet/authgate/internal/server/tokens"
)

// AuthMiddleware создает middleware для проверки JWT access token.
// user id из токена кладется в контекст запроса.
func AuthMiddleware(verifier tokens.Verifier, logger *slog.Logger, rec metrics.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := handlers.VerifyBearer(r, verifier)
			if err != nil {
				p := httperr.Classify(err)
				logger.WarnContext(r.Context(), "access token rejected",
					slog.String("reason", p.Code),
					slog.String("path", r.URL.Path))
				rec.RecordAuthFailure(p.Code)

				httperr.Write(w, r, logger, err)
				return
			}

			logger.DebugContext(r.Context(), "user authenticated", slog.String("user_id", userID))

			// Передаем запрос дальше с обновленным контекстом
			next.ServeHTTP(w, r.WithContext(handlers.WithUserID(r.Context(), userID)))
		})
	}
}
