package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/iudanet/authgate/internal/server/httperr"
)

// RecoveryMiddleware нормализует ошибки последующих стадий.
// Перехватывает panic, логирует стек вызовов и возвращает 500 в формате api.ErrorResponse.
func RecoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				// Логируем критическую ошибку со стеком
				logger.ErrorContext(r.Context(), "panic recovered",
					slog.Any("panic", rec),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("stack", string(debug.Stack())),
				)

				// Возвращаем generic ошибку клиенту (не раскрываем детали)
				httperr.Write(w, r, logger, fmt.Errorf("panic: %v", rec))
			}()

			// Передаем управление следующему обработчику
			next.ServeHTTP(w, r)
		})
	}
}

// NotFoundHandler отвечает 404 в формате api.ErrorResponse
func NotFoundHandler(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httperr.Write(w, r, logger, httperr.ErrNotFound)
	}
}

// MethodNotAllowedHandler отвечает 405 в формате api.ErrorResponse
func MethodNotAllowedHandler(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httperr.WriteError(w, logger, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}
