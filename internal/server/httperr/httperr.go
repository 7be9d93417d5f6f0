// Package httperr переводит ошибки домена в HTTP статус и JSON тело api.ErrorResponse.
// Детали внутренних ошибок попадают только в лог, клиенту уходит общий текст.
package httperr

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/iudanet/authgate/internal/server/credentials"
	"github.com/iudanet/authgate/internal/server/ledger"
	"github.com/iudanet/authgate/internal/server/tokens"
	"github.com/iudanet/authgate/internal/validation"
	"github.com/iudanet/authgate/pkg/api"
)

// Коды ошибок в поле code ответа
const (
	CodeMissingToken       = "missing_token"
	CodeMalformedToken     = "malformed_token"
	CodeTokenExpired       = "token_expired"
	CodeRefreshNotFound    = "refresh_not_found"
	CodeRefreshInvalid     = "refresh_revoked_or_expired"
	CodeInvalidCredentials = "invalid_credentials"
	CodeInvalidEmail       = "invalid_email"
	CodeWeakPassword       = "weak_password"
	CodeInvalidDeviceID    = "invalid_device_id"
	CodeInvalidRequest     = "invalid_request"
	CodeEmailTaken         = "email_taken"
	CodeNotFound           = "not_found"
	CodeRateLimited        = "rate_limited"
	CodeInternal           = "internal_error"
)

var (
	// ErrBadRequest тело запроса не разбирается или не хватает полей
	ErrBadRequest = errors.New("invalid request")
	// ErrRateLimited превышен лимит запросов
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrNotFound ресурс не найден
	ErrNotFound = errors.New("not found")
)

// Problem результат классификации ошибки
type Problem struct {
	Message string
	Code    string
	Status  int
}

// Classify сопоставляет ошибку с HTTP статусом, кодом и безопасным сообщением
func Classify(err error) Problem {
	switch {
	case errors.Is(err, tokens.ErrMissingToken):
		return Problem{Status: http.StatusUnauthorized, Code: CodeMissingToken, Message: "access token is required"}
	case errors.Is(err, tokens.ErrTokenExpired):
		return Problem{Status: http.StatusUnauthorized, Code: CodeTokenExpired, Message: "access token expired"}
	case errors.Is(err, tokens.ErrMalformedToken):
		return Problem{Status: http.StatusUnauthorized, Code: CodeMalformedToken, Message: "invalid access token"}
	case errors.Is(err, ledger.ErrNotFound):
		return Problem{Status: http.StatusUnauthorized, Code: CodeRefreshNotFound, Message: "invalid refresh token"}
	case errors.Is(err, ledger.ErrRevokedOrExpired):
		return Problem{Status: http.StatusUnauthorized, Code: CodeRefreshInvalid, Message: "refresh token revoked or expired"}
	case errors.Is(err, credentials.ErrInvalidCredentials):
		return Problem{Status: http.StatusUnauthorized, Code: CodeInvalidCredentials, Message: "invalid credentials"}
	case errors.Is(err, validation.ErrInvalidEmail):
		return Problem{Status: http.StatusBadRequest, Code: CodeInvalidEmail, Message: err.Error()}
	case errors.Is(err, validation.ErrWeakPassword):
		return Problem{Status: http.StatusBadRequest, Code: CodeWeakPassword, Message: err.Error()}
	case errors.Is(err, validation.ErrInvalidDeviceID):
		return Problem{Status: http.StatusBadRequest, Code: CodeInvalidDeviceID, Message: err.Error()}
	case errors.Is(err, ErrBadRequest):
		return Problem{Status: http.StatusBadRequest, Code: CodeInvalidRequest, Message: err.Error()}
	case errors.Is(err, credentials.ErrEmailTaken):
		return Problem{Status: http.StatusConflict, Code: CodeEmailTaken, Message: "email already registered"}
	case errors.Is(err, credentials.ErrUserNotFound), errors.Is(err, ErrNotFound):
		return Problem{Status: http.StatusNotFound, Code: CodeNotFound, Message: "not found"}
	case errors.Is(err, ErrRateLimited):
		return Problem{Status: http.StatusTooManyRequests, Code: CodeRateLimited, Message: "rate limit exceeded"}
	default:
		return Problem{Status: http.StatusInternalServerError, Code: CodeInternal, Message: "internal server error"}
	}
}

// Write пишет ответ с ошибкой. Ошибки 5xx логируются с подробностями.
func Write(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	p := Classify(err)

	if p.Status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}

	WriteError(w, logger, p.Status, p.Code, p.Message)
}

// WriteError пишет api.ErrorResponse с заданным статусом
func WriteError(w http.ResponseWriter, logger *slog.Logger, status int, code, message string) {
	resp := api.ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    code,
	}
	WriteJSON(w, logger, resp, status)
}

// WriteJSON отправляет JSON ответ
func WriteJSON(w http.ResponseWriter, logger *slog.Logger, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", slog.Any("error", err))
	}
}
