package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/iudanet/authgate/internal/server/tokens"
)

// contextKey тип для ключей контекста
type contextKey string

// UserIDKey ключ для хранения user_id в контексте
const UserIDKey contextKey = "user_id"

// WithUserID возвращает контекст с user_id аутентифицированного пользователя
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID извлекает user_id из контекста запроса
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok && userID != ""
}

// BearerToken извлекает токен из заголовка Authorization: Bearer <token>
func BearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", tokens.ErrMissingToken
	}

	// Ожидаем формат: "Bearer <token>"
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", tokens.ErrMalformedToken
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", tokens.ErrMissingToken
	}

	return token, nil
}

// VerifyBearer извлекает и проверяет access token, возвращает user id
func VerifyBearer(r *http.Request, verifier tokens.Verifier) (string, error) {
	token, err := BearerToken(r)
	if err != nil {
		return "", err
	}
	return verifier.VerifyAccessToken(token)
}
