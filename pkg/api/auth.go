// Package api содержит JSON структуры запросов и ответов HTTP API
package api

import "time"

// RegisterRequest представляет запрос на регистрацию нового пользователя
type RegisterRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName,omitempty"`
	Timezone    string `json:"timezone,omitempty"` // IANA timezone
	DeviceID    string `json:"deviceId,omitempty"`
}

// LoginRequest представляет запрос на аутентификацию
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	DeviceID string `json:"deviceId,omitempty"` // идентификатор устройства для device logout
}

// RefreshRequest представляет запрос на обмен refresh token
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// LogoutRequest представляет запрос на выход.
// При AllDevices=true нужен валидный access token в Authorization.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken,omitempty"`
	AllDevices   bool   `json:"allDevices"`
}

// UserResponse публичное представление учетной записи
type UserResponse struct {
	CreatedAt   time.Time  `json:"createdAt"`
	LastLogin   *time.Time `json:"lastLogin,omitempty"`
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	DisplayName string     `json:"displayName,omitempty"`
	Timezone    string     `json:"timezone,omitempty"`
}

// AuthResponse ответ на успешную регистрацию или вход
type AuthResponse struct {
	User         UserResponse `json:"user"`
	AccessToken  string       `json:"accessToken"`  // JWT access token
	RefreshToken string       `json:"refreshToken"` // сырой refresh token, показывается один раз
	ExpiresIn    int64        `json:"expiresIn"`    // время жизни access token в секундах
}

// RefreshResponse ответ на обмен refresh token.
// RefreshToken пустой, если ротация выключена и клиент продолжает использовать старый.
type RefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`             // текст HTTP статуса
	Message string `json:"message,omitempty"` // дополнительное сообщение
	Code    string `json:"code,omitempty"`    // машиночитаемый код, например token_expired
}
