package api

import "time"

// SessionResponse одна активная сессия (устройство)
type SessionResponse struct {
	CreatedAt  time.Time `json:"createdAt"`
	LastUsedAt time.Time `json:"lastUsedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	ID         string    `json:"id"`
	DeviceID   string    `json:"deviceId,omitempty"`
}

// SessionsResponse список активных сессий пользователя
type SessionsResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

// HealthResponse ответ health check
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Storage string `json:"storage,omitempty"` // состояние хранилища: ok или unavailable
}
