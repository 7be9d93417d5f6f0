package models

import "time"

// User представляет учетную запись (identity) в системе
type User struct {
	CreatedAt    time.Time  `json:"created_at"`           // время создания
	UpdatedAt    time.Time  `json:"updated_at"`           // время последнего обновления
	LastLogin    *time.Time `json:"last_login,omitempty"` // время последнего входа
	ID           string     `json:"id"`                   // UUID пользователя
	Email        string     `json:"email"`                // уникальный email (lower case)
	PasswordHash string     `json:"password_hash"`        // bcrypt хеш пароля
	DisplayName  string     `json:"display_name,omitempty"`
	Timezone     string     `json:"timezone,omitempty"` // IANA timezone, например Europe/Moscow
}

// RefreshToken представляет серверную запись о refresh token.
// Сам секрет хранится только у клиента, в базе лежит его SHA-256 хеш.
type RefreshToken struct {
	ExpiresAt  time.Time `json:"expires_at"`   // время истечения
	CreatedAt  time.Time `json:"created_at"`   // время создания
	LastUsedAt time.Time `json:"last_used_at"` // время последнего обмена на access token
	ID         string    `json:"id"`           // UUID записи
	UserID     string    `json:"user_id"`      // ID владельца
	TokenHash  string    `json:"token_hash"`   // hex SHA-256 от сырого секрета
	DeviceID   string    `json:"device_id,omitempty"`
	IsRevoked  bool      `json:"is_revoked"`
}

// IsValid сообщает, можно ли обменять токен на новый access token в момент now.
// Токен с expires_at == now уже недействителен.
func (t *RefreshToken) IsValid(now time.Time) bool {
	return !t.IsRevoked && t.ExpiresAt.After(now)
}

// Session описывает активную сессию (устройство) пользователя без секретных данных
type Session struct {
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id,omitempty"`
}

// SessionFromToken строит Session из записи refresh token
func SessionFromToken(t *RefreshToken) Session {
	return Session{
		ID:         t.ID,
		DeviceID:   t.DeviceID,
		CreatedAt:  t.CreatedAt,
		LastUsedAt: t.LastUsedAt,
		ExpiresAt:  t.ExpiresAt,
	}
}
