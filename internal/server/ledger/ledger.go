// Package ledger управляет жизненным циклом refresh token: выдача, обмен
// (с ротацией), отзыв одного устройства и всех устройств пользователя.
//
// Сырой секрет возвращается клиенту один раз и нигде не хранится,
// в storage попадает только его SHA-256 хеш.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/authgate/internal/crypto"
	"github.com/iudanet/authgate/internal/models"
	"github.com/iudanet/authgate/internal/server/storage"
)

// DefaultTTL время жизни refresh token по умолчанию
const DefaultTTL = 30 * 24 * time.Hour

var (
	// ErrNotFound нет записи для хеша предъявленного секрета
	ErrNotFound = errors.New("refresh token not found")
	// ErrRevokedOrExpired запись есть, но отозвана или истекла.
	// Причины намеренно не различаются.
	ErrRevokedOrExpired = errors.New("refresh token revoked or expired")
)

// SecretSource генерирует сырые refresh секреты
type SecretSource interface {
	IssueRefreshSecret() (string, error)
}

// RotateResult результат успешного обмена refresh token
type RotateResult struct {
	ExpiresAt time.Time // срок действия действующего refresh token
	UserID    string
	DeviceID  string
	// RefreshToken новый сырой секрет, пустой если ротация выключена
	RefreshToken string
}

// Ledger хранит refresh tokens поверх storage.TokenStorage
type Ledger struct {
	store   storage.TokenStorage
	secrets SecretSource
	logger  *slog.Logger
	now     func() time.Time
	ttl     time.Duration
	rotate  bool
}

// Option настраивает Ledger
type Option func(*Ledger)

// WithTTL задает время жизни новых refresh tokens
func WithTTL(ttl time.Duration) Option {
	return func(l *Ledger) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithClock подменяет источник текущего времени
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// WithRotation включает или выключает ротацию при обмене
func WithRotation(enabled bool) Option {
	return func(l *Ledger) {
		l.rotate = enabled
	}
}

// New создает Ledger
func New(store storage.TokenStorage, secrets SecretSource, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		store:   store,
		secrets: secrets,
		logger:  logger,
		now:     time.Now,
		ttl:     DefaultTTL,
		rotate:  true,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// HashSecret возвращает hex SHA-256 от сырого секрета
func HashSecret(raw string) string {
	return crypto.HashRefreshToken(raw)
}

// CreateForUser сохраняет запись для уже сгенерированного секрета
func (l *Ledger) CreateForUser(ctx context.Context, userID, rawSecret, deviceID string, ttl time.Duration) (*models.RefreshToken, error) {
	rec := l.newRecord(userID, rawSecret, deviceID, ttl)

	if err := l.store.SaveRefreshToken(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to save refresh token: %w", err)
	}

	return rec, nil
}

// Issue генерирует новый секрет и сохраняет его запись с TTL по умолчанию
func (l *Ledger) Issue(ctx context.Context, userID, deviceID string) (string, *models.RefreshToken, error) {
	raw, err := l.secrets.IssueRefreshSecret()
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	rec, err := l.CreateForUser(ctx, userID, raw, deviceID, l.ttl)
	if err != nil {
		return "", nil, err
	}

	return raw, rec, nil
}

// ValidateAndRotate обменивает действующий секрет.
// С ротацией старая запись отзывается и новая создается в одной транзакции storage,
// без ротации обновляется только last_used_at.
func (l *Ledger) ValidateAndRotate(ctx context.Context, rawSecret string) (*RotateResult, error) {
	hash := HashSecret(rawSecret)
	now := l.now()

	if !l.rotate {
		rec, err := l.store.TouchRefreshToken(ctx, hash, now)
		if err != nil {
			return nil, mapStorageError(err)
		}

		return &RotateResult{
			UserID:    rec.UserID,
			DeviceID:  rec.DeviceID,
			ExpiresAt: rec.ExpiresAt,
		}, nil
	}

	// Владелец и устройство нужны до транзакции, чтобы собрать новую запись
	current, err := l.store.GetRefreshToken(ctx, hash)
	if err != nil {
		return nil, mapStorageError(err)
	}
	if !current.IsValid(now) {
		return nil, ErrRevokedOrExpired
	}

	raw, err := l.secrets.IssueRefreshSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	next := l.newRecord(current.UserID, raw, current.DeviceID, l.ttl)

	// Повторная проверка валидности выполняется атомарно внутри storage:
	// из двух параллельных обменов одного секрета успешен только один
	if _, err := l.store.RotateRefreshToken(ctx, hash, next, now); err != nil {
		return nil, mapStorageError(err)
	}

	l.logger.DebugContext(ctx, "refresh token rotated",
		slog.String("user_id", next.UserID),
		slog.String("old_token_id", current.ID),
		slog.String("new_token_id", next.ID))

	return &RotateResult{
		UserID:       next.UserID,
		DeviceID:     next.DeviceID,
		RefreshToken: raw,
		ExpiresAt:    next.ExpiresAt,
	}, nil
}

// Revoke отзывает запись, соответствующую секрету (выход с одного устройства)
func (l *Ledger) Revoke(ctx context.Context, rawSecret string) error {
	if err := l.store.RevokeRefreshToken(ctx, HashSecret(rawSecret)); err != nil {
		return mapStorageError(err)
	}
	return nil
}

// RevokeAllForUser отзывает все записи пользователя и возвращает число отозванных
func (l *Ledger) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	count, err := l.store.RevokeUserTokens(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke user tokens: %w", err)
	}

	l.logger.InfoContext(ctx, "all refresh tokens revoked",
		slog.String("user_id", userID),
		slog.Int("revoked", count))

	return count, nil
}

// Sessions возвращает действующие сессии пользователя, новые первыми
func (l *Ledger) Sessions(ctx context.Context, userID string) ([]models.Session, error) {
	tokens, err := l.store.GetUserTokens(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user tokens: %w", err)
	}

	now := l.now()
	sessions := make([]models.Session, 0, len(tokens))
	for _, t := range tokens {
		if t.IsValid(now) {
			sessions = append(sessions, models.SessionFromToken(t))
		}
	}

	return sessions, nil
}

// RevokeSession отзывает сессию по id, только если она принадлежит пользователю
func (l *Ledger) RevokeSession(ctx context.Context, userID, sessionID string) error {
	if err := l.store.RevokeUserToken(ctx, userID, sessionID); err != nil {
		return mapStorageError(err)
	}
	return nil
}

// Prune удаляет записи, истекшие раньше чем olderThan назад
func (l *Ledger) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	before := l.now().Add(-olderThan)

	count, err := l.store.DeleteExpiredTokens(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune refresh tokens: %w", err)
	}

	l.logger.InfoContext(ctx, "expired refresh tokens pruned",
		slog.Time("before", before),
		slog.Int("deleted", count))

	return count, nil
}

func (l *Ledger) newRecord(userID, rawSecret, deviceID string, ttl time.Duration) *models.RefreshToken {
	now := l.now()
	return &models.RefreshToken{
		ID:         uuid.New().String(),
		UserID:     userID,
		TokenHash:  HashSecret(rawSecret),
		DeviceID:   deviceID,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
		LastUsedAt: now,
	}
}

func mapStorageError(err error) error {
	switch {
	case errors.Is(err, storage.ErrTokenNotFound):
		return ErrNotFound
	case errors.Is(err, storage.ErrTokenInvalid):
		return ErrRevokedOrExpired
	default:
		return fmt.Errorf("refresh token storage: %w", err)
	}
}
