// Package credentials проверяет пароли и создает учетные записи поверх storage.UserStorage
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iudanet/authgate/internal/crypto"
	"github.com/iudanet/authgate/internal/models"
	"github.com/iudanet/authgate/internal/server/storage"
	"github.com/iudanet/authgate/internal/validation"
)

var (
	// ErrInvalidCredentials неизвестный email или неверный пароль
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailTaken email уже зарегистрирован
	ErrEmailTaken = errors.New("email already registered")
	// ErrUserNotFound учетная запись не найдена
	ErrUserNotFound = errors.New("user not found")
)

// dummyPassword хешируется один раз и используется для сравнения,
// когда email не найден, чтобы время ответа не выдавало существование учетной записи
const dummyPassword = "authgate-dummy-password-0"

// NewIdentity данные для создания учетной записи
type NewIdentity struct {
	Email       string
	Password    string
	DisplayName string
	Timezone    string
}

// Store реализует проверку и создание учетных записей
type Store struct {
	users     storage.UserStorage
	logger    *slog.Logger
	now       func() time.Time
	dummyHash string
	dummyErr  error
	dummyOnce sync.Once
	cost      int
}

// New создает Store. cost 0 означает bcrypt.DefaultCost.
func New(users storage.UserStorage, cost int, logger *slog.Logger) *Store {
	return &Store{
		users:  users,
		cost:   cost,
		logger: logger,
		now:    time.Now,
	}
}

// Create проверяет данные, хеширует пароль и сохраняет учетную запись
func (s *Store) Create(ctx context.Context, identity NewIdentity) (*models.User, error) {
	email := validation.NormalizeEmail(identity.Email)
	if err := validation.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := validation.ValidatePassword(identity.Password); err != nil {
		return nil, err
	}

	hash, err := crypto.HashPassword(identity.Password, s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now().UTC()
	user := &models.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: hash,
		DisplayName:  strings.TrimSpace(identity.DisplayName),
		Timezone:     strings.TrimSpace(identity.Timezone),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrUserAlreadyExists) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// Verify возвращает учетную запись, если пароль совпадает.
// Для неизвестного email тоже выполняется bcrypt сравнение.
func (s *Store) Verify(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.users.GetUserByEmail(ctx, validation.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			s.spendDummyCompare(password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if err := crypto.VerifyPassword(password, user.PasswordHash); err != nil {
		if errors.Is(err, crypto.ErrPasswordMismatch) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}

	now := s.now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		// Не критичная ошибка, логируем но не прерываем
		s.logger.WarnContext(ctx, "failed to update last login",
			slog.String("user_id", user.ID),
			slog.Any("error", err))
	} else {
		user.LastLogin = &now
	}

	return user, nil
}

// Get возвращает учетную запись по id
func (s *Store) Get(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// Delete удаляет учетную запись
func (s *Store) Delete(ctx context.Context, userID string) error {
	if err := s.users.DeleteUser(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

func (s *Store) spendDummyCompare(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, s.dummyErr = crypto.HashPassword(dummyPassword, s.cost)
	})
	if s.dummyErr != nil {
		return
	}
	_ = crypto.VerifyPassword(password, s.dummyHash)
}
