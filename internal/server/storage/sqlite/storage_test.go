package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/authgate/internal/crypto"
	"github.com/iudanet/authgate/internal/models"
)

func setupTestStorage(t *testing.T) (*Storage, func()) {
	ctx := context.Background()

	// Используем in-memory database для тестов
	storage, err := New(ctx, ":memory:")
	require.NoError(t, err)

	cleanup := func() {
		_ = storage.Close()
	}

	return storage, cleanup
}

func createTestUser(t *testing.T, ctx context.Context, s *Storage) string {
	userID := uuid.New().String()
	now := time.Now()
	user := &models.User{
		ID:           userID,
		Email:        "user_" + userID[:8] + "@example.com",
		PasswordHash: "hash",
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := s.CreateUser(ctx, user)
	require.NoError(t, err)

	return userID
}

func newTestToken(userID, secret string, expiresAt time.Time) *models.RefreshToken {
	now := time.Now()
	return &models.RefreshToken{
		ID:         uuid.New().String(),
		UserID:     userID,
		TokenHash:  crypto.HashRefreshToken(secret),
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
		LastUsedAt: now,
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func TestNew_FileDatabase(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "authgate.db")

	s, err := New(ctx, dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Close())

	// Повторное открытие не должно падать на уже примененных миграциях
	s, err = New(ctx, dbPath)
	require.NoError(t, err)
	defer s.Close()

	assert.NotNil(t, s.db)
}

func TestNew_PragmasOnEveryConnection(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, filepath.Join(t.TempDir(), "pragmas.db"))
	require.NoError(t, err)
	defer s.Close()

	// Закрываем простаивающее соединение, следующий запрос откроет новое
	s.db.SetMaxIdleConns(0)
	require.NoError(t, s.Ping(ctx))
	s.db.SetMaxIdleConns(1)

	var foreignKeys int
	require.NoError(t, s.db.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&foreignKeys))
	assert.Equal(t, 1, foreignKeys)

	var busyTimeout int
	require.NoError(t, s.db.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	var journalMode string
	require.NoError(t, s.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)
}

func TestWithPragmas(t *testing.T) {
	tests := []struct {
		name   string
		dbPath string
		prefix string
	}{
		{name: "plain path", dbPath: "/var/lib/authgate.db", prefix: "/var/lib/authgate.db?_pragma="},
		{name: "memory", dbPath: ":memory:", prefix: ":memory:?_pragma="},
		{name: "existing query", dbPath: "file:authgate.db?mode=rwc", prefix: "file:authgate.db?mode=rwc&_pragma="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn := withPragmas(tt.dbPath)
			assert.True(t, strings.HasPrefix(dsn, tt.prefix), dsn)
			assert.Contains(t, dsn, "_pragma=foreign_keys(1)")
			assert.Contains(t, dsn, "_pragma=busy_timeout(5000)")
		})
	}
}
