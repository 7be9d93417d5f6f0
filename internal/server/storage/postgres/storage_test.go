package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/authgate/internal/models"
	"github.com/iudanet/authgate/internal/server/storage"
)

var (
	userCols  = []string{"id", "email", "password_hash", "display_name", "timezone", "created_at", "updated_at", "last_login"}
	tokenCols = []string{"id", "user_id", "token_hash", "device_id", "is_revoked", "expires_at", "created_at", "last_used_at"}
)

func newStorageWithMock(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp),
		sqlmock.MonitorPingsOption(true),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	return NewWithDB(db), mock
}

func TestStorage_Ping(t *testing.T) {
	s, mock := newStorageWithMock(t)

	mock.ExpectPing()
	require.NoError(t, s.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	assert.Error(t, s.Ping(context.Background()))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_CreateUser(t *testing.T) {
	now := time.Now()
	user := &models.User{
		ID:           "u-1",
		Email:        "alice@example.com",
		PasswordHash: "hash",
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	t.Run("success", func(t *testing.T) {
		s, mock := newStorageWithMock(t)
		mock.ExpectExec(`INSERT INTO users`).
			WithArgs("u-1", "alice@example.com", "hash", "", "", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.CreateUser(context.Background(), user))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate email", func(t *testing.T) {
		s, mock := newStorageWithMock(t)
		mock.ExpectExec(`INSERT INTO users`).
			WillReturnError(&pgconn.PgError{Code: uniqueViolation})

		err := s.CreateUser(context.Background(), user)
		assert.ErrorIs(t, err, storage.ErrUserAlreadyExists)
	})

	t.Run("db error", func(t *testing.T) {
		s, mock := newStorageWithMock(t)
		mock.ExpectExec(`INSERT INTO users`).
			WillReturnError(errors.New("db down"))

		err := s.CreateUser(context.Background(), user)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "db down")
		assert.NotErrorIs(t, err, storage.ErrUserAlreadyExists)
	})
}

func TestStorage_GetUserByEmail(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		s, mock := newStorageWithMock(t)
		rows := sqlmock.NewRows(userCols).
			AddRow("u-1", "alice@example.com", "hash", "Alice", "UTC", now, now, now)
		mock.ExpectQuery(`SELECT .* FROM users WHERE email = `).
			WithArgs("alice@example.com").
			WillReturnRows(rows)

		user, err := s.GetUserByEmail(context.Background(), "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, "u-1", user.ID)
		assert.Equal(t, "Alice", user.DisplayName)
		require.NotNil(t, user.LastLogin)
		assert.True(t, now.Equal(*user.LastLogin))
	})

	t.Run("not found", func(t *testing.T) {
		s, mock := newStorageWithMock(t)
		mock.ExpectQuery(`SELECT .* FROM users WHERE email = `).
			WithArgs("ghost@example.com").
			WillReturnError(sql.ErrNoRows)

		_, err := s.GetUserByEmail(context.Background(), "ghost@example.com")
		assert.ErrorIs(t, err, storage.ErrUserNotFound)
	})
}

func TestStorage_DeleteUser(t *testing.T) {
	s, mock := newStorageWithMock(t)

	mock.ExpectExec(`DELETE FROM users WHERE id = `).
		WithArgs("u-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM users WHERE id = `).
		WithArgs("u-2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.DeleteUser(context.Background(), "u-1"))
	assert.ErrorIs(t, s.DeleteUser(context.Background(), "u-2"), storage.ErrUserNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_RotateRefreshToken(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	next := &models.RefreshToken{
		ID:         "t-2",
		UserID:     "u-1",
		TokenHash:  "hash-2",
		ExpiresAt:  now.Add(time.Hour),
		CreatedAt:  now,
		LastUsedAt: now,
	}

	t.Run("success", func(t *testing.T) {
		s, mock := newStorageWithMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`UPDATE refresh_tokens SET is_revoked = TRUE`).
			WithArgs(now, "hash-1").
			WillReturnRows(sqlmock.NewRows(tokenCols).
				AddRow("t-1", "u-1", "hash-1", "phone", true, now.Add(time.Hour), now, now))
		mock.ExpectExec(`INSERT INTO refresh_tokens`).
			WithArgs("t-2", "u-1", "hash-2", "", false, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		old, err := s.RotateRefreshToken(context.Background(), "hash-1", next, now)
		require.NoError(t, err)
		assert.Equal(t, "t-1", old.ID)
		assert.Equal(t, "phone", old.DeviceID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("revoked or expired", func(t *testing.T) {
		s, mock := newStorageWithMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`UPDATE refresh_tokens SET is_revoked = TRUE`).
			WillReturnRows(sqlmock.NewRows(tokenCols))
		mock.ExpectQuery(`SELECT 1 FROM refresh_tokens`).
			WithArgs("hash-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(1))
		mock.ExpectRollback()

		_, err := s.RotateRefreshToken(context.Background(), "hash-1", next, now)
		assert.ErrorIs(t, err, storage.ErrTokenInvalid)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown token", func(t *testing.T) {
		s, mock := newStorageWithMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`UPDATE refresh_tokens SET is_revoked = TRUE`).
			WillReturnRows(sqlmock.NewRows(tokenCols))
		mock.ExpectQuery(`SELECT 1 FROM refresh_tokens`).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}))
		mock.ExpectRollback()

		_, err := s.RotateRefreshToken(context.Background(), "hash-1", next, now)
		assert.ErrorIs(t, err, storage.ErrTokenNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert conflict rolls back", func(t *testing.T) {
		s, mock := newStorageWithMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`UPDATE refresh_tokens SET is_revoked = TRUE`).
			WillReturnRows(sqlmock.NewRows(tokenCols).
				AddRow("t-1", "u-1", "hash-1", "", true, now.Add(time.Hour), now, now))
		mock.ExpectExec(`INSERT INTO refresh_tokens`).
			WillReturnError(&pgconn.PgError{Code: uniqueViolation})
		mock.ExpectRollback()

		_, err := s.RotateRefreshToken(context.Background(), "hash-1", next, now)
		assert.ErrorIs(t, err, storage.ErrTokenAlreadyExists)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStorage_TouchRefreshToken(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s, mock := newStorageWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE refresh_tokens SET last_used_at`).
		WithArgs(now, "hash-1").
		WillReturnRows(sqlmock.NewRows(tokenCols).
			AddRow("t-1", "u-1", "hash-1", "", false, now.Add(time.Hour), now.Add(-time.Hour), now))
	mock.ExpectCommit()

	token, err := s.TouchRefreshToken(context.Background(), "hash-1", now)
	require.NoError(t, err)
	assert.True(t, now.Equal(token.LastUsedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_RevokeUserTokens(t *testing.T) {
	s, mock := newStorageWithMock(t)

	mock.ExpectExec(`UPDATE refresh_tokens SET is_revoked = TRUE WHERE user_id = `).
		WithArgs("u-1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	count, err := s.RevokeUserTokens(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestStorage_RevokeUserToken(t *testing.T) {
	s, mock := newStorageWithMock(t)

	mock.ExpectExec(`UPDATE refresh_tokens SET is_revoked = TRUE WHERE id = `).
		WithArgs("t-9", "u-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.RevokeUserToken(context.Background(), "u-1", "t-9")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestStorage_GetUserTokens(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s, mock := newStorageWithMock(t)

	mock.ExpectQuery(`SELECT .* FROM refresh_tokens WHERE user_id = `).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows(tokenCols).
			AddRow("t-1", "u-1", "hash-1", "laptop", false, now.Add(time.Hour), now, now).
			AddRow("t-2", "u-1", "hash-2", "phone", true, now.Add(time.Hour), now, now))

	tokens, err := s.GetUserTokens(context.Background(), "u-1")
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, "laptop", tokens[0].DeviceID)
	assert.True(t, tokens[1].IsRevoked)
}

func TestStorage_DeleteExpiredTokens(t *testing.T) {
	before := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, mock := newStorageWithMock(t)

	mock.ExpectExec(`DELETE FROM refresh_tokens WHERE expires_at < `).
		WithArgs(before).
		WillReturnResult(sqlmock.NewResult(0, 5))

	deleted, err := s.DeleteExpiredTokens(context.Background(), before)
	require.NoError(t, err)
	assert.Equal(t, 5, deleted)
}
