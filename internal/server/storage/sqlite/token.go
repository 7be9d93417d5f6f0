package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iudanet/authgate/internal/models"
	"github.com/iudanet/authgate/internal/server/storage"
)

const tokenColumns = `id, user_id, token_hash, device_id, is_revoked, expires_at, created_at, last_used_at`

// SaveRefreshToken stores a new refresh token
func (s *Storage) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	return insertToken(ctx, s.db, token)
}

// GetRefreshToken retrieves refresh token by token hash
func (s *Storage) GetRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	return getTokenByHash(ctx, s.db, tokenHash)
}

// GetUserTokens retrieves all refresh tokens for a user
func (s *Storage) GetUserTokens(ctx context.Context, userID string) ([]*models.RefreshToken, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM refresh_tokens
		WHERE user_id = ?
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user tokens: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	tokens := []*models.RefreshToken{}

	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return tokens, nil
}

// TouchRefreshToken updates last_used_at of a token that is valid at now
func (s *Storage) TouchRefreshToken(ctx context.Context, tokenHash string, now time.Time) (*models.RefreshToken, error) {
	var token *models.RefreshToken

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			UPDATE refresh_tokens
			SET last_used_at = ?
			WHERE token_hash = ? AND is_revoked = 0 AND expires_at > ?
		`

		if err := execConditional(ctx, tx, tokenHash, query, toUnix(now), tokenHash, toUnix(now)); err != nil {
			return err
		}

		var err error
		token, err = getTokenByHash(ctx, tx, tokenHash)
		return err
	})
	if err != nil {
		return nil, err
	}

	return token, nil
}

// RotateRefreshToken revokes the old token and stores its successor in one transaction
func (s *Storage) RotateRefreshToken(ctx context.Context, oldHash string, next *models.RefreshToken, now time.Time) (*models.RefreshToken, error) {
	var old *models.RefreshToken

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		// Условное обновление: отзываем только действующий токен.
		// Вторая параллельная ротация того же токена не найдет подходящей строки.
		query := `
			UPDATE refresh_tokens
			SET is_revoked = 1, last_used_at = ?
			WHERE token_hash = ? AND is_revoked = 0 AND expires_at > ?
		`

		if err := execConditional(ctx, tx, oldHash, query, toUnix(now), oldHash, toUnix(now)); err != nil {
			return err
		}

		var err error
		old, err = getTokenByHash(ctx, tx, oldHash)
		if err != nil {
			return err
		}

		return insertToken(ctx, tx, next)
	})
	if err != nil {
		return nil, err
	}

	return old, nil
}

// RevokeRefreshToken marks refresh token revoked by token hash
func (s *Storage) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	query := `UPDATE refresh_tokens SET is_revoked = 1 WHERE token_hash = ?`

	result, err := s.db.ExecContext(ctx, query, tokenHash)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	return expectRows(result)
}

// RevokeUserToken marks refresh token revoked by id if it belongs to the user
func (s *Storage) RevokeUserToken(ctx context.Context, userID, tokenID string) error {
	query := `UPDATE refresh_tokens SET is_revoked = 1 WHERE id = ? AND user_id = ?`

	result, err := s.db.ExecContext(ctx, query, tokenID, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	return expectRows(result)
}

// RevokeUserTokens marks all refresh tokens of a user revoked
func (s *Storage) RevokeUserTokens(ctx context.Context, userID string) (int, error) {
	query := `UPDATE refresh_tokens SET is_revoked = 1 WHERE user_id = ? AND is_revoked = 0`

	result, err := s.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke user tokens: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rows), nil
}

// DeleteExpiredTokens removes tokens expired before the given moment
func (s *Storage) DeleteExpiredTokens(ctx context.Context, before time.Time) (int, error) {
	query := `DELETE FROM refresh_tokens WHERE expires_at < ?`

	result, err := s.db.ExecContext(ctx, query, toUnix(before))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rows), nil
}

func insertToken(ctx context.Context, q querier, token *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (` + tokenColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := q.ExecContext(ctx, query,
		token.ID,
		token.UserID,
		token.TokenHash,
		token.DeviceID,
		token.IsRevoked,
		toUnix(token.ExpiresAt),
		toUnix(token.CreatedAt),
		toUnix(token.LastUsedAt),
	)

	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrTokenAlreadyExists
		}
		return fmt.Errorf("failed to save refresh token: %w", err)
	}

	return nil
}

func getTokenByHash(ctx context.Context, q querier, tokenHash string) (*models.RefreshToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM refresh_tokens WHERE token_hash = ?`

	token, err := scanToken(q.QueryRowContext(ctx, query, tokenHash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	return token, nil
}

// execConditional выполняет UPDATE, ограниченный действующими токенами.
// Если ни одна строка не обновлена, различает "нет записи" и "отозван/истек".
func execConditional(ctx context.Context, q querier, tokenHash, query string, args ...any) error {
	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update refresh token: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows > 0 {
		return nil
	}

	var exists int
	err = q.QueryRowContext(ctx, `SELECT 1 FROM refresh_tokens WHERE token_hash = ?`, tokenHash).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrTokenNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get refresh token: %w", err)
	}

	return storage.ErrTokenInvalid
}

func expectRows(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return storage.ErrTokenNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*models.RefreshToken, error) {
	token := &models.RefreshToken{}
	var expiresAt, createdAt, lastUsedAt int64

	if err := row.Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.DeviceID,
		&token.IsRevoked,
		&expiresAt,
		&createdAt,
		&lastUsedAt,
	); err != nil {
		return nil, err
	}

	token.ExpiresAt = fromUnix(expiresAt)
	token.CreatedAt = fromUnix(createdAt)
	token.LastUsedAt = fromUnix(lastUsedAt)

	return token, nil
}
