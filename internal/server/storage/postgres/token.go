package postgres

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
	query := `SELECT ` + tokenColumns + ` FROM refresh_tokens WHERE token_hash = $1`

	token, err := scanToken(s.db.QueryRowContext(ctx, query, tokenHash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	return token, nil
}

// GetUserTokens retrieves all refresh tokens for a user
func (s *Storage) GetUserTokens(ctx context.Context, userID string) ([]*models.RefreshToken, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM refresh_tokens
		WHERE user_id = $1
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
	query := `
		UPDATE refresh_tokens
		SET last_used_at = $1
		WHERE token_hash = $2 AND NOT is_revoked AND expires_at > $1
		RETURNING ` + tokenColumns

	var token *models.RefreshToken
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		token, err = updateReturning(ctx, tx, tokenHash, query, now.UTC(), tokenHash)
		return err
	})
	if err != nil {
		return nil, err
	}

	return token, nil
}

// RotateRefreshToken revokes the old token and stores its successor in one transaction.
// The conditional UPDATE takes a row lock, a concurrent rotation of the same token
// re-evaluates the predicate after commit and matches nothing.
func (s *Storage) RotateRefreshToken(ctx context.Context, oldHash string, next *models.RefreshToken, now time.Time) (*models.RefreshToken, error) {
	query := `
		UPDATE refresh_tokens
		SET is_revoked = TRUE, last_used_at = $1
		WHERE token_hash = $2 AND NOT is_revoked AND expires_at > $1
		RETURNING ` + tokenColumns

	var old *models.RefreshToken
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		old, err = updateReturning(ctx, tx, oldHash, query, now.UTC(), oldHash)
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
	result, err := s.db.ExecContext(ctx, `UPDATE refresh_tokens SET is_revoked = TRUE WHERE token_hash = $1`, tokenHash)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	return expectRows(result, storage.ErrTokenNotFound)
}

// RevokeUserToken marks refresh token revoked by id if it belongs to the user
func (s *Storage) RevokeUserToken(ctx context.Context, userID, tokenID string) error {
	query := `UPDATE refresh_tokens SET is_revoked = TRUE WHERE id = $1 AND user_id = $2`

	result, err := s.db.ExecContext(ctx, query, tokenID, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	return expectRows(result, storage.ErrTokenNotFound)
}

// RevokeUserTokens marks all refresh tokens of a user revoked
func (s *Storage) RevokeUserTokens(ctx context.Context, userID string) (int, error) {
	query := `UPDATE refresh_tokens SET is_revoked = TRUE WHERE user_id = $1 AND NOT is_revoked`

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
	result, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, before.UTC())
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := q.ExecContext(ctx, query,
		token.ID,
		token.UserID,
		token.TokenHash,
		token.DeviceID,
		token.IsRevoked,
		token.ExpiresAt.UTC(),
		token.CreatedAt.UTC(),
		token.LastUsedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrTokenAlreadyExists
		}
		return fmt.Errorf("failed to save refresh token: %w", err)
	}

	return nil
}

// updateReturning выполняет условный UPDATE ... RETURNING.
// Если строка не найдена, различает "нет записи" и "отозван/истек".
func updateReturning(ctx context.Context, q querier, tokenHash, query string, args ...any) (*models.RefreshToken, error) {
	token, err := scanToken(q.QueryRowContext(ctx, query, args...))
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to update refresh token: %w", err)
	}

	var exists int
	err = q.QueryRowContext(ctx, `SELECT 1 FROM refresh_tokens WHERE token_hash = $1`, tokenHash).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}

	return nil, storage.ErrTokenInvalid
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*models.RefreshToken, error) {
	token := &models.RefreshToken{}

	if err := row.Scan(
		&token.ID,
		&token.UserID,
		&token.TokenHash,
		&token.DeviceID,
		&token.IsRevoked,
		&token.ExpiresAt,
		&token.CreatedAt,
		&token.LastUsedAt,
	); err != nil {
		return nil, err
	}

	token.ExpiresAt = token.ExpiresAt.UTC()
	token.CreatedAt = token.CreatedAt.UTC()
	token.LastUsedAt = token.LastUsedAt.UTC()

	return token, nil
}
