package storage

import (
	"context"
	"time"

	"github.com/iudanet/authgate/internal/models"
)

// TokenStorage defines interface for refresh token persistence.
// Records are looked up by the SHA-256 hash of the raw secret; the raw secret never reaches storage.
type TokenStorage interface {
	// SaveRefreshToken stores a new refresh token record
	// Returns ErrTokenAlreadyExists on hash or id collision
	SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error

	// GetRefreshToken retrieves refresh token by token hash
	// Returns ErrTokenNotFound if token doesn't exist
	GetRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error)

	// GetUserTokens retrieves all refresh tokens for a user, newest first
	// Returns empty slice if no tokens found
	GetUserTokens(ctx context.Context, userID string) ([]*models.RefreshToken, error)

	// TouchRefreshToken sets last_used_at on a token that is valid at now
	// Returns ErrTokenNotFound or ErrTokenInvalid; nothing is written in both cases
	TouchRefreshToken(ctx context.Context, tokenHash string, now time.Time) (*models.RefreshToken, error)

	// RotateRefreshToken atomically revokes the token identified by oldHash
	// (only if it is valid at now) and stores next.
	// Returns the revoked record, or ErrTokenNotFound / ErrTokenInvalid with nothing written.
	RotateRefreshToken(ctx context.Context, oldHash string, next *models.RefreshToken, now time.Time) (*models.RefreshToken, error)

	// RevokeRefreshToken marks the token revoked
	// Returns ErrTokenNotFound if token doesn't exist
	RevokeRefreshToken(ctx context.Context, tokenHash string) error

	// RevokeUserToken marks the token with given id revoked if it belongs to userID
	// Returns ErrTokenNotFound if there is no such token for this user
	RevokeUserToken(ctx context.Context, userID, tokenID string) error

	// RevokeUserTokens marks all tokens of a user revoked
	// Returns number of tokens revoked by this call
	RevokeUserTokens(ctx context.Context, userID string) (int, error)

	// DeleteExpiredTokens removes tokens that expired before the given moment
	// Returns number of deleted tokens
	DeleteExpiredTokens(ctx context.Context, before time.Time) (int, error)
}
