package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/iudanet/authgate/internal/models"
	"github.com/iudanet/authgate/internal/server/storage"
)

// SaveRefreshToken stores a new refresh token
func (s *Storage) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return insertToken(tx, token)
	})
}

// GetRefreshToken retrieves refresh token by token hash
func (s *Storage) GetRefreshToken(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	var token *models.RefreshToken

	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		token, err = getToken(tx, []byte(tokenHash))
		return err
	})
	if err != nil {
		return nil, err
	}

	return token, nil
}

// GetUserTokens retrieves all refresh tokens for a user, newest first
func (s *Storage) GetUserTokens(ctx context.Context, userID string) ([]*models.RefreshToken, error) {
	tokens := []*models.RefreshToken{}

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTokens).ForEach(func(_, v []byte) error {
			token := &models.RefreshToken{}
			if err := json.Unmarshal(v, token); err != nil {
				return fmt.Errorf("failed to unmarshal refresh token: %w", err)
			}
			if token.UserID == userID {
				tokens = append(tokens, token)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].CreatedAt.After(tokens[j].CreatedAt)
	})

	return tokens, nil
}

// TouchRefreshToken updates last_used_at of a token that is valid at now
func (s *Storage) TouchRefreshToken(ctx context.Context, tokenHash string, now time.Time) (*models.RefreshToken, error) {
	var token *models.RefreshToken

	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		token, err = getValidToken(tx, tokenHash, now)
		if err != nil {
			return err
		}

		token.LastUsedAt = now.UTC()
		return putJSON(tx.Bucket(bucketTokens), []byte(tokenHash), token)
	})
	if err != nil {
		return nil, err
	}

	return token, nil
}

// RotateRefreshToken revokes the old token and stores its successor.
// bbolt allows one writer at a time, so the check and the update cannot interleave.
func (s *Storage) RotateRefreshToken(ctx context.Context, oldHash string, next *models.RefreshToken, now time.Time) (*models.RefreshToken, error) {
	var old *models.RefreshToken

	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		old, err = getValidToken(tx, oldHash, now)
		if err != nil {
			return err
		}

		old.IsRevoked = true
		old.LastUsedAt = now.UTC()
		if err := putJSON(tx.Bucket(bucketTokens), []byte(oldHash), old); err != nil {
			return err
		}

		return insertToken(tx, next)
	})
	if err != nil {
		return nil, err
	}

	return old, nil
}

// RevokeRefreshToken marks refresh token revoked by token hash
func (s *Storage) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		token, err := getToken(tx, []byte(tokenHash))
		if err != nil {
			return err
		}

		token.IsRevoked = true
		return putJSON(tx.Bucket(bucketTokens), []byte(tokenHash), token)
	})
}

// RevokeUserToken marks refresh token revoked by id if it belongs to the user
func (s *Storage) RevokeUserToken(ctx context.Context, userID, tokenID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		ref := tx.Bucket(bucketTokenIDs).Get([]byte(tokenID))
		if ref == nil {
			return storage.ErrTokenNotFound
		}
		// значение из Get живет только до изменения bucket
		hash := append([]byte(nil), ref...)

		token, err := getToken(tx, hash)
		if err != nil {
			return err
		}
		if token.UserID != userID {
			return storage.ErrTokenNotFound
		}

		token.IsRevoked = true
		return putJSON(tx.Bucket(bucketTokens), hash, token)
	})
}

// RevokeUserTokens marks all refresh tokens of a user revoked
func (s *Storage) RevokeUserTokens(ctx context.Context, userID string) (int, error) {
	count := 0

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketTokens)
		updated := map[string]*models.RefreshToken{}

		err := bucket.ForEach(func(k, v []byte) error {
			token := &models.RefreshToken{}
			if err := json.Unmarshal(v, token); err != nil {
				return fmt.Errorf("failed to unmarshal refresh token: %w", err)
			}
			if token.UserID == userID && !token.IsRevoked {
				token.IsRevoked = true
				updated[string(k)] = token
			}
			return nil
		})
		if err != nil {
			return err
		}

		// Изменять bucket внутри ForEach нельзя
		for hash, token := range updated {
			if err := putJSON(bucket, []byte(hash), token); err != nil {
				return err
			}
		}
		count = len(updated)

		return nil
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

// DeleteExpiredTokens removes tokens expired before the given moment
func (s *Storage) DeleteExpiredTokens(ctx context.Context, before time.Time) (int, error) {
	count := 0

	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		count, err = deleteTokens(tx, func(t *models.RefreshToken) bool {
			return t.ExpiresAt.Before(before)
		})
		return err
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

func insertToken(tx *bbolt.Tx, token *models.RefreshToken) error {
	tokens := tx.Bucket(bucketTokens)
	ids := tx.Bucket(bucketTokenIDs)

	if tokens.Get([]byte(token.TokenHash)) != nil || ids.Get([]byte(token.ID)) != nil {
		return storage.ErrTokenAlreadyExists
	}

	if err := putJSON(tokens, []byte(token.TokenHash), token); err != nil {
		return err
	}

	return ids.Put([]byte(token.ID), []byte(token.TokenHash))
}

func getToken(tx *bbolt.Tx, hash []byte) (*models.RefreshToken, error) {
	data := tx.Bucket(bucketTokens).Get(hash)
	if data == nil {
		return nil, storage.ErrTokenNotFound
	}

	token := &models.RefreshToken{}
	if err := json.Unmarshal(data, token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal refresh token: %w", err)
	}

	return token, nil
}

func getValidToken(tx *bbolt.Tx, tokenHash string, now time.Time) (*models.RefreshToken, error) {
	token, err := getToken(tx, []byte(tokenHash))
	if err != nil {
		return nil, err
	}

	if !token.IsValid(now) {
		return nil, storage.ErrTokenInvalid
	}

	return token, nil
}

// deleteTokens удаляет токены, для которых match возвращает true, вместе с индексом по id
func deleteTokens(tx *bbolt.Tx, match func(*models.RefreshToken) bool) (int, error) {
	tokens := tx.Bucket(bucketTokens)
	ids := tx.Bucket(bucketTokenIDs)

	var victims []*models.RefreshToken
	err := tokens.ForEach(func(_, v []byte) error {
		token := &models.RefreshToken{}
		if err := json.Unmarshal(v, token); err != nil {
			return fmt.Errorf("failed to unmarshal refresh token: %w", err)
		}
		if match(token) {
			victims = append(victims, token)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, token := range victims {
		if err := tokens.Delete([]byte(token.TokenHash)); err != nil {
			return 0, fmt.Errorf("failed to delete refresh token: %w", err)
		}
		if err := ids.Delete([]byte(token.ID)); err != nil {
			return 0, fmt.Errorf("failed to delete refresh token index: %w", err)
		}
	}

	return len(victims), nil
}
