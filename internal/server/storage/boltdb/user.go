package boltdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/iudanet/authgate/internal/models"
	"github.com/iudanet/authgate/internal/server/storage"
)

// CreateUser stores a new user and its email index
func (s *Storage) CreateUser(ctx context.Context, user *models.User) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		users := tx.Bucket(bucketUsers)
		byEmail := tx.Bucket(bucketUsersByEmail)

		if byEmail.Get([]byte(user.Email)) != nil || users.Get([]byte(user.ID)) != nil {
			return storage.ErrUserAlreadyExists
		}

		if err := putJSON(users, []byte(user.ID), user); err != nil {
			return err
		}

		return byEmail.Put([]byte(user.Email), []byte(user.ID))
	})
}

// GetUserByEmail retrieves user by email
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user *models.User

	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketUsersByEmail).Get([]byte(email))
		if id == nil {
			return storage.ErrUserNotFound
		}

		var err error
		user, err = getUser(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	return user, nil
}

// GetUserByID retrieves user by ID
func (s *Storage) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	var user *models.User

	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		user, err = getUser(tx, []byte(userID))
		return err
	})
	if err != nil {
		return nil, err
	}

	return user, nil
}

// DeleteUser deletes the user together with all refresh tokens
func (s *Storage) DeleteUser(ctx context.Context, userID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		user, err := getUser(tx, []byte(userID))
		if err != nil {
			return err
		}

		if err := tx.Bucket(bucketUsersByEmail).Delete([]byte(user.Email)); err != nil {
			return fmt.Errorf("failed to delete email index: %w", err)
		}

		if err := tx.Bucket(bucketUsers).Delete([]byte(userID)); err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}

		_, err = deleteTokens(tx, func(t *models.RefreshToken) bool {
			return t.UserID == userID
		})
		return err
	})
}

// UpdateLastLogin updates the last login timestamp
func (s *Storage) UpdateLastLogin(ctx context.Context, userID string, lastLogin time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		user, err := getUser(tx, []byte(userID))
		if err != nil {
			return err
		}

		login := lastLogin.UTC()
		user.LastLogin = &login
		user.UpdatedAt = login

		return putJSON(tx.Bucket(bucketUsers), []byte(userID), user)
	})
}

func getUser(tx *bbolt.Tx, id []byte) (*models.User, error) {
	data := tx.Bucket(bucketUsers).Get(id)
	if data == nil {
		return nil, storage.ErrUserNotFound
	}

	user := &models.User{}
	if err := json.Unmarshal(data, user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}

	return user, nil
}
