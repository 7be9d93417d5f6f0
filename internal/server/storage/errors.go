package storage

import "errors"

// Common storage errors
var (
	// ErrUserNotFound indicates that user was not found in storage
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists indicates that user with this email already exists
	ErrUserAlreadyExists = errors.New("user already exists")

	// ErrTokenNotFound indicates that refresh token was not found
	ErrTokenNotFound = errors.New("refresh token not found")

	// ErrTokenInvalid indicates that refresh token exists but is revoked or expired
	ErrTokenInvalid = errors.New("refresh token revoked or expired")

	// ErrTokenAlreadyExists indicates a refresh token hash or id collision
	ErrTokenAlreadyExists = errors.New("refresh token already exists")
)
